package sqlgen

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/nevindra/comprice"
)

// ScanRows reads every row of rows into comprice.Row values keyed by cols,
// normalising driver types per schema. rows is not closed.
func ScanRows(rows *sql.Rows, schema *comprice.TableSchema, cols []string) ([]comprice.Row, error) {
	var out []comprice.Row
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, MakeRow(schema, cols, vals))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// MakeRow builds a Row from positional values.
func MakeRow(schema *comprice.TableSchema, cols []string, vals []any) comprice.Row {
	row := make(comprice.Row, len(cols))
	for i, name := range cols {
		c, _ := schema.Column(name)
		row[name] = Normalize(c.Type, vals[i])
	}
	return row
}

// Normalize maps driver values onto string, int64 and float64 so rows look
// the same regardless of backend. NULL stays nil.
func Normalize(t comprice.ColumnType, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		v = string(x)
	case int:
		v = int64(x)
	case int8:
		v = int64(x)
	case int16:
		v = int64(x)
	case int32:
		v = int64(x)
	case uint8:
		v = int64(x)
	case uint16:
		v = int64(x)
	case uint32:
		v = int64(x)
	case uint64:
		v = int64(x)
	case float32:
		v = float64(x)
	case time.Time:
		v = x.Format(time.RFC3339)
	}
	switch t {
	case comprice.ColumnFloat:
		if n, ok := v.(int64); ok {
			return float64(n)
		}
	case comprice.ColumnInt:
		if f, ok := v.(float64); ok && math.Trunc(f) == f {
			return int64(f)
		}
	}
	return v
}

// InsertColumns returns the sorted column names used by rows, rejecting any
// column outside schema.
func InsertColumns(schema *comprice.TableSchema, rows []comprice.Row) ([]string, error) {
	seen := map[string]bool{}
	for _, r := range rows {
		for k := range r {
			if _, ok := schema.Column(k); !ok {
				return nil, &comprice.SchemaError{Column: k, Message: "not a column of " + schema.Table}
			}
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols, nil
}

// Values returns r's values in cols order.
func Values(r comprice.Row, cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = r[c]
	}
	return out
}
