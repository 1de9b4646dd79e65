// Package sqlgen renders allow-listed device queries as parameterised SQL.
// Identifiers come only from the table schema and every value is bound as
// a parameter, so no model-supplied text is ever spliced into a statement.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/nevindra/comprice"
)

// Dialect captures the differences between the supported databases.
type Dialect struct {
	Name string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string
	// Like is the case-insensitive pattern operator.
	Like string
}

var (
	Postgres = Dialect{Name: "postgres", Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }, Like: "ILIKE"}
	SQLite   = Dialect{Name: "sqlite", Placeholder: func(int) string { return "?" }, Like: "LIKE"}
	DuckDB   = Dialect{Name: "duckdb", Placeholder: func(int) string { return "?" }, Like: "ILIKE"}
)

var operators = map[comprice.FilterOp]string{
	comprice.OpEq:  "=",
	comprice.OpNe:  "<>",
	comprice.OpLt:  "<",
	comprice.OpLte: "<=",
	comprice.OpGt:  ">",
	comprice.OpGte: ">=",
}

// Select renders q against schema. It re-checks q first, so callers that
// skipped validation still cannot reach the database with a bad column.
// The returned column list is the order of the selected columns.
func Select(d Dialect, schema *comprice.TableSchema, q comprice.DeviceQuery) (string, []any, []string, error) {
	if err := schema.Check(q); err != nil {
		return "", nil, nil, err
	}
	cols := schema.SelectColumns(q)

	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(Quote(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(Quote(schema.Table))

	var args []any
	for i, f := range q.Filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, f.Value)
		op := operators[f.Op]
		if f.Op == comprice.OpLike {
			op = d.Like
		}
		fmt.Fprintf(&b, "%s %s %s", Quote(f.Column), op, d.Placeholder(len(args)))
	}

	_, hasID := schema.Column("id")
	switch {
	case q.OrderBy != "":
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY %s %s", Quote(q.OrderBy), dir)
		if hasID && q.OrderBy != "id" {
			b.WriteString(", " + Quote("id") + " ASC")
		}
	case hasID:
		b.WriteString(" ORDER BY " + Quote("id") + " ASC")
	}

	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT %s", d.Placeholder(len(args)))
	}
	return b.String(), args, cols, nil
}

// Quote returns ident as a double-quoted SQL identifier.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// CreateDevicesTable returns DDL for schema using typeName to map column
// types to the dialect's SQL types.
func CreateDevicesTable(schema *comprice.TableSchema, typeName func(comprice.ColumnType) string, idDecl string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", Quote(schema.Table))
	cols := schema.Columns()
	for i, c := range cols {
		if c.Name == "id" {
			fmt.Fprintf(&b, "\t%s %s", Quote(c.Name), idDecl)
		} else {
			fmt.Fprintf(&b, "\t%s %s", Quote(c.Name), typeName(c.Type))
		}
		if i < len(cols)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}

// Insert returns a parameterised INSERT for the named columns.
func Insert(d Dialect, table string, cols []string) string {
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = Quote(c)
		marks[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", Quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}
