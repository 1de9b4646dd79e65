// Package devices provides the query_devices tool: structured lookups over
// the devices table using allow-listed columns and typed filters instead of
// raw SQL.
package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/comprice"
)

// ToolName is the name the model uses to call the tool.
const ToolName = "query_devices"

const (
	defaultLimit = 20
	maxLimit     = 100
	noRows       = "(no rows found)"
)

var schema = &comprice.Schema{
	Type: "object",
	Properties: map[string]*comprice.Schema{
		"filters": {
			Type: "object",
			Description: "Column conditions, all AND-ed. Keys are a column name for equality, or column_lt, column_lte, " +
				"column_gt, column_gte, column_ne, column_like. Example: {\"category\": \"GPU\", \"price_lt\": 300}.",
		},
		"columns": {
			Type:        "array",
			Description: "Columns to return (default: category, brand, model, price).",
			Items:       &comprice.Schema{Type: "string"},
		},
		"order_by": {
			Type:        "string",
			Description: "Column to sort by. Prefix with - or append \" desc\" for descending order.",
		},
		"desc": {Type: "boolean", Description: "Sort descending."},
		"limit": {
			Type:        "integer",
			Description: "Maximum rows to return (default 20).",
			Minimum:     comprice.Bound(1),
			Maximum:     comprice.Bound(maxLimit),
		},
	},
}

var argSchema = comprice.MustCompileArgs(ToolName, schema)

// Tool queries the devices table through a StructuredStore.
type Tool struct {
	store  comprice.StructuredStore
	schema *comprice.TableSchema
	limit  int
	logger *slog.Logger
}

// Option configures a Tool.
type Option func(*Tool)

// WithDefaultLimit sets the row limit used when the model gives none
// (default 20). Values outside 1..100 are ignored.
func WithDefaultLimit(n int) Option {
	return func(t *Tool) {
		if n >= 1 && n <= maxLimit {
			t.limit = n
		}
	}
}

// WithLogger sets a structured logger for the tool.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

var nopLogger = slog.New(slog.DiscardHandler)

// New creates the query tool over store.
func New(store comprice.StructuredStore, opts ...Option) *Tool {
	t := &Tool{store: store, schema: comprice.DeviceSchema, limit: defaultLimit, logger: nopLogger}
	for _, o := range opts {
		o(t)
	}
	return t
}

var _ comprice.Tool = (*Tool)(nil)

// Describe implements comprice.Tool.
func (t *Tool) Describe() comprice.ToolDefinition {
	return comprice.ToolDefinition{
		Name: ToolName,
		Description: "Query the devices table for concrete devices, prices and specifications. " +
			"Available columns: " + strings.Join(t.schema.Names(), ", ") + ". " +
			"Example: {\"filters\": {\"brand\": \"Samsung\", \"release_year_gt\": 2021}, \"columns\": [\"brand\", \"model\", \"price\"], \"limit\": 10}.",
		Schema: schema,
	}
}

// Invoke implements comprice.Tool.
func (t *Tool) Invoke(ctx context.Context, raw json.RawMessage) (comprice.ToolResult, error) {
	args, err := argSchema.Validate(raw)
	if err != nil {
		return comprice.ToolResult{}, err
	}
	q, err := t.buildQuery(args)
	if err != nil {
		return comprice.ToolResult{}, err
	}

	start := time.Now()
	rows, err := t.store.QueryDevices(ctx, q)
	if err != nil {
		var se *comprice.SchemaError
		if errors.As(err, &se) {
			return comprice.ToolResult{}, err
		}
		var ste *comprice.StoreError
		if !errors.As(err, &ste) {
			err = &comprice.StoreError{Store: "devices", Op: "query", Err: err}
		}
		return comprice.ErrorResult(ToolName, err), nil
	}
	t.logger.Debug("devices: query done", "filters", len(q.Filters), "rows", len(rows), "duration", time.Since(start))

	if len(rows) == 0 {
		return comprice.EmptyResult(ToolName, noRows), nil
	}
	return comprice.ToolResult{
		ToolName:  ToolName,
		Output:    Render(t.schema.SelectColumns(q), rows),
		Data:      rows,
		Succeeded: true,
	}, nil
}

// buildQuery turns validated arguments into a DeviceQuery. Unknown columns
// and operators that do not fit a column's type are SchemaErrors; filter
// values of the wrong type are ValidationErrors.
func (t *Tool) buildQuery(args map[string]any) (comprice.DeviceQuery, error) {
	q := comprice.DeviceQuery{Limit: comprice.ArgInt(args, "limit", t.limit)}

	if cols, ok := args["columns"].([]any); ok {
		for _, c := range cols {
			q.Columns = append(q.Columns, c.(string))
		}
	}

	orderBy := strings.TrimSpace(comprice.ArgString(args, "order_by", ""))
	if rest, ok := strings.CutPrefix(orderBy, "-"); ok {
		orderBy, q.Desc = rest, true
	}
	if f := strings.Fields(orderBy); len(f) == 2 {
		switch strings.ToLower(f[1]) {
		case "desc":
			orderBy, q.Desc = f[0], true
		case "asc":
			orderBy = f[0]
		}
	}
	q.OrderBy = orderBy
	if d, ok := args["desc"].(bool); ok && d {
		q.Desc = true
	}

	filters, _ := args["filters"].(map[string]any)
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		col, op, err := t.schema.ResolveFilterKey(key)
		if err != nil {
			return q, err
		}
		q.Filters = append(q.Filters, comprice.Filter{Column: col, Op: op, Value: filters[key]})
	}

	if err := t.schema.Check(q); err != nil {
		return q, err
	}

	for i, f := range q.Filters {
		c, _ := t.schema.Column(f.Column)
		v, err := filterValue(c, f.Op, f.Value)
		if err != nil {
			return q, &comprice.ValidationError{Tool: ToolName, Field: "filters." + keys[i], Message: err.Error()}
		}
		q.Filters[i].Value = v
	}
	return q, nil
}

// filterValue converts a JSON value to the Go type bound for column c.
func filterValue(c comprice.Column, op comprice.FilterOp, v any) (any, error) {
	switch c.Type {
	case comprice.ColumnText:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %s is text; expected a string", c.Name)
		}
		if op == comprice.OpLike && !strings.ContainsAny(s, "%_") {
			s = "%" + s + "%"
		}
		return s, nil
	case comprice.ColumnInt:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("column %s is an integer; expected a number", c.Name)
		}
		f, err := n.Float64()
		if err != nil || math.Trunc(f) != f {
			return nil, fmt.Errorf("column %s is an integer; got %s", c.Name, n)
		}
		return int64(f), nil
	case comprice.ColumnFloat:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Errorf("column %s is numeric; expected a number", c.Name)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, fmt.Errorf("column %s is numeric; got %s", c.Name, n)
		}
		return f, nil
	}
	return v, nil
}

// Render formats rows as a pipe-separated table with a header line, in
// cols order.
func Render(cols []string, rows []comprice.Row) string {
	var b strings.Builder
	b.WriteString(strings.Join(cols, " | "))
	for _, r := range rows {
		b.WriteString("\n")
		for i, c := range cols {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(formatValue(r[c]))
		}
	}
	return b.String()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
