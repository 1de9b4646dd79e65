package comprice

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// VectorHit is one nearest-neighbour result. Score is a similarity;
// higher is closer.
type VectorHit struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// VectorStore performs similarity search over embedded device descriptions.
// An empty result is valid and not an error.
type VectorStore interface {
	Search(ctx context.Context, embedding []float32, topK int) ([]VectorHit, error)
}

// StructuredStore queries the devices table. Implementations must reject
// queries that reference columns outside their schema before issuing any
// SQL (see TableSchema.Check).
type StructuredStore interface {
	QueryDevices(ctx context.Context, q DeviceQuery) ([]Row, error)
}

// Row is one result row keyed by column name.
type Row map[string]any

// DeviceDoc is a device description stored for semantic retrieval.
type DeviceDoc struct {
	ID        string            `json:"id" yaml:"id"`
	Content   string            `json:"content" yaml:"content"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Embedding []float32         `json:"-" yaml:"-"`
}

// SortHits orders hits by descending score, breaking ties by ID so that
// rankings are stable for unchanged data.
func SortHits(hits []VectorHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}

// --- Structured query model ---

// ColumnType is the value type of a table column.
type ColumnType string

const (
	ColumnText  ColumnType = "text"
	ColumnInt   ColumnType = "int"
	ColumnFloat ColumnType = "float"
)

// Numeric reports whether range comparisons are allowed on the type.
func (t ColumnType) Numeric() bool { return t == ColumnInt || t == ColumnFloat }

// Column is one allow-listed column.
type Column struct {
	Name string
	Type ColumnType
}

// FilterOp is a comparison operator in a DeviceQuery filter.
type FilterOp string

const (
	OpEq   FilterOp = "eq"
	OpNe   FilterOp = "ne"
	OpLt   FilterOp = "lt"
	OpLte  FilterOp = "lte"
	OpGt   FilterOp = "gt"
	OpGte  FilterOp = "gte"
	OpLike FilterOp = "like"
)

// filterSuffixes maps filter-key suffixes (price_lt) to operators.
var filterSuffixes = map[string]FilterOp{
	"_lt":   OpLt,
	"_lte":  OpLte,
	"_gt":   OpGt,
	"_gte":  OpGte,
	"_ne":   OpNe,
	"_like": OpLike,
}

// Filter is a single column predicate. Filters in a query are AND-ed.
type Filter struct {
	Column string
	Op     FilterOp
	Value  any
}

// DeviceQuery selects Columns from rows matching all Filters.
type DeviceQuery struct {
	Filters []Filter
	Columns []string
	OrderBy string
	Desc    bool
	Limit   int
}

// TableSchema is the published allow-list of a table.
type TableSchema struct {
	Table   string
	columns []Column
	index   map[string]Column
	// Default is returned when a query names no columns.
	Default []string
}

// NewTableSchema builds an allow-list for table.
func NewTableSchema(table string, defaults []string, cols ...Column) *TableSchema {
	s := &TableSchema{Table: table, columns: cols, index: make(map[string]Column, len(cols)), Default: defaults}
	for _, c := range cols {
		s.index[c.Name] = c
	}
	return s
}

// Column looks up an allow-listed column.
func (s *TableSchema) Column(name string) (Column, bool) {
	c, ok := s.index[name]
	return c, ok
}

// Columns returns the allow-listed columns in declaration order.
func (s *TableSchema) Columns() []Column {
	return append([]Column(nil), s.columns...)
}

// Names returns the allow-listed column names in declaration order.
func (s *TableSchema) Names() []string {
	names := make([]string, len(s.columns))
	for i, c := range s.columns {
		names[i] = c.Name
	}
	return names
}

// ResolveFilterKey splits a filter key such as "price_lt" into column and
// operator. A key that is itself a column wins over suffix parsing, so a
// column named "cpu_gt" would never be misread.
func (s *TableSchema) ResolveFilterKey(key string) (string, FilterOp, error) {
	if _, ok := s.index[key]; ok {
		return key, OpEq, nil
	}
	for suffix, op := range filterSuffixes {
		if col, found := strings.CutSuffix(key, suffix); found {
			if _, ok := s.index[col]; ok {
				return col, op, nil
			}
		}
	}
	return "", "", &SchemaError{Column: key, Message: "not an allowed column or filter; allowed columns: " + strings.Join(s.Names(), ", ")}
}

// Check validates q against the allow-list. It is called by the tool
// adapter and again by every store before touching the database.
func (s *TableSchema) Check(q DeviceQuery) error {
	for _, name := range q.Columns {
		if _, ok := s.index[name]; !ok {
			return &SchemaError{Column: name, Message: "not an allowed column"}
		}
	}
	for _, f := range q.Filters {
		c, ok := s.index[f.Column]
		if !ok {
			return &SchemaError{Column: f.Column, Message: "not an allowed filter column"}
		}
		switch f.Op {
		case OpEq, OpNe:
		case OpLt, OpLte, OpGt, OpGte:
			if !c.Type.Numeric() {
				return &SchemaError{Column: f.Column, Message: fmt.Sprintf("operator %s requires a numeric column", f.Op)}
			}
		case OpLike:
			if c.Type != ColumnText {
				return &SchemaError{Column: f.Column, Message: "operator like requires a text column"}
			}
		default:
			return &SchemaError{Column: f.Column, Message: fmt.Sprintf("unsupported operator %q", f.Op)}
		}
	}
	if q.OrderBy != "" {
		if _, ok := s.index[q.OrderBy]; !ok {
			return &SchemaError{Column: q.OrderBy, Message: "not an allowed order_by column"}
		}
	}
	return nil
}

// SelectColumns returns the columns a query should return: the requested
// ones, deduplicated in order, or the schema default.
func (s *TableSchema) SelectColumns(q DeviceQuery) []string {
	if len(q.Columns) == 0 {
		return append([]string(nil), s.Default...)
	}
	seen := make(map[string]bool, len(q.Columns))
	out := make([]string, 0, len(q.Columns))
	for _, c := range q.Columns {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// DeviceSchema is the allow-list of the devices table.
var DeviceSchema = NewTableSchema("devices",
	[]string{"category", "brand", "model", "price"},
	Column{"id", ColumnInt},
	Column{"category", ColumnText},
	Column{"device_type", ColumnText},
	Column{"brand", ColumnText},
	Column{"model", ColumnText},
	Column{"release_year", ColumnInt},
	Column{"os", ColumnText},
	Column{"form_factor", ColumnText},
	Column{"cpu_brand", ColumnText},
	Column{"cpu_model", ColumnText},
	Column{"cpu_tier", ColumnText},
	Column{"cpu_cores", ColumnInt},
	Column{"cpu_threads", ColumnInt},
	Column{"cpu_base_ghz", ColumnFloat},
	Column{"cpu_boost_ghz", ColumnFloat},
	Column{"gpu_brand", ColumnText},
	Column{"gpu_model", ColumnText},
	Column{"gpu_tier", ColumnText},
	Column{"vram_gb", ColumnInt},
	Column{"ram_gb", ColumnInt},
	Column{"storage_type", ColumnText},
	Column{"storage_gb", ColumnInt},
	Column{"storage_drive_count", ColumnInt},
	Column{"display_type", ColumnText},
	Column{"display_size_in", ColumnFloat},
	Column{"resolution", ColumnText},
	Column{"refresh_hz", ColumnInt},
	Column{"battery_wh", ColumnFloat},
	Column{"charger_watts", ColumnInt},
	Column{"psu_watts", ColumnInt},
	Column{"wifi", ColumnText},
	Column{"bluetooth", ColumnText},
	Column{"weight_kg", ColumnFloat},
	Column{"warranty_months", ColumnInt},
	Column{"price", ColumnFloat},
)
