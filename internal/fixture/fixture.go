// Package fixture loads device catalog seed data from YAML and writes it
// into the configured stores.
package fixture

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nevindra/comprice"
	"github.com/nevindra/comprice/internal/sqlgen"
)

//go:embed demo.yaml
var demoYAML []byte

// embedBatch bounds how many documents are embedded per provider call.
const embedBatch = 32

// File is a seed file: rows for the devices table and documents for the
// retrieval collection.
type File struct {
	Devices []map[string]any    `yaml:"devices"`
	Docs    []comprice.DeviceDoc `yaml:"docs"`
}

// DeviceSink receives device rows.
type DeviceSink interface {
	InsertDevices(ctx context.Context, rows []comprice.Row) error
}

// DocSink receives embedded documents.
type DocSink interface {
	UpsertDocs(ctx context.Context, docs []comprice.DeviceDoc) error
}

// Stats reports what Seed wrote.
type Stats struct {
	Devices int
	Docs    int
}

// Demo returns the built-in sample catalog used by the CLI demo.
func Demo() (*File, error) {
	return Parse(demoYAML)
}

// Load reads and parses a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fixture: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("fixture: %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes YAML seed data and checks every device row against
// comprice.DeviceSchema. Values are normalized to the column types.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	for i, d := range f.Devices {
		for k, v := range d {
			col, ok := comprice.DeviceSchema.Column(k)
			if !ok {
				return nil, &comprice.SchemaError{Column: k, Message: fmt.Sprintf("device %d: not a column of devices", i)}
			}
			nv, err := coerce(col, v)
			if err != nil {
				return nil, fmt.Errorf("device %d: %w", i, err)
			}
			d[k] = nv
		}
	}
	for i := range f.Docs {
		if strings.TrimSpace(f.Docs[i].Content) == "" {
			return nil, fmt.Errorf("doc %d: empty content", i)
		}
		if f.Docs[i].ID == "" {
			f.Docs[i].ID = fmt.Sprintf("doc-%03d", i+1)
		}
	}
	return &f, nil
}

func coerce(col comprice.Column, v any) (any, error) {
	v = sqlgen.Normalize(col.Type, v)
	if v == nil {
		return nil, nil
	}
	ok := false
	switch col.Type {
	case comprice.ColumnText:
		_, ok = v.(string)
	case comprice.ColumnInt:
		_, ok = v.(int64)
	case comprice.ColumnFloat:
		_, ok = v.(float64)
	}
	if !ok {
		return nil, fmt.Errorf("column %s: %v is not a %s value", col.Name, v, col.Type)
	}
	return v, nil
}

// Rows returns the device rows as comprice.Row values.
func (f *File) Rows() []comprice.Row {
	rows := make([]comprice.Row, len(f.Devices))
	for i, d := range f.Devices {
		rows[i] = comprice.Row(d)
	}
	return rows
}

// Seed writes f into the stores. devices or docs may be nil to skip that
// half. Documents are embedded with emb in batches before upserting.
func Seed(ctx context.Context, f *File, devices DeviceSink, docs DocSink, emb comprice.EmbeddingProvider, logger *slog.Logger) (Stats, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var st Stats
	start := time.Now()

	if devices != nil && len(f.Devices) > 0 {
		if err := devices.InsertDevices(ctx, f.Rows()); err != nil {
			return st, fmt.Errorf("fixture: insert devices: %w", err)
		}
		st.Devices = len(f.Devices)
	}

	if docs != nil && len(f.Docs) > 0 {
		if emb == nil {
			return st, fmt.Errorf("fixture: %d docs need an embedding provider", len(f.Docs))
		}
		for i := 0; i < len(f.Docs); i += embedBatch {
			batch := append([]comprice.DeviceDoc(nil), f.Docs[i:min(i+embedBatch, len(f.Docs))]...)
			texts := make([]string, len(batch))
			for j, d := range batch {
				texts[j] = d.Content
			}
			vecs, err := emb.Embed(ctx, texts)
			if err != nil {
				return st, fmt.Errorf("fixture: embed docs: %w", err)
			}
			if len(vecs) != len(batch) {
				return st, fmt.Errorf("fixture: embed docs: got %d vectors for %d docs", len(vecs), len(batch))
			}
			for j := range batch {
				batch[j].Embedding = vecs[j]
			}
			if err := docs.UpsertDocs(ctx, batch); err != nil {
				return st, fmt.Errorf("fixture: upsert docs: %w", err)
			}
			st.Docs += len(batch)
		}
	}

	logger.Info("fixture: seeded", "devices", st.Devices, "docs", st.Docs, "duration", time.Since(start))
	return st, nil
}
