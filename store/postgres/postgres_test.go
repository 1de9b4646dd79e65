package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/comprice"
)

// testStore connects to the database named by COMPRICE_TEST_POSTGRES and
// skips the test when it is unset. Tables are dropped before and after.
func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dsn := os.Getenv("COMPRICE_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("COMPRICE_TEST_POSTGRES not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	drop := func() {
		pool.Exec(ctx, `DROP TABLE IF EXISTS devices, device_docs`)
	}
	drop()
	t.Cleanup(func() {
		drop()
		pool.Close()
	})

	s := New(pool, opts...)
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestSerializeEmbedding(t *testing.T) {
	got := serializeEmbedding([]float32{0.5, -1, 2.25})
	if got != "[0.5,-1,2.25]" {
		t.Errorf("serializeEmbedding = %q", got)
	}
	if got := serializeEmbedding(nil); got != "[]" {
		t.Errorf("serializeEmbedding(nil) = %q", got)
	}
}

func TestVectorTypeAndHNSWClause(t *testing.T) {
	s := New(nil)
	if s.vectorType() != "vector" || s.hnswWithClause() != "" {
		t.Errorf("defaults: %q %q", s.vectorType(), s.hnswWithClause())
	}
	s = New(nil, WithEmbeddingDimension(768), WithHNSWM(24), WithEFConstruction(100))
	if s.vectorType() != "vector(768)" {
		t.Errorf("vectorType = %q", s.vectorType())
	}
	if got := s.hnswWithClause(); got != " WITH (m = 24, ef_construction = 100)" {
		t.Errorf("hnswWithClause = %q", got)
	}
	if s.cfg.collection != "comprice_docs" {
		t.Errorf("collection = %q", s.cfg.collection)
	}
}

func TestQueryDevicesRejectsBeforeSQL(t *testing.T) {
	// a nil pool would panic if the query reached the database
	s := New(nil)
	_, err := s.QueryDevices(context.Background(), comprice.DeviceQuery{
		Columns: []string{"password"},
		Limit:   1,
	})
	var se *comprice.SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SchemaError", err)
	}
}

func TestQueryDevicesIntegration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rows := []comprice.Row{
		{"category": "GPU", "brand": "NVIDIA", "model": "RTX 4060", "vram_gb": int64(8), "price": 299.0},
		{"category": "GPU", "brand": "AMD", "model": "RX 7600", "vram_gb": int64(8), "price": 269.0},
		{"category": "GPU", "brand": "NVIDIA", "model": "RTX 4070", "vram_gb": int64(12), "price": 549.0},
	}
	if err := s.InsertDevices(ctx, rows); err != nil {
		t.Fatalf("InsertDevices: %v", err)
	}

	got, err := s.QueryDevices(ctx, comprice.DeviceQuery{
		Filters: []comprice.Filter{
			{Column: "category", Op: comprice.OpEq, Value: "GPU"},
			{Column: "price", Op: comprice.OpLt, Value: 300.0},
		},
		Columns: []string{"model", "price"},
		OrderBy: "price",
		Limit:   10,
	})
	if err != nil {
		t.Fatalf("QueryDevices: %v", err)
	}
	if len(got) != 2 || got[0]["model"] != "RX 7600" || got[1]["model"] != "RTX 4060" {
		t.Fatalf("rows = %v", got)
	}
	if p, ok := got[0]["price"].(float64); !ok || p != 269 {
		t.Errorf("price = %#v", got[0]["price"])
	}

	got, err = s.QueryDevices(ctx, comprice.DeviceQuery{
		Filters: []comprice.Filter{{Column: "model", Op: comprice.OpLike, Value: "%rtx%"}},
		Columns: []string{"model", "vram_gb"},
		OrderBy: "vram_gb",
		Desc:    true,
		Limit:   1,
	})
	if err != nil {
		t.Fatalf("QueryDevices like: %v", err)
	}
	if len(got) != 1 || got[0]["model"] != "RTX 4070" || got[0]["vram_gb"] != int64(12) {
		t.Errorf("rows = %v", got)
	}
}

func TestSearchIntegration(t *testing.T) {
	s := testStore(t, WithEmbeddingDimension(3))
	ctx := context.Background()
	docs := []comprice.DeviceDoc{
		{ID: "gpu", Content: "GPUs render graphics", Embedding: []float32{1, 0, 0}},
		{ID: "cpu", Content: "CPUs run programs", Embedding: []float32{0, 1, 0}},
		{ID: "mix", Content: "APUs combine both", Embedding: []float32{0.7, 0.7, 0}, Metadata: map[string]string{"kind": "apu"}},
	}
	if err := s.UpsertDocs(ctx, docs); err != nil {
		t.Fatalf("UpsertDocs: %v", err)
	}
	hits, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "gpu" || hits[1].ID != "mix" {
		t.Errorf("hits = %+v", hits)
	}
}
