// Package retrieval provides the search_device_docs tool, which answers
// conceptual questions from embedded device descriptions.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nevindra/comprice"
)

// ToolName is the name the model uses to call the tool.
const ToolName = "search_device_docs"

const (
	defaultTopK = 3
	maxTopK     = 20
	noResults   = "No relevant knowledge found in the knowledge base."
)

var schema = &comprice.Schema{
	Type: "object",
	Properties: map[string]*comprice.Schema{
		"query": {Type: "string", Description: "A clear natural language question or search query."},
		"top_k": {Type: "integer", Description: "Number of passages to return (default 3).", Minimum: comprice.Bound(1), Maximum: comprice.Bound(maxTopK)},
	},
	Required: []string{"query"},
}

var argSchema = comprice.MustCompileArgs(ToolName, schema)

// Tool searches the device knowledge base by semantic similarity.
type Tool struct {
	embedding comprice.EmbeddingProvider
	store     comprice.VectorStore
	topK      int
	logger    *slog.Logger
}

// Option configures a Tool.
type Option func(*Tool)

// WithTopK sets the number of passages returned when the model does not
// ask for a specific count. Default is 3.
func WithTopK(n int) Option {
	return func(t *Tool) {
		if n > 0 && n <= maxTopK {
			t.topK = n
		}
	}
}

// WithLogger sets a structured logger for the tool.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

var nopLogger = slog.New(slog.DiscardHandler)

// New creates the search tool over store, embedding queries with emb.
func New(emb comprice.EmbeddingProvider, store comprice.VectorStore, opts ...Option) *Tool {
	t := &Tool{embedding: emb, store: store, topK: defaultTopK, logger: nopLogger}
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
		Description: "Fetch contextual information about devices, technical terms or concepts from the knowledge base. " +
			"Input should be a clear natural language question. Useful for terminology, specifications " +
			"and background on device features. Not for prices or filtering devices.",
		Schema: schema,
	}
}

// Invoke implements comprice.Tool.
func (t *Tool) Invoke(ctx context.Context, raw json.RawMessage) (comprice.ToolResult, error) {
	args, err := argSchema.Validate(raw)
	if err != nil {
		return comprice.ToolResult{}, err
	}
	query := strings.TrimSpace(comprice.ArgString(args, "query", ""))
	if query == "" {
		return comprice.ToolResult{}, &comprice.ValidationError{Tool: ToolName, Field: "query", Message: "must not be empty"}
	}
	topK := comprice.ArgInt(args, "top_k", t.topK)

	start := time.Now()
	embs, err := t.embedding.Embed(ctx, []string{query})
	if err != nil {
		return comprice.ErrorResult(ToolName, &comprice.ProviderError{Provider: t.embedding.Name(), Message: "embed query: " + err.Error(), Err: err}), nil
	}
	if len(embs) == 0 || len(embs[0]) == 0 {
		return comprice.ErrorResult(ToolName, &comprice.ProviderError{Provider: t.embedding.Name(), Message: "embed query: empty embedding"}), nil
	}

	hits, err := t.store.Search(ctx, embs[0], topK)
	if err != nil {
		var se *comprice.StoreError
		if !errors.As(err, &se) {
			err = &comprice.StoreError{Store: "vector store", Op: "search", Err: err}
		}
		return comprice.ErrorResult(ToolName, err), nil
	}
	comprice.SortHits(hits)
	if len(hits) > topK {
		hits = hits[:topK]
	}
	t.logger.Debug("retrieval: search done", "query", query, "top_k", topK, "hits", len(hits), "duration", time.Since(start))

	if len(hits) == 0 {
		return comprice.EmptyResult(ToolName, noResults), nil
	}
	return comprice.ToolResult{
		ToolName:  ToolName,
		Output:    Render(hits),
		Data:      hits,
		Succeeded: true,
	}, nil
}

// Render formats hits as numbered passages with their similarity scores.
func Render(hits []comprice.VectorHit) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. [score %.3f] %s", i+1, h.Score, strings.TrimSpace(h.Content))
	}
	return b.String()
}
