// Package app wires configuration into a running device agent: providers,
// stores, tools and optional OTEL instrumentation.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/comprice"
	"github.com/nevindra/comprice/internal/config"
	"github.com/nevindra/comprice/internal/fixture"
	"github.com/nevindra/comprice/observer"
	"github.com/nevindra/comprice/provider/resolve"
	"github.com/nevindra/comprice/store/duckdb"
	"github.com/nevindra/comprice/store/postgres"
	"github.com/nevindra/comprice/store/sqlite"
	"github.com/nevindra/comprice/tools/devices"
	"github.com/nevindra/comprice/tools/retrieval"
)

// DeviceBackend holds the devices table.
type DeviceBackend interface {
	comprice.StructuredStore
	fixture.DeviceSink
	Init(ctx context.Context) error
}

// DocBackend holds embedded device documents.
type DocBackend interface {
	comprice.VectorStore
	fixture.DocSink
	Init(ctx context.Context) error
}

// Deps holds injected dependencies for the App.
type Deps struct {
	LLM       comprice.Provider
	Embedding comprice.EmbeddingProvider
	Devices   DeviceBackend
	Docs      DocBackend
	Tracer    comprice.Tracer
	Logger    *slog.Logger
	// Instruments enables OTEL wrappers around providers, tools and runs.
	Instruments *observer.Instruments
}

// App is the comprice application: one agent over one pair of stores.
type App struct {
	cfg       *config.Config
	embedding comprice.EmbeddingProvider
	devices   DeviceBackend
	docs      DocBackend
	agent     observer.Runner
	logger    *slog.Logger
	closers   []func(context.Context) error
}

// New creates an App from already-constructed dependencies.
func New(cfg *config.Config, deps Deps) *App {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	llm, emb := deps.LLM, deps.Embedding
	tools := []comprice.Tool{
		retrieval.New(emb, deps.Docs, retrieval.WithTopK(cfg.Agent.TopK), retrieval.WithLogger(logger)),
		devices.New(deps.Devices, devices.WithDefaultLimit(cfg.Agent.RowLimit), devices.WithLogger(logger)),
	}
	if deps.Instruments != nil {
		llm = observer.WrapProvider(llm, cfg.LLM.Model, deps.Instruments)
		tools = observer.WrapTools(tools, deps.Instruments)
	}

	opts := []comprice.AgentOption{
		comprice.WithTools(tools...),
		comprice.WithMaxSteps(cfg.Agent.MaxSteps),
		comprice.WithMaxMalformed(cfg.Agent.MaxMalformed),
		comprice.WithCallTimeout(cfg.Agent.CallTimeout),
		comprice.WithLogger(logger),
	}
	if deps.Tracer != nil {
		opts = append(opts, comprice.WithTracer(deps.Tracer))
	}
	var agent observer.Runner = comprice.NewAgent(llm, opts...)
	if deps.Instruments != nil {
		agent = observer.WrapAgent(agent, "comprice", deps.Instruments)
	}

	return &App{
		cfg:       cfg,
		embedding: emb,
		devices:   deps.Devices,
		docs:      deps.Docs,
		agent:     agent,
		logger:    logger,
	}
}

// Build constructs every dependency named by cfg. The returned App owns the
// stores and telemetry exporters; call Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var closers []func(context.Context) error
	fail := func(err error) (*App, error) {
		runClosers(ctx, closers)
		return nil, err
	}

	llm, err := resolve.Provider(resolve.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		TextTools:   cfg.LLM.TextTools,
	})
	if err != nil {
		return nil, err
	}
	emb, err := resolve.EmbeddingProvider(resolve.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, err
	}
	if cfg.LLM.Retries > 0 {
		retry := []comprice.RetryOption{comprice.RetryMaxAttempts(cfg.LLM.Retries + 1), comprice.RetryLogger(logger)}
		llm = comprice.WithRetry(llm, retry...)
		emb = comprice.WithEmbeddingRetry(emb, retry...)
	}
	llm = comprice.WithRateLimit(llm, comprice.RPM(cfg.LLM.RPM), comprice.TPM(cfg.LLM.TPM))

	deps := Deps{LLM: llm, Embedding: emb, Logger: logger}

	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresDSN())
		if err != nil {
			return fail(fmt.Errorf("app: connect postgres: %w", err))
		}
		closers = append(closers, func(context.Context) error { pool.Close(); return nil })
		store := postgres.New(pool,
			postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions),
			postgres.WithCollection(cfg.Database.Collection),
			postgres.WithLogger(logger))
		deps.Devices, deps.Docs = store, store
	case "sqlite":
		store := sqlite.New(cfg.Database.Path,
			sqlite.WithCollection(cfg.Database.Collection),
			sqlite.WithLogger(logger))
		closers = append(closers, func(context.Context) error { return store.Close() })
		deps.Devices, deps.Docs = store, store
	case "duckdb":
		catalog, err := duckdb.Open(ctx, cfg.Database.Path, duckdb.WithLogger(logger))
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return catalog.Close() })
		docs := sqlite.New(cfg.Database.DocsPath,
			sqlite.WithCollection(cfg.Database.Collection),
			sqlite.WithLogger(logger))
		closers = append(closers, func(context.Context) error { return docs.Close() })
		deps.Devices, deps.Docs = catalog, docs
	}

	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		inst, shutdown, err := observer.Init(ctx, cfg.Observer.ServiceName, pricing)
		if err != nil {
			return fail(fmt.Errorf("app: init observer: %w", err))
		}
		closers = append(closers, shutdown)
		deps.Instruments = inst
		deps.Tracer = observer.NewTracer()
		deps.Embedding = observer.WrapEmbedding(deps.Embedding, cfg.Embedding.Model, inst)
	}

	a := New(cfg, deps)
	a.closers = closers
	if err := a.Init(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Init creates the tables the stores need.
func (a *App) Init(ctx context.Context) error {
	if err := a.devices.Init(ctx); err != nil {
		return fmt.Errorf("app: init devices store: %w", err)
	}
	if any(a.docs) != any(a.devices) {
		if err := a.docs.Init(ctx); err != nil {
			return fmt.Errorf("app: init docs store: %w", err)
		}
	}
	return nil
}

// Seed loads fixture data into the stores.
func (a *App) Seed(ctx context.Context, f *fixture.File) (fixture.Stats, error) {
	return fixture.Seed(ctx, f, a.devices, a.docs, a.embedding, a.logger)
}

// ErrImportUnsupported is returned by ImportCSV when the devices store
// cannot read CSV files.
var ErrImportUnsupported = errors.New("app: CSV import requires the duckdb driver")

// ImportCSV bulk-loads device rows from a CSV file.
func (a *App) ImportCSV(ctx context.Context, path string) (int64, error) {
	imp, ok := a.devices.(interface {
		ImportCSV(ctx context.Context, path string) (int64, error)
	})
	if !ok {
		return 0, ErrImportUnsupported
	}
	return imp.ImportCSV(ctx, path)
}

// Ask runs the agent on one question.
func (a *App) Ask(ctx context.Context, question string) comprice.Outcome {
	return a.agent.Run(ctx, question)
}

// Close releases stores and flushes telemetry, in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	err := runClosers(ctx, a.closers)
	a.closers = nil
	return err
}

func runClosers(ctx context.Context, closers []func(context.Context) error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i](ctx))
	}
	return errors.Join(errs...)
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
