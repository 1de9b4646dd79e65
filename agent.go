package comprice

import (
	"log/slog"
	"time"
)

const (
	DefaultMaxSteps     = 10
	DefaultMaxMalformed = 3
	DefaultCallTimeout  = 60 * time.Second
)

// Agent answers device questions by driving a model through a bounded
// tool-calling loop. An Agent is immutable after NewAgent and safe for
// concurrent Run calls; each run owns its own conversation.
type Agent struct {
	provider Provider
	registry *ToolRegistry
	cfg      agentConfig
}

// AgentOption configures an Agent.
type AgentOption func(*agentConfig)

type agentConfig struct {
	tools        []Tool
	maxSteps     int
	maxMalformed int
	callTimeout  time.Duration
	systemPrompt string
	tracer       Tracer       // nil = no tracing
	logger       *slog.Logger // never nil after buildConfig
}

// WithTools registers tools the model may call.
func WithTools(tools ...Tool) AgentOption {
	return func(c *agentConfig) { c.tools = append(c.tools, tools...) }
}

// WithMaxSteps bounds the number of model invocations per run (default 10).
func WithMaxSteps(n int) AgentOption {
	return func(c *agentConfig) { c.maxSteps = n }
}

// WithMaxMalformed bounds the number of unparseable model responses a run
// tolerates (default 3). The run fails on the response that exceeds it.
func WithMaxMalformed(n int) AgentOption {
	return func(c *agentConfig) { c.maxMalformed = n }
}

// WithCallTimeout sets the deadline applied to each model and tool call
// (default 60s).
func WithCallTimeout(d time.Duration) AgentOption {
	return func(c *agentConfig) { c.callTimeout = d }
}

// WithSystemPrompt replaces DefaultSystemPrompt. An empty prompt sends no
// system message.
func WithSystemPrompt(s string) AgentOption {
	return func(c *agentConfig) { c.systemPrompt = s }
}

// WithTracer sets the Tracer for run and step spans.
func WithTracer(t Tracer) AgentOption {
	return func(c *agentConfig) { c.tracer = t }
}

// WithLogger sets the structured logger. Without it nothing is logged.
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *agentConfig) { c.logger = l }
}

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(slog.DiscardHandler)

func buildConfig(opts []AgentOption) agentConfig {
	c := agentConfig{
		maxSteps:     DefaultMaxSteps,
		maxMalformed: DefaultMaxMalformed,
		callTimeout:  DefaultCallTimeout,
		systemPrompt: DefaultSystemPrompt,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	if c.maxSteps <= 0 {
		c.logger.Warn("non-positive max steps, using default", "max_steps", c.maxSteps)
		c.maxSteps = DefaultMaxSteps
	}
	if c.maxMalformed < 0 {
		c.maxMalformed = 0
	}
	if c.callTimeout <= 0 {
		c.callTimeout = DefaultCallTimeout
	}
	return c
}

// NewAgent creates an Agent backed by provider.
func NewAgent(provider Provider, opts ...AgentOption) *Agent {
	cfg := buildConfig(opts)
	return &Agent{
		provider: provider,
		registry: NewToolRegistry(cfg.tools...),
		cfg:      cfg,
	}
}

// Tools returns the definitions sent to the model on every call.
func (a *Agent) Tools() []ToolDefinition { return a.registry.Definitions() }

// MaxSteps returns the configured step budget.
func (a *Agent) MaxSteps() int { return a.cfg.maxSteps }
