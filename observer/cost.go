package observer

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultPricing covers the hosted chat and embedding models reachable
// through the providers the agent can be configured with. Local models
// served by Ollama are free and left out, so they report zero cost.
// Override or extend via [observer.pricing] in comprice.toml.
var DefaultPricing = map[string]ModelPricing{
	// openai
	"gpt-4o":                 {2.50, 10.00},
	"gpt-4o-mini":            {0.15, 0.60},
	"gpt-4.1-mini":           {0.40, 1.60},
	"text-embedding-3-small": {0.02, 0},

	// anthropic
	"claude-sonnet-4-5": {3.00, 15.00},
	"claude-haiku-4-5":  {1.00, 5.00},

	// groq
	"llama-3.1-8b-instant":    {0.05, 0.08},
	"llama-3.3-70b-versatile": {0.59, 0.79},

	// deepseek
	"deepseek-chat": {0.27, 1.10},

	// together
	"meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo": {0.18, 0.18},

	// mistral
	"mistral-small-latest": {0.10, 0.30},
	"mistral-embed":        {0.10, 0},
}

// CostCalculator computes USD cost from token counts.
type CostCalculator struct {
	pricing map[string]ModelPricing
}

// NewCostCalculator creates a calculator with default pricing, optionally merged with overrides.
func NewCostCalculator(overrides map[string]ModelPricing) *CostCalculator {
	merged := make(map[string]ModelPricing, len(DefaultPricing)+len(overrides))
	for k, v := range DefaultPricing {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return &CostCalculator{pricing: merged}
}

// Calculate returns the cost in USD for the given model and token counts.
// Returns 0.0 for unknown models.
func (c *CostCalculator) Calculate(model string, inputTokens, outputTokens int) float64 {
	p, ok := c.pricing[model]
	if !ok {
		return 0.0
	}
	return float64(inputTokens)/1_000_000*p.InputPerMillion +
		float64(outputTokens)/1_000_000*p.OutputPerMillion
}
