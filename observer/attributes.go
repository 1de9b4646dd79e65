package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for LLM observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")
	AttrCostUSD      = attribute.Key("llm.cost_usd")

	AttrToolCount    = attribute.Key("llm.tool_count")
	AttrToolNames    = attribute.Key("llm.tool_names")
	AttrLLMMessages  = attribute.Key("llm.messages")
	AttrLLMToolCalls = attribute.Key("llm.tool_calls")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolErrorKind    = attribute.Key("tool.error_kind")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrAgentName      = attribute.Key("agent.name")
	AttrAgentOutcome   = attribute.Key("agent.outcome")
	AttrAgentReason    = attribute.Key("agent.reason")
	AttrAgentSteps     = attribute.Key("agent.steps")
	AttrAgentMalformed = attribute.Key("agent.malformed")
	AttrAgentToolCalls = attribute.Key("agent.tool_calls")
)
