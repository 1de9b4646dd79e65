package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/comprice"
)

// ParseResponse converts an OpenAI-format ChatResponse to a comprice
// ChatResponse. It extracts content, tool calls and usage from choices[0].
func ParseResponse(resp ChatResponse) comprice.ChatResponse {
	var out comprice.ChatResponse

	if resp.Usage != nil {
		out.Usage = comprice.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		if out.Content == "" && choice.Message.Refusal != "" {
			out.Content = choice.Message.Refusal
		}
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}
	return out
}

// ParseToolCalls converts OpenAI tool call requests to comprice ToolCalls.
// OpenAI returns function.arguments as a JSON string. Arguments are passed
// through untouched, even when they are not valid JSON, so the response
// parser can reject them rather than run the tool with guessed input.
func ParseToolCalls(tcs []ToolCallRequest) []comprice.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]comprice.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, comprice.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	return out
}
