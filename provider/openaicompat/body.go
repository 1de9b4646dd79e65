package openaicompat

import (
	"encoding/json"
	"fmt"

	"github.com/nevindra/comprice"
)

// BuildBody converts comprice ChatMessages and a model name into an
// OpenAI-format ChatRequest. System messages are kept in the messages array
// as role:"system". Options configure generation parameters.
func BuildBody(messages []comprice.ChatMessage, tools []comprice.ToolDefinition, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))

	for _, m := range messages {
		switch {
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			tcs := make([]ToolCallRequest, 0, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args := string(tc.Args)
				if args == "" {
					args = "{}"
				}
				tcs = append(tcs, ToolCallRequest{
					Index: i,
					ID:    tc.ID,
					Type:  "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			msgs = append(msgs, Message{Role: "assistant", Content: m.Content, ToolCalls: tcs})

		case m.Role == "tool":
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
				Name:       m.Name,
			})

		default:
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
		}
	}

	req := ChatRequest{
		Model:    model,
		Messages: msgs,
	}
	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// BuildToolDefs converts comprice ToolDefinitions to OpenAI tool format.
func BuildToolDefs(tools []comprice.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = t.Schema.JSON()
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// FlattenToolTurns rewrites native tool traffic as plain text for models
// without function calling: assistant tool calls become ReAct Action lines
// and tool results become user Observation messages.
func FlattenToolTurns(messages []comprice.ChatMessage) []comprice.ChatMessage {
	out := make([]comprice.ChatMessage, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			content := m.Content
			if content == "" {
				for _, tc := range m.ToolCalls {
					if content != "" {
						content += "\n"
					}
					args := tc.Args
					if !json.Valid(args) {
						args = json.RawMessage(`{}`)
					}
					content += fmt.Sprintf("Action: %s\nAction Input: %s", tc.Name, args)
				}
			}
			out = append(out, comprice.AssistantMessage(content))
		case m.Role == "tool":
			out = append(out, comprice.UserMessage(fmt.Sprintf("Observation (%s): %s", m.Name, m.Content)))
		default:
			out = append(out, m)
		}
	}
	return out
}
