package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nevindra/comprice"
)

// wireRequest is the subset of the Messages API request checked by tests.
type wireRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string            `json:"role"`
		Content []json.RawMessage `json:"content"`
	} `json:"messages"`
	Tools []struct {
		Name        string         `json:"name"`
		InputSchema map[string]any `json:"input_schema"`
	} `json:"tools"`
}

func testServer(t *testing.T, got *wireRequest, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestChatText(t *testing.T) {
	var got wireRequest
	srv := testServer(t, &got, `{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		"content": [{"type": "text", "text": "Final Answer: 8 cores"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 4}
	}`)

	p := New("key", WithBaseURL(srv.URL), WithModel("claude-test"), WithMaxTokens(256))
	resp, err := p.Chat(context.Background(), comprice.ChatRequest{
		Messages: []comprice.ChatMessage{
			comprice.SystemMessage("you are helpful"),
			comprice.UserMessage("how many cores?"),
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Final Answer: 8 cores" || resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 4 {
		t.Errorf("resp = %+v", resp)
	}
	if got.Model != "claude-test" || got.MaxTokens != 256 {
		t.Errorf("model %q max_tokens %d", got.Model, got.MaxTokens)
	}
	if len(got.System) != 1 || got.System[0].Text != "you are helpful" {
		t.Errorf("system = %+v", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestChatToolUse(t *testing.T) {
	var got wireRequest
	srv := testServer(t, &got, `{
		"id": "msg_2", "type": "message", "role": "assistant", "model": "m",
		"content": [
			{"type": "text", "text": "Let me look."},
			{"type": "tool_use", "id": "toolu_1", "name": "query_devices", "input": {"limit": 3}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 1, "output_tokens": 1}
	}`)

	schema := &comprice.Schema{Type: "object", Properties: map[string]*comprice.Schema{"limit": {Type: "integer"}}}
	p := New("key", WithBaseURL(srv.URL))
	resp, err := p.Chat(context.Background(), comprice.ChatRequest{
		Messages: []comprice.ChatMessage{
			comprice.UserMessage("q"),
			{Role: "assistant", ToolCalls: []comprice.ToolCall{
				{ID: "a", Name: "search_device_docs", Args: json.RawMessage(`{"query":"x"}`)},
				{ID: "b", Name: "query_devices", Args: json.RawMessage(`{}`)},
			}},
			comprice.ToolResultMessage("a", "search_device_docs", "doc"),
			comprice.ToolResultMessage("b", "query_devices", "(no rows found)"),
			comprice.SystemMessage("Respond with either a tool call or a final answer."),
		},
		Tools: []comprice.ToolDefinition{{Name: "query_devices", Description: "d", Schema: schema}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Let me look." || len(resp.ToolCalls) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	tc := resp.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "query_devices" {
		t.Errorf("tool call = %+v", tc)
	}
	var args map[string]any
	if err := json.Unmarshal(tc.Args, &args); err != nil || args["limit"] != float64(3) {
		t.Errorf("args = %s", tc.Args)
	}

	// user, assistant(tool_use x2), user(tool_result x2 + corrective text)
	if len(got.Messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(got.Messages))
	}
	if got.Messages[1].Role != "assistant" || len(got.Messages[1].Content) != 2 {
		t.Errorf("assistant = %+v", got.Messages[1])
	}
	if got.Messages[2].Role != "user" || len(got.Messages[2].Content) != 3 {
		t.Errorf("merged user = %d blocks", len(got.Messages[2].Content))
	}
	if len(got.System) != 0 {
		t.Errorf("mid-conversation system message sent as system prompt: %+v", got.System)
	}
	if len(got.Tools) != 1 || got.Tools[0].Name != "query_devices" || got.Tools[0].InputSchema["type"] != "object" {
		t.Errorf("tools = %+v", got.Tools)
	}
}

func TestChatHTTPErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(529)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	_, err := New("key", WithBaseURL(srv.URL)).Chat(context.Background(), comprice.ChatRequest{
		Messages: []comprice.ChatMessage{comprice.UserMessage("q")},
	})
	var h *comprice.ErrHTTP
	if !errors.As(err, &h) || h.Status != 529 {
		t.Fatalf("err = %v, want ErrHTTP 529", err)
	}
}

func TestConvertMessagesSystemPrefix(t *testing.T) {
	system, msgs, err := convertMessages([]comprice.ChatMessage{
		comprice.SystemMessage("a"),
		comprice.SystemMessage("b"),
		comprice.UserMessage("q"),
		comprice.UserMessage("more"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(system) != 2 || len(msgs) != 1 || len(msgs[0].Content) != 2 {
		t.Errorf("system %d msgs %d", len(system), len(msgs))
	}
}

func TestChatRejectsUndecodableToolArgs(t *testing.T) {
	srv := testServer(t, nil, `{}`)
	_, err := New("key", WithBaseURL(srv.URL)).Chat(context.Background(), comprice.ChatRequest{
		Messages: []comprice.ChatMessage{
			comprice.UserMessage("q"),
			{Role: "assistant", ToolCalls: []comprice.ToolCall{{ID: "a", Name: "query_devices", Args: json.RawMessage(`[1]`)}}},
		},
	})
	var pe *comprice.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
}

func TestName(t *testing.T) {
	if New("k").Name() != "anthropic" {
		t.Error("unexpected name")
	}
}
