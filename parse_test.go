package comprice

import (
	"encoding/json"
	"testing"
)

func TestParseResponseFinal(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"prose", "The RTX 4060 costs $299.", "The RTX 4060 costs $299."},
		{"marker", "Thought: I know this.\nFinal Answer: The RTX 4060 costs $299.", "The RTX 4060 costs $299."},
		{"marker lowercase", "final answer: 42", "42"},
		{"marker mid-sentence is prose", "Here is my final answer: the RTX 3050 is best.", "Here is my final answer: the RTX 3050 is best."},
		{"marker on later line", "Checked the table.\n> Final Answer: RTX 3050", "RTX 3050"},
		{"envelope", `{"final_answer": "Three GPUs."}`, "Three GPUs."},
		{"fenced envelope", "```json\n{\"final_answer\": \"Three GPUs.\"}\n```", "Three GPUs."},
		{"structured chat final", `{"action": "Final Answer", "action_input": "Done."}`, "Done."},
		{"fullwidth marker", "Ｆｉｎａｌ Ａｎｓｗｅｒ: ok", "ok"},
		{"think block stripped", "<think>maybe call a tool</think>\nThe answer is 8 cores.", "The answer is 8 cores."},
		{"json data is content", "Here you go:\n```json\n[{\"model\": \"RX 7600\", \"price\": 269}]\n```", "Here you go:\n```json\n[{\"model\": \"RX 7600\", \"price\": 269}]\n```"},
		{"record with name key", "```json\n{\"name\": \"RX 7600\", \"price\": 269}\n```", "```json\n{\"name\": \"RX 7600\", \"price\": 269}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseResponse(ChatResponse{Content: tt.content})
			if d.Kind != DecisionFinal {
				t.Fatalf("kind = %s (%v), want final", d.Kind, d.Err)
			}
			if d.Answer != tt.want {
				t.Errorf("answer = %q, want %q", d.Answer, tt.want)
			}
		})
	}
}

func TestParseResponseToolRequests(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantName string
		wantArgs string
	}{
		{"react", "Thought: need data\nAction: query_devices\nAction Input: {\"filters\": {\"category\": \"GPU\", \"price_lt\": 300}}", "query_devices", `{"filters":{"category":"GPU","price_lt":300}}`},
		{"react fenced input", "Action: search_device_docs\nAction Input:\n```json\n{\"query\": \"cpu tier\"}\n```", "search_device_docs", `{"query":"cpu tier"}`},
		{"react bold markers", "**Action:** `search_device_docs`\nAction Input: {\"query\": \"ram\"}", "search_device_docs", `{"query":"ram"}`},
		{"envelope", `{"tool": "search_device_docs", "arguments": {"query": "cpu tier"}}`, "search_device_docs", `{"query":"cpu tier"}`},
		{"envelope in prose", "I will search.\n```json\n{\"tool\": \"search_device_docs\", \"args\": {\"query\": \"vram\"}}\n```", "search_device_docs", `{"query":"vram"}`},
		{"envelope string args", `{"name": "query_devices", "arguments": "{\"limit\": 3}"}`, "query_devices", `{"limit":3}`},
		{"structured chat", `{"action": "query_devices", "action_input": {"limit": 5}}`, "query_devices", `{"limit":5}`},
		{"envelope without args", `{"tool": "query_devices"}`, "query_devices", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseResponse(ChatResponse{Content: tt.content})
			if d.Kind != DecisionTool {
				t.Fatalf("kind = %s (%v), want tool", d.Kind, d.Err)
			}
			if len(d.Requests) != 1 {
				t.Fatalf("requests = %d, want 1", len(d.Requests))
			}
			r := d.Requests[0]
			if r.Name != tt.wantName {
				t.Errorf("name = %q, want %q", r.Name, tt.wantName)
			}
			assertJSONEqual(t, r.Args, tt.wantArgs)
			if r.ID == "" {
				t.Error("request without ID")
			}
		})
	}
}

func TestParseResponseMultipleRequestsKeepOrder(t *testing.T) {
	content := `{"tool_calls": [
		{"id": "a", "name": "search_device_docs", "arguments": {"query": "cpu tier"}},
		{"id": "b", "function": {"name": "query_devices", "arguments": "{\"limit\": 3}"}}
	]}`
	d := ParseResponse(ChatResponse{Content: content})
	if d.Kind != DecisionTool || len(d.Requests) != 2 {
		t.Fatalf("decision = %+v", d)
	}
	if d.Requests[0].ID != "a" || d.Requests[1].ID != "b" || d.Requests[1].Name != "query_devices" {
		t.Errorf("requests = %+v", d.Requests)
	}

	react := "Action: search_device_docs\nAction Input: {\"query\": \"a\"}\nAction: query_devices\nAction Input: {\"limit\": 1}"
	d = ParseResponse(ChatResponse{Content: react})
	if d.Kind != DecisionTool || len(d.Requests) != 2 || d.Requests[0].Name != "search_device_docs" || d.Requests[1].Name != "query_devices" {
		t.Fatalf("react decision = %+v", d)
	}
}

func TestParseResponseNonStringIDIgnored(t *testing.T) {
	content := `{"tool_calls": [
		{"id": 7, "name": "search_device_docs", "arguments": {"query": "cpu tier"}},
		{"id": "", "function": {"name": "query_devices", "arguments": {}}}
	]}`
	d := ParseResponse(ChatResponse{Content: content})
	if d.Kind != DecisionTool || len(d.Requests) != 2 {
		t.Fatalf("decision = %+v", d)
	}
	for _, r := range d.Requests {
		if r.ID == "" || r.ID == "7" {
			t.Errorf("request %s id = %q, want generated", r.Name, r.ID)
		}
	}
}

func TestParseResponseNativeToolCalls(t *testing.T) {
	d := ParseResponse(ChatResponse{
		Content: "let me check",
		ToolCalls: []ToolCall{
			{ID: "call_1", Name: "query_devices", Args: json.RawMessage(`{"limit":2}`)},
			{ID: "call_2", Name: "search_device_docs", Args: nil},
		},
	})
	if d.Kind != DecisionTool || len(d.Requests) != 2 {
		t.Fatalf("decision = %+v", d)
	}
	if d.Requests[0].ID != "call_1" {
		t.Errorf("id = %q", d.Requests[0].ID)
	}
	assertJSONEqual(t, d.Requests[1].Args, `{}`)
}

func TestParseResponseUnparseable(t *testing.T) {
	tests := []struct {
		name string
		resp ChatResponse
	}{
		{"empty", ChatResponse{Content: "   "}},
		{"only think", ChatResponse{Content: "<think>hmm</think>"}},
		{"broken bare json", ChatResponse{Content: `{"tool": "query_devices", "arguments": {"limit": 3}`}},
		{"broken fenced json", ChatResponse{Content: "```json\n{\"tool\": \"query_devices\",}\n```"}},
		{"action without input", ChatResponse{Content: "Action: query_devices"}},
		{"action with string input", ChatResponse{Content: "Action: search_device_docs\nAction Input: cpu tier"}},
		{"action input trailing text", ChatResponse{Content: "Action: query_devices\nAction Input: {\"limit\": 1} and also more"}},
		{"action name with spaces", ChatResponse{Content: "Action: look it up\nAction Input: {}"}},
		{"input without action", ChatResponse{Content: "Action Input: {\"limit\": 1}"}},
		{"empty final answer", ChatResponse{Content: "Final Answer:   "}},
		{"thought only", ChatResponse{Content: "Thought: I need to query the database."}},
		{"mixed final and action", ChatResponse{Content: "Action: query_devices\nAction Input: {}\nFinal Answer: done"}},
		{"mixed envelope", ChatResponse{Content: `{"tool": "query_devices", "arguments": {}, "final_answer": "x"}`}},
		{"non-object args", ChatResponse{Content: `{"tool": "query_devices", "arguments": [1, 2]}`}},
		{"tool marker prose", ChatResponse{Content: `I would call "tool": query_devices with "arguments" limit 3`}},
		{"xml tool call", ChatResponse{Content: "<tool_call>query_devices</tool_call>"}},
		{"native call without name", ChatResponse{ToolCalls: []ToolCall{{ID: "x", Args: json.RawMessage(`{}`)}}}},
		{"native call broken args", ChatResponse{ToolCalls: []ToolCall{{ID: "x", Name: "query_devices", Args: json.RawMessage(`{"limit":`)}}}},
		{"native call array args", ChatResponse{ToolCalls: []ToolCall{{ID: "x", Name: "query_devices", Args: json.RawMessage(`[1]`)}}}},
		{"tool_calls not array", ChatResponse{Content: `{"tool_calls": {"name": "x"}}`}},
		{"final answer not string", ChatResponse{Content: `{"final_answer": 3}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := ParseResponse(tt.resp)
			if d.Kind != DecisionUnparseable {
				t.Fatalf("kind = %s (%+v), want unparseable", d.Kind, d)
			}
			if d.Err == nil || d.Err.Reason == "" {
				t.Error("unparseable decision without a reason")
			}
		})
	}
}

func TestParseResponseDeterministic(t *testing.T) {
	inputs := []string{
		"Final Answer: ok",
		"Action: query_devices\nAction Input: {\"limit\": 1}",
		"Thought: hmm",
	}
	for _, in := range inputs {
		a := ParseResponse(ChatResponse{Content: in})
		b := ParseResponse(ChatResponse{Content: in})
		if a.Kind != b.Kind || a.Answer != b.Answer || len(a.Requests) != len(b.Requests) {
			t.Errorf("ParseResponse(%q) not deterministic: %+v vs %+v", in, a, b)
		}
	}
}

func assertJSONEqual(t *testing.T, got json.RawMessage, want string) {
	t.Helper()
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("invalid JSON %s: %v", got, err)
	}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("invalid expected JSON %s: %v", want, err)
	}
	gb, _ := json.Marshal(g)
	wb, _ := json.Marshal(w)
	if string(gb) != string(wb) {
		t.Errorf("args = %s, want %s", gb, wb)
	}
}
