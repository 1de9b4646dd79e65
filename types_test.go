package comprice

import (
	"errors"
	"testing"
)

func TestConversationAppendOnly(t *testing.T) {
	var c Conversation
	reqs := []ToolRequest{{ID: "1", Name: "query_devices"}}
	c.Append(Turn{Role: RoleUser, Content: "q"})
	c.Append(Turn{Role: RoleAssistant, ToolCalls: reqs})

	reqs[0].Name = "mutated"
	turns := c.Turns()
	turns[0].Content = "changed"

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2", c.Len())
	}
	again := c.Turns()
	if again[0].Content != "q" {
		t.Error("Turns() result aliases the log")
	}
	if again[1].ToolCalls[0].Name != "query_devices" {
		t.Error("Append kept a reference to the caller's ToolCalls slice")
	}
	last, ok := c.Last()
	if !ok || last.Role != RoleAssistant {
		t.Errorf("Last = %+v, %v", last, ok)
	}
}

func TestConversationLastEmpty(t *testing.T) {
	var c Conversation
	if _, ok := c.Last(); ok {
		t.Error("empty conversation should have no last turn")
	}
}

func TestToolResultObservation(t *testing.T) {
	ok := ToolResult{Output: "3 rows", Succeeded: true}
	if got := ok.Observation(); got != "3 rows" {
		t.Errorf("success observation = %q", got)
	}
	fail := ToolResult{Kind: KindStore, Err: errors.New("timeout")}
	if got, want := fail.Observation(), "error (store_error): timeout"; got != want {
		t.Errorf("failure observation = %q, want %q", got, want)
	}
	empty := EmptyResult("query_devices", "no rows found")
	if got, want := empty.Observation(), "error (empty_result): no rows found"; got != want {
		t.Errorf("empty observation = %q, want %q", got, want)
	}
}
