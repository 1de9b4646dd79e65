package comprice

import (
	"encoding/json"
	"time"
)

// --- Conversation ---

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleSystem is used for corrective turns injected by the loop after
	// an unparseable model response.
	RoleSystem Role = "system"
)

// Turn is a single entry in a Conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolName and ToolInput are set on tool turns.
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
	// CallID links a tool turn to the request in the preceding assistant turn.
	CallID string `json:"call_id,omitempty"`
	// ToolCalls is set on assistant turns that requested tools.
	ToolCalls []ToolRequest `json:"tool_calls,omitempty"`
}

// Conversation is the append-only log of a single run. The zero value is
// an empty conversation ready to use.
type Conversation struct {
	turns []Turn
}

// Append adds a turn at the end of the log.
func (c *Conversation) Append(t Turn) {
	if len(t.ToolCalls) > 0 {
		t.ToolCalls = append([]ToolRequest(nil), t.ToolCalls...)
	}
	c.turns = append(c.turns, t)
}

// Len returns the number of turns.
func (c *Conversation) Len() int { return len(c.turns) }

// Turns returns a copy of the log. Mutating the result does not affect c.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Last returns the most recent turn, or false if the log is empty.
func (c *Conversation) Last() (Turn, bool) {
	if len(c.turns) == 0 {
		return Turn{}, false
	}
	return c.turns[len(c.turns)-1], true
}

// --- Tool protocol ---

// ToolRequest is a tool invocation requested by the model.
type ToolRequest struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ErrorKind classifies a failed ToolResult.
type ErrorKind string

const (
	KindNone       ErrorKind = ""
	KindValidation ErrorKind = "validation_error"
	KindSchema     ErrorKind = "schema_error"
	KindStore      ErrorKind = "store_error"
	KindProvider   ErrorKind = "provider_error"
	KindEmpty      ErrorKind = "empty_result"
	KindUnknown    ErrorKind = "unknown_tool"
	KindInternal   ErrorKind = "internal_error"
)

// ToolResult is the outcome of one tool invocation. Output is always a
// plain-text observation the model can read; Data carries the structured
// payload for programmatic callers.
type ToolResult struct {
	ToolName  string    `json:"tool_name"`
	Output    string    `json:"output"`
	Data      any       `json:"data,omitempty"`
	Succeeded bool      `json:"succeeded"`
	Kind      ErrorKind `json:"error_kind,omitempty"`
	Err       error     `json:"-"`
}

// Observation renders the result as the text appended to the conversation.
func (r ToolResult) Observation() string {
	if r.Succeeded {
		return r.Output
	}
	msg := r.Output
	if msg == "" && r.Err != nil {
		msg = r.Err.Error()
	}
	return "error (" + string(r.Kind) + "): " + msg
}

// --- LLM protocol ---

// ChatMessage is the provider-facing representation of a Turn.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a native tool call as returned by a provider.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

type ChatRequest struct {
	Messages []ChatMessage   `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ToolDefinition describes a tool to the model. Parameters is the JSON
// Schema sent to providers; Schema is the same schema in typed form, used
// for argument validation.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
	Schema      *Schema         `json:"-"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: "user", Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: "system", Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: "assistant", Content: text}
}

func ToolResultMessage(callID, name, content string) ChatMessage {
	return ChatMessage{Role: "tool", Content: content, ToolCallID: callID, Name: name}
}

// --- Run outcome ---

// OutcomeKind distinguishes answers from failures.
type OutcomeKind string

const (
	OutcomeAnswer  OutcomeKind = "answer"
	OutcomeFailure OutcomeKind = "failure"
)

// Failure reasons reported in Outcome.Reason.
const (
	ReasonStepLimit        = "step_limit_exceeded"
	ReasonModelTimeout     = "model_timeout"
	ReasonModelUnavailable = "model_unavailable"
	ReasonCancelled        = "cancelled"
)

// StepTrace records one tool dispatch for observability.
type StepTrace struct {
	Tool      string        `json:"tool"`
	Input     string        `json:"input"`
	Output    string        `json:"output"`
	Succeeded bool          `json:"succeeded"`
	Duration  time.Duration `json:"duration"`
}

// Outcome is the terminal value of a run. Exactly one is produced per run.
type Outcome struct {
	Kind   OutcomeKind `json:"kind"`
	Text   string      `json:"text,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Err    error       `json:"-"`

	// Steps is the number of model invocations performed.
	Steps int `json:"steps"`
	// Malformed is the number of unparseable model responses.
	Malformed int `json:"malformed"`
	// ToolCalls is the number of tool requests processed, including
	// requests for unknown tools.
	ToolCalls int         `json:"tool_calls"`
	Usage     Usage       `json:"usage"`
	Trace     []StepTrace `json:"trace,omitempty"`
	// Conversation is the full log of a finished run. Nil for cancelled runs.
	Conversation []Turn `json:"conversation,omitempty"`
}

// Answered reports whether the run produced a final answer.
func (o Outcome) Answered() bool { return o.Kind == OutcomeAnswer }
