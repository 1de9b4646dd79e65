package comprice

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/unicode/norm"
)

// DecisionKind is the classification of one model response.
type DecisionKind int

const (
	DecisionUnparseable DecisionKind = iota
	DecisionFinal
	DecisionTool
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionFinal:
		return "final"
	case DecisionTool:
		return "tool"
	default:
		return "unparseable"
	}
}

// Decision is the tagged result of ParseResponse. Exactly one of Answer
// (DecisionFinal), Requests (DecisionTool) or Err (DecisionUnparseable) is
// meaningful.
type Decision struct {
	Kind     DecisionKind
	Answer   string
	Requests []ToolRequest
	Err      *ParseError
}

func unparseable(reason string) Decision {
	return Decision{Kind: DecisionUnparseable, Err: &ParseError{Reason: reason}}
}

var (
	thinkRe       = regexp.MustCompile(`(?is)<think>.*?</think>`)
	actionRe      = regexp.MustCompile(`(?im)^[ \t>*_]*Action[ \t]*:[ \t]*([^\n]*)$`)
	actionInputRe = regexp.MustCompile(`(?i)Action[ \t]*Input[ \t]*:`)
	finalRe       = regexp.MustCompile(`(?ims)^[ \t>*_]*Final[ \t]*Answer[ \t]*:(.*)$`)
	stopRe        = regexp.MustCompile(`(?im)^[ \t]*(Observation|Thought|Final[ \t]*Answer)[ \t]*:`)
	thoughtRe     = regexp.MustCompile(`(?i)^Thought[ \t]*:`)
	toolNameRe    = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)
)

// toolMarkers are fragments that only appear when a model tried to emit a
// structured tool call. Prose containing them that did not parse as one is
// rejected rather than shown to the user as an answer.
var toolMarkers = []string{`"tool":`, `"tool_calls"`, `"arguments"`, `"action_input"`, "<tool_call>", "</tool_call>"}

// ParseResponse classifies a model response as a final answer, one or more
// tool requests, or unparseable. It fails closed: a response that looks
// like an attempted tool call but cannot be extracted exactly is
// unparseable, never guessed.
//
// Recognised forms, in order: native provider tool calls; JSON envelopes
// ({"tool":..,"arguments":..}, {"tool_calls":[..]}, {"final_answer":..},
// {"action":..,"action_input":..}) either bare or in fenced code blocks;
// ReAct "Action:"/"Action Input:" pairs; a "Final Answer:" marker; and
// finally plain prose.
func ParseResponse(resp ChatResponse) Decision {
	if len(resp.ToolCalls) > 0 {
		return parseNativeCalls(resp.ToolCalls)
	}

	content := norm.NFKC.String(resp.Content)
	content = strings.TrimSpace(thinkRe.ReplaceAllString(content, ""))
	if content == "" {
		return unparseable("empty response")
	}

	var (
		requests []ToolRequest
		finals   []string
	)

	blocks, err := jsonBlocks(content)
	if err != nil {
		return unparseable(err.Reason)
	}
	for _, b := range blocks {
		env, perr := parseEnvelope(b)
		if perr != nil {
			return unparseable(perr.Reason)
		}
		requests = append(requests, env.requests...)
		if env.final != nil {
			finals = append(finals, *env.final)
		}
	}

	reqs, perr := parseReAct(content)
	if perr != nil {
		return unparseable(perr.Reason)
	}
	requests = append(requests, reqs...)

	if m := finalRe.FindStringSubmatch(content); m != nil {
		answer := strings.TrimSpace(m[1])
		if answer == "" {
			return unparseable("empty final answer")
		}
		finals = append(finals, answer)
	}

	switch {
	case len(requests) > 0 && len(finals) > 0:
		return unparseable("response mixes a final answer with tool requests")
	case len(requests) > 0:
		return Decision{Kind: DecisionTool, Requests: requests}
	case len(finals) > 0:
		return Decision{Kind: DecisionFinal, Answer: finals[0]}
	}

	if thoughtRe.MatchString(content) {
		return unparseable("reasoning without an action or final answer")
	}
	for _, m := range toolMarkers {
		if strings.Contains(content, m) {
			return unparseable("malformed tool call")
		}
	}
	return Decision{Kind: DecisionFinal, Answer: content}
}

func parseNativeCalls(calls []ToolCall) Decision {
	reqs := make([]ToolRequest, 0, len(calls))
	for _, c := range calls {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return unparseable("tool call without a name")
		}
		args, ok := objectArgs(c.Args)
		if !ok {
			return unparseable("tool call " + name + " has non-object arguments")
		}
		reqs = append(reqs, newRequest(c.ID, name, args))
	}
	return Decision{Kind: DecisionTool, Requests: reqs}
}

func newRequest(id, name string, args json.RawMessage) ToolRequest {
	if id == "" {
		id = NewID()
	}
	return ToolRequest{ID: id, Name: name, Args: args}
}

// objectArgs normalises tool arguments. Absent or null arguments become {};
// a JSON string holding an object (OpenAI style) is unwrapped. Anything
// other than an object is rejected.
func objectArgs(raw json.RawMessage) (json.RawMessage, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("{}"), true
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return json.RawMessage("{}"), true
		}
		raw = []byte(s)
	}
	if raw[0] != '{' || !json.Valid(raw) {
		return nil, false
	}
	return json.RawMessage(raw), true
}

// jsonBlocks returns the JSON candidates in content: fenced code blocks that
// are labelled json or start with '{', and the whole content when it is a
// bare object. A candidate that is not valid JSON is an error.
func jsonBlocks(content string) ([][]byte, *ParseError) {
	src := []byte(content)
	var blocks [][]byte
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))
	walkErr := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		lang := strings.ToLower(string(fb.Language(src)))
		var buf bytes.Buffer
		lines := fb.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		body := bytes.TrimSpace(buf.Bytes())
		if lang == "json" || (len(body) > 0 && body[0] == '{') {
			blocks = append(blocks, body)
		}
		return ast.WalkSkipChildren, nil
	})
	if walkErr != nil {
		return nil, &ParseError{Reason: "markdown: " + walkErr.Error()}
	}
	if len(blocks) == 0 && strings.HasPrefix(content, "{") {
		blocks = append(blocks, src)
	}
	for _, b := range blocks {
		if !json.Valid(b) {
			return nil, &ParseError{Reason: "invalid JSON in response"}
		}
	}
	return blocks, nil
}

type envelope struct {
	requests []ToolRequest
	final    *string
}

// parseEnvelope recognises the JSON envelopes models use to request tools
// or answer. JSON without envelope keys is not an error; it is ordinary
// content (for example a table the model chose to render as JSON).
func parseEnvelope(b []byte) (envelope, *ParseError) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return envelope{}, nil
	}
	var env envelope

	if raw, ok := obj["final_answer"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || strings.TrimSpace(s) == "" {
			return envelope{}, &ParseError{Reason: "final_answer must be a non-empty string"}
		}
		s = strings.TrimSpace(s)
		env.final = &s
	}

	if raw, ok := obj["tool_calls"]; ok {
		var calls []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &calls); err != nil {
			return envelope{}, &ParseError{Reason: "tool_calls must be an array of objects"}
		}
		for _, c := range calls {
			req, perr := envelopeCall(c)
			if perr != nil {
				return envelope{}, perr
			}
			if req == nil {
				return envelope{}, &ParseError{Reason: "tool_calls entry without a tool name"}
			}
			env.requests = append(env.requests, *req)
		}
		return env, nil
	}

	if raw, ok := obj["action"]; ok {
		var action string
		if err := json.Unmarshal(raw, &action); err != nil {
			return envelope{}, &ParseError{Reason: "action must be a string"}
		}
		if strings.EqualFold(strings.TrimSpace(action), "final answer") {
			var s string
			if err := json.Unmarshal(obj["action_input"], &s); err != nil || strings.TrimSpace(s) == "" {
				return envelope{}, &ParseError{Reason: "final answer action requires a string action_input"}
			}
			s = strings.TrimSpace(s)
			env.final = &s
			return env, nil
		}
	}

	req, perr := envelopeCall(obj)
	if perr != nil {
		return envelope{}, perr
	}
	if req != nil {
		env.requests = append(env.requests, *req)
	}
	return env, nil
}

// envelopeCall extracts a single call from obj. It returns nil, nil when obj
// carries no tool name at all.
func envelopeCall(obj map[string]json.RawMessage) (*ToolRequest, *ParseError) {
	var rawArgs json.RawMessage
	hasArgs := false
	for _, key := range []string{"arguments", "args", "parameters", "action_input", "input"} {
		if raw, ok := obj[key]; ok {
			rawArgs, hasArgs = raw, true
			break
		}
	}
	// "tool" always names a call; "name" and "action" only do when arguments
	// accompany them, so records such as {"name": "..."} stay content.
	nameKey := ""
	switch {
	case obj["tool"] != nil:
		nameKey = "tool"
	case obj["name"] != nil && hasArgs:
		nameKey = "name"
	case obj["action"] != nil && hasArgs:
		nameKey = "action"
	}
	var name string
	if nameKey != "" {
		if err := json.Unmarshal(obj[nameKey], &name); err != nil {
			return nil, &ParseError{Reason: nameKey + " must be a string"}
		}
	}
	if nameKey == "" {
		// OpenAI-style {"function":{"name":..,"arguments":..}} entries.
		if raw, ok := obj["function"]; ok {
			var fn map[string]json.RawMessage
			if err := json.Unmarshal(raw, &fn); err != nil {
				return nil, &ParseError{Reason: "function must be an object"}
			}
			req, perr := envelopeCall(fn)
			if id := envelopeID(obj); req != nil && id != "" {
				req.ID = id
			}
			return req, perr
		}
		return nil, nil
	}
	name = strings.TrimSpace(name)
	if !toolNameRe.MatchString(name) {
		return nil, &ParseError{Reason: "invalid tool name"}
	}
	args, ok := objectArgs(rawArgs)
	if !ok {
		return nil, &ParseError{Reason: "arguments for " + name + " must be a JSON object"}
	}
	req := newRequest(envelopeID(obj), name, args)
	return &req, nil
}

// envelopeID returns the call id of a tool envelope. Ids only correlate
// calls with results, so a missing or non-string id is treated as absent
// and the request gets a generated one.
func envelopeID(obj map[string]json.RawMessage) string {
	var id string
	if raw, ok := obj["id"]; ok && json.Unmarshal(raw, &id) != nil {
		return ""
	}
	return id
}

// parseReAct extracts "Action: name" / "Action Input: {...}" pairs. Each
// action must be followed by an input that holds exactly one JSON object
// before the next marker.
func parseReAct(content string) ([]ToolRequest, *ParseError) {
	locs := actionRe.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		if actionInputRe.MatchString(content) {
			return nil, &ParseError{Reason: "action input without an action"}
		}
		return nil, nil
	}
	var reqs []ToolRequest
	for i, loc := range locs {
		name := strings.Trim(strings.TrimSpace(content[loc[2]:loc[3]]), "`*_\"' ")
		if !toolNameRe.MatchString(name) {
			return nil, &ParseError{Reason: "invalid action name"}
		}
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		segment := content[loc[1]:end]
		in := actionInputRe.FindStringIndex(segment)
		if in == nil {
			return nil, &ParseError{Reason: "action " + name + " without an action input"}
		}
		input := segment[in[1]:]
		if stop := stopRe.FindStringIndex(input); stop != nil {
			input = input[:stop[0]]
		}
		args, ok := firstObject(input)
		if !ok {
			return nil, &ParseError{Reason: "action input for " + name + " is not a JSON object"}
		}
		reqs = append(reqs, newRequest("", name, args))
	}
	return reqs, nil
}

// firstObject decodes the single JSON object in s, ignoring code fences
// around it. Trailing text other than a closing fence is rejected.
func firstObject(s string) (json.RawMessage, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, false
	}
	prefix := strings.TrimSpace(s[:start])
	prefix = strings.TrimSpace(strings.TrimPrefix(prefix, "```"))
	if prefix != "" && !strings.EqualFold(prefix, "json") {
		return nil, false
	}
	dec := json.NewDecoder(strings.NewReader(s[start:]))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, false
	}
	rest := strings.TrimSpace(s[start+int(dec.InputOffset()):])
	rest = strings.TrimSpace(strings.TrimPrefix(rest, "```"))
	if rest != "" {
		return nil, false
	}
	return raw, true
}
