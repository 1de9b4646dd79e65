package comprice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Tool is a capability the model can invoke.
//
// Describe must return the same definition on every call. Invoke validates
// args against the definition's schema and performs the underlying store
// call. Only *ValidationError and *SchemaError are returned as errors;
// store failures and empty results are reported in the ToolResult.
type Tool interface {
	Describe() ToolDefinition
	Invoke(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// ToolRegistry holds the tools available to a run and dispatches requests
// by name.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates a registry holding tools. A later tool with the
// same name replaces an earlier one.
func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Add(t)
	}
	return r
}

// Add registers a tool.
func (r *ToolRegistry) Add(t Tool) {
	name := t.Describe().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Lookup returns the tool registered under name.
func (r *ToolRegistry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names, sorted.
func (r *ToolRegistry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Definitions returns all tool definitions in registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		d := r.tools[name].Describe()
		if len(d.Parameters) == 0 {
			d.Parameters = d.Schema.JSON()
		}
		defs = append(defs, d)
	}
	return defs
}

// Invoke dispatches req and always returns a ToolResult. Unknown tools,
// validation and schema errors, and panics inside a tool are converted into
// failed results so the model can observe them.
func (r *ToolRegistry) Invoke(ctx context.Context, req ToolRequest) (res ToolResult) {
	t, ok := r.tools[req.Name]
	if !ok {
		return ToolResult{
			ToolName: req.Name,
			Output:   fmt.Sprintf("unknown tool %q; available tools: %s", req.Name, strings.Join(r.Names(), ", ")),
			Kind:     KindUnknown,
		}
	}
	defer func() {
		if p := recover(); p != nil {
			res = ToolResult{
				ToolName: req.Name,
				Output:   fmt.Sprintf("tool %s failed unexpectedly", req.Name),
				Kind:     KindInternal,
				Err:      fmt.Errorf("tool %s panicked: %v", req.Name, p),
			}
		}
	}()
	res, err := t.Invoke(ctx, req.Args)
	if err != nil {
		return ErrorResult(req.Name, err)
	}
	if res.ToolName == "" {
		res.ToolName = req.Name
	}
	return res
}

// ErrorResult converts err into a failed ToolResult, classifying it by type.
func ErrorResult(tool string, err error) ToolResult {
	res := ToolResult{ToolName: tool, Output: err.Error(), Err: err}
	var (
		ve *ValidationError
		se *SchemaError
		pe *ProviderError
		st *StoreError
	)
	switch {
	case errors.As(err, &ve):
		res.Kind = KindValidation
	case errors.As(err, &se):
		res.Kind = KindSchema
	case errors.As(err, &pe):
		res.Kind = KindProvider
	case errors.As(err, &st):
		res.Kind = KindStore
		if st.Timeout() {
			res.Output = fmt.Sprintf("%s %s timed out", st.Store, st.Op)
		}
	case errors.Is(err, context.DeadlineExceeded):
		res.Kind = KindStore
		res.Output = "tool call timed out"
	default:
		res.Kind = KindInternal
	}
	return res
}

// EmptyResult reports a successful call that matched nothing.
func EmptyResult(tool, msg string) ToolResult {
	return ToolResult{ToolName: tool, Output: msg, Kind: KindEmpty}
}

// ToolFunc adapts a function into a Tool with a fixed definition.
type ToolFunc struct {
	Def ToolDefinition
	Fn  func(ctx context.Context, args map[string]any) (ToolResult, error)
}

// Describe implements Tool.
func (f ToolFunc) Describe() ToolDefinition { return f.Def }

// Invoke validates args against Def.Schema and calls Fn.
func (f ToolFunc) Invoke(ctx context.Context, raw json.RawMessage) (ToolResult, error) {
	args, err := ValidateArgs(f.Def.Name, f.Def.Schema, raw)
	if err != nil {
		return ToolResult{}, err
	}
	return f.Fn(ctx, args)
}
