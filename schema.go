package comprice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is the subset of JSON Schema used to describe tool parameters:
// primitive types, object properties, required fields, array items, enums
// and numeric bounds.
type Schema struct {
	Type                 string             `json:"type"`
	Description          string             `json:"description,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	AdditionalProperties *Schema            `json:"additionalProperties,omitempty"`
}

// Bound returns a pointer to v, for Schema.Minimum and Schema.Maximum.
func Bound(v float64) *float64 { return &v }

// JSON renders the schema for a provider request.
func (s *Schema) JSON() json.RawMessage {
	if s == nil {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	b, err := json.Marshal(s)
	if err != nil {
		// Schema contains only marshalable fields.
		panic(fmt.Sprintf("comprice: marshal schema: %v", err))
	}
	return b
}

// ArgSchema is a tool's parameter schema compiled for validation.
type ArgSchema struct {
	tool     string
	compiled *jsonschema.Schema
}

// CompileArgs compiles s for validating the arguments of tool. Object
// schemas without additionalProperties reject unknown parameters.
func CompileArgs(tool string, s *Schema) (*ArgSchema, error) {
	if s == nil {
		return &ArgSchema{tool: tool}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(s.JSON(), &doc); err != nil {
		return nil, fmt.Errorf("comprice: %s schema: %w", tool, err)
	}
	if s.Type == "object" && s.AdditionalProperties == nil {
		doc["additionalProperties"] = false
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("comprice: %s schema: %w", tool, err)
	}
	compiled, err := jsonschema.CompileString("file:///comprice/tools/"+tool+".json", string(b))
	if err != nil {
		return nil, fmt.Errorf("comprice: compile %s schema: %w", tool, err)
	}
	return &ArgSchema{tool: tool, compiled: compiled}, nil
}

// MustCompileArgs is like CompileArgs but panics on error. It is meant for
// package-level schemas.
func MustCompileArgs(tool string, s *Schema) *ArgSchema {
	a, err := CompileArgs(tool, s)
	if err != nil {
		panic(err)
	}
	return a
}

// Validate decodes raw tool arguments and checks them against the schema.
// Missing or null arguments are treated as an empty object, and null
// parameters as absent. Numbers are kept as json.Number so integers
// survive without float rounding. All failures are *ValidationError.
func (a *ArgSchema) Validate(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ValidationError{Tool: a.tool, Message: "arguments are not valid JSON: " + err.Error()}
	}
	if dec.More() {
		return nil, &ValidationError{Tool: a.tool, Message: "arguments contain trailing data"}
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, &ValidationError{Tool: a.tool, Message: "arguments must be a JSON object"}
	}
	for k, val := range args {
		if val == nil {
			delete(args, k)
		}
	}
	if a.compiled == nil {
		return args, nil
	}
	if err := a.compiled.Validate(args); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, argError(a.tool, ve)
		}
		return nil, &ValidationError{Tool: a.tool, Message: err.Error()}
	}
	return args, nil
}

var argSchemas sync.Map // argKey -> *ArgSchema

type argKey struct {
	tool   string
	schema *Schema
}

// ValidateArgs validates raw against s, compiling s on first use.
func ValidateArgs(tool string, s *Schema, raw json.RawMessage) (map[string]any, error) {
	key := argKey{tool, s}
	cached, ok := argSchemas.Load(key)
	if !ok {
		a, err := CompileArgs(tool, s)
		if err != nil {
			return nil, err
		}
		cached, _ = argSchemas.LoadOrStore(key, a)
	}
	return cached.(*ArgSchema).Validate(raw)
}

// argError reduces a validation error tree to its first leaf, ordered by
// instance location, and names the offending top-level parameter.
func argError(tool string, ve *jsonschema.ValidationError) *ValidationError {
	var leaves []*jsonschema.ValidationError
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].InstanceLocation != leaves[j].InstanceLocation {
			return leaves[i].InstanceLocation < leaves[j].InstanceLocation
		}
		return leaves[i].Message < leaves[j].Message
	})
	leaf := leaves[0]

	path := strings.Split(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/")
	if leaf.InstanceLocation == "" {
		// required and additionalProperties report at the object itself and
		// quote the parameter name in the message.
		return &ValidationError{Tool: tool, Field: quotedName(leaf.Message), Message: leaf.Message}
	}
	field := unescapePointer(path[0])
	msg := leaf.Message
	if len(path) > 1 {
		msg = "at /" + strings.Join(path[1:], "/") + ": " + msg
	}
	return &ValidationError{Tool: tool, Field: field, Message: msg}
}

func quotedName(msg string) string {
	i := strings.IndexByte(msg, '\'')
	if i < 0 {
		return ""
	}
	j := strings.IndexByte(msg[i+1:], '\'')
	if j < 0 {
		return ""
	}
	return msg[i+1 : i+1+j]
}

func unescapePointer(s string) string {
	return strings.NewReplacer("~1", "/", "~0", "~").Replace(s)
}

// ArgString returns args[key] as a string, or def when absent.
func ArgString(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return def
}

// ArgInt returns args[key] as an int, or def when absent. Callers
// validate first, so non-integral values fall back to def.
func ArgInt(args map[string]any, key string, def int) int {
	n, ok := args[key].(json.Number)
	if !ok {
		return def
	}
	f, err := n.Float64()
	if err != nil || math.Trunc(f) != f {
		return def
	}
	return int(f)
}
