package comprice

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantField string // empty = valid
	}{
		{"valid", `{"query": "cpu tier", "top_k": 5}`, ""},
		{"integral float accepted", `{"query": "x", "top_k": 3.0}`, ""},
		{"missing required", `{"top_k": 3}`, "query"},
		{"null required", `{"query": null}`, "query"},
		{"wrong type", `{"query": 42}`, "query"},
		{"fractional integer", `{"query": "x", "top_k": 2.5}`, "top_k"},
		{"below minimum", `{"query": "x", "top_k": 0}`, "top_k"},
		{"above maximum", `{"query": "x", "top_k": 21}`, "top_k"},
		{"unknown parameter", `{"query": "x", "k": 2}`, "k"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateArgs("search_device_docs", searchSchema, json.RawMessage(tt.raw))
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.wantField || ve.Tool != "search_device_docs" {
				t.Errorf("field = %q tool = %q, want %q", ve.Field, ve.Tool, tt.wantField)
			}
		})
	}
}

func TestValidateArgsShape(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `"query"`, `{"query": "x"} {}`, `{"query":`} {
		_, err := ValidateArgs("t", searchSchema, json.RawMessage(raw))
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("ValidateArgs(%s) err = %v, want ValidationError", raw, err)
		}
	}
	args, err := ValidateArgs("t", &Schema{Type: "object"}, nil)
	if err != nil || len(args) != 0 {
		t.Errorf("empty args = %v, %v", args, err)
	}
}

func TestValidateArgsNested(t *testing.T) {
	s := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"columns": {Type: "array", Items: &Schema{Type: "string"}},
			"order":   {Type: "string", Enum: []string{"asc", "desc"}},
		},
	}
	_, err := ValidateArgs("t", s, json.RawMessage(`{"columns": ["brand", 3]}`))
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "columns" || !strings.Contains(ve.Message, "/1") {
		t.Errorf("array item error = %v", err)
	}
	if _, err := ValidateArgs("t", s, json.RawMessage(`{"order": "up"}`)); err == nil {
		t.Error("enum violation accepted")
	}
	if _, err := ValidateArgs("t", s, json.RawMessage(`{"columns": ["brand"], "order": "desc"}`)); err != nil {
		t.Errorf("valid nested args rejected: %v", err)
	}
}

func TestCompileArgs(t *testing.T) {
	a, err := CompileArgs("search_device_docs", searchSchema)
	if err != nil {
		t.Fatalf("CompileArgs: %v", err)
	}
	args, err := a.Validate(json.RawMessage(`{"query": "gpu", "top_k": null}`))
	if err != nil {
		t.Fatalf("null optional parameter rejected: %v", err)
	}
	if _, ok := args["top_k"]; ok {
		t.Errorf("null parameter kept: %v", args)
	}
	if _, err := a.Validate(json.RawMessage(`{"query": "gpu", "top_k": 99}`)); err == nil {
		t.Error("bound violation accepted")
	}

	if _, err := CompileArgs("broken", &Schema{Type: "strnig"}); err == nil {
		t.Error("invalid schema type compiled")
	}
	if _, err := CompileArgs("none", nil); err != nil {
		t.Errorf("nil schema: %v", err)
	}
}

func TestMustCompileArgsPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustCompileArgs("broken", &Schema{Type: "strnig"})
}

func TestArgHelpers(t *testing.T) {
	args, err := ValidateArgs("t", searchSchema, json.RawMessage(`{"query": "gpu", "top_k": 7}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := ArgString(args, "query", ""); got != "gpu" {
		t.Errorf("ArgString = %q", got)
	}
	if got := ArgInt(args, "top_k", 3); got != 7 {
		t.Errorf("ArgInt = %d", got)
	}
	if got := ArgInt(args, "missing", 3); got != 3 {
		t.Errorf("ArgInt default = %d", got)
	}
}

func TestSchemaJSON(t *testing.T) {
	var decoded map[string]any
	if err := json.Unmarshal(searchSchema.JSON(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["type"] != "object" {
		t.Errorf("type = %v", decoded["type"])
	}
	props := decoded["properties"].(map[string]any)
	topK := props["top_k"].(map[string]any)
	if topK["maximum"] != float64(20) {
		t.Errorf("top_k = %v", topK)
	}
	var nilSchema *Schema
	if string(nilSchema.JSON()) != `{"type":"object","properties":{}}` {
		t.Errorf("nil schema JSON = %s", nilSchema.JSON())
	}
}
