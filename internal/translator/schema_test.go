package translator

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestCleanToolSchema_DropsRejectedKeywords(t *testing.T) {
	input := `{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type": "object",
		"properties": {
			"x": {"type": "string", "minLength": 3, "pattern": "^a"},
			"list": {"type": "array", "uniqueItems": true, "items": {"type": "number", "exclusiveMinimum": 0, "exclusiveMaximum": 10}}
		},
		"additionalProperties": false,
		"required": ["x"]
	}`

	out := string(CleanToolSchema(json.RawMessage(input)))

	for _, banned := range []string{"$schema", "additionalProperties", "uniqueItems", "exclusiveMinimum", "exclusiveMaximum", "minLength", "pattern"} {
		if strings.Contains(out, `"`+banned+`"`) {
			t.Errorf("cleaned schema still contains %q: %s", banned, out)
		}
	}
	if gjson.Get(out, "properties.x.type").String() != "string" {
		t.Errorf("property type not preserved: %s", out)
	}
	required := gjson.Get(out, "required")
	if !required.IsArray() || required.Array()[0].String() != "x" {
		t.Errorf("non-empty required array must be preserved: %s", out)
	}
}

func TestCleanToolSchema_SurfacesConstraintsInDescription(t *testing.T) {
	input := `{
		"type": "object",
		"properties": {"x": {"type": "string", "minLength": 3, "pattern": "^a"}},
		"additionalProperties": false
	}`

	out := string(CleanToolSchema(json.RawMessage(input)))
	desc := gjson.Get(out, "description").String()

	for _, want := range []string{"minLength: 3", "pattern: ^a", "no additional properties"} {
		if !strings.Contains(desc, want) {
			t.Errorf("description missing %q, got %q", want, desc)
		}
	}
}

func TestCleanToolSchema_AppendsToExistingDescription(t *testing.T) {
	input := `{"type": "object", "description": "does a thing", "properties": {"n": {"type": "integer", "minimum": 1, "maximum": 5}}}`

	out := string(CleanToolSchema(json.RawMessage(input)))
	desc := gjson.Get(out, "description").String()

	if !strings.HasPrefix(desc, "does a thing ") {
		t.Errorf("original description must stay in front, got %q", desc)
	}
	if !strings.Contains(desc, "minimum: 1") || !strings.Contains(desc, "maximum: 5") {
		t.Errorf("numeric bounds missing from description: %q", desc)
	}
}

func TestCleanToolSchema_RemovesEmptyRequired(t *testing.T) {
	input := `{"type": "object", "properties": {"x": {"type": "string"}}, "required": []}`
	out := string(CleanToolSchema(json.RawMessage(input)))
	if gjson.Get(out, "required").Exists() {
		t.Errorf("empty required array must be dropped: %s", out)
	}
}

func TestCleanToolSchema_PreservesOtherFieldsVerbatim(t *testing.T) {
	input := `{"type": "object", "properties": {"mode": {"type": "string", "enum": ["a", "b"], "description": "pick one"}}}`
	out := string(CleanToolSchema(json.RawMessage(input)))

	enum := gjson.Get(out, "properties.mode.enum")
	if !enum.IsArray() || len(enum.Array()) != 2 {
		t.Errorf("enum must pass through: %s", out)
	}
	if gjson.Get(out, "properties.mode.description").String() != "pick one" {
		t.Errorf("nested description must pass through: %s", out)
	}
}

func TestCleanToolSchema_NestedAdditionalProperties(t *testing.T) {
	input := `{"type": "object", "properties": {"inner": {"type": "object", "additionalProperties": false, "properties": {"y": {"type": "string"}}}}}`
	out := string(CleanToolSchema(json.RawMessage(input)))

	if strings.Contains(out, "additionalProperties") {
		t.Errorf("nested additionalProperties must be removed: %s", out)
	}
	if !strings.Contains(gjson.Get(out, "description").String(), "no additional properties") {
		t.Errorf("nested additionalProperties:false must surface at top level: %s", out)
	}
}

func TestCleanToolSchema_InvalidJSONPassesThrough(t *testing.T) {
	input := json.RawMessage(`not json`)
	if got := CleanToolSchema(input); string(got) != "not json" {
		t.Errorf("invalid input should pass through, got %s", got)
	}
}
