// Package translator converts the three client dialects (OpenAI chat
// completions, Anthropic messages, Gemini generateContent) into the single
// upstream request shape, and owns the JSON-schema cleaning the upstream
// demands for tool declarations.
package translator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// droppedKeywords are schema fields the upstream rejects outright.
var droppedKeywords = map[string]bool{
	"$schema":          true,
	"uniqueItems":      true,
	"exclusiveMinimum": true,
	"exclusiveMaximum": true,
}

// surfacedKeywords are validation fields the upstream rejects but whose
// intent is preserved as a description suffix.
var surfacedKeywords = map[string]bool{
	"minLength":     true,
	"maxLength":     true,
	"minimum":       true,
	"maximum":       true,
	"minItems":      true,
	"maxItems":      true,
	"minProperties": true,
	"maxProperties": true,
	"pattern":       true,
	"format":        true,
	"multipleOf":    true,
}

// surfacedOrder fixes the suffix ordering so output is deterministic.
var surfacedOrder = []string{
	"minLength", "maxLength", "minimum", "maximum", "minItems", "maxItems",
	"minProperties", "maxProperties", "pattern", "format", "multipleOf",
}

// CleanToolSchema strips the JSON-schema fields the upstream rejects from a
// tool's parameters. Validation constraints are elided from the structure
// and surfaced as a suffix on the top-level description; empty required
// arrays are removed; everything else passes through verbatim.
func CleanToolSchema(schema json.RawMessage) json.RawMessage {
	if len(schema) == 0 {
		return schema
	}
	var root map[string]any
	if err := json.Unmarshal(schema, &root); err != nil {
		return schema
	}

	constraints := make(map[string][]string)
	noAdditional := false
	cleanSchemaNode(root, constraints, &noAdditional)

	suffix := buildConstraintSuffix(constraints, noAdditional)
	if suffix != "" {
		if desc, ok := root["description"].(string); ok && desc != "" {
			root["description"] = desc + " " + suffix
		} else {
			root["description"] = suffix
		}
	}

	out, err := json.Marshal(root)
	if err != nil {
		return schema
	}
	return out
}

func cleanSchemaNode(node any, constraints map[string][]string, noAdditional *bool) {
	switch typed := node.(type) {
	case map[string]any:
		for key, value := range typed {
			if droppedKeywords[key] {
				delete(typed, key)
				continue
			}
			if key == "additionalProperties" {
				if b, ok := value.(bool); ok && !b {
					*noAdditional = true
				}
				delete(typed, key)
				continue
			}
			if surfacedKeywords[key] {
				constraints[key] = append(constraints[key], formatConstraintValue(value))
				delete(typed, key)
				continue
			}
			if key == "required" {
				if arr, ok := value.([]any); ok && len(arr) == 0 {
					delete(typed, key)
					continue
				}
			}
			cleanSchemaNode(value, constraints, noAdditional)
		}
	case []any:
		for _, item := range typed {
			cleanSchemaNode(item, constraints, noAdditional)
		}
	}
}

func buildConstraintSuffix(constraints map[string][]string, noAdditional bool) string {
	var parts []string
	for _, key := range surfacedOrder {
		values := constraints[key]
		if len(values) == 0 {
			continue
		}
		sort.Strings(values)
		for _, value := range values {
			parts = append(parts, fmt.Sprintf("%s: %s", key, value))
		}
	}
	if noAdditional {
		parts = append(parts, "no additional properties")
	}
	if len(parts) == 0 {
		return ""
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatConstraintValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}
		return fmt.Sprintf("%g", typed)
	default:
		raw, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}
		return string(raw)
	}
}
