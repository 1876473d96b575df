package translator

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// stopSequences is always sent; the upstream's chat template leaks these
// sentinels without them.
var stopSequences = []string{
	"<|user|>",
	"<|bot|>",
	"<|context_request|>",
	"<|endoftext|>",
	"<|end_of_turn|>",
}

// thinkingModelAllowlist names models with chain-of-thought enabled that the
// suffix and prefix rules below do not catch.
var thinkingModelAllowlist = map[string]bool{
	"gemini-2.5-pro-preview-06-05": true,
	"gemini-2.5-flash-thinking":    true,
}

const imageSteeringNote = "You may include generated images in your reply. Produce the image inline rather than describing it."

// thinkingBudgetTokens is the fixed budget granted to thinking-capable
// models.
const thinkingBudgetTokens = 1024

// Defaults supplies generation parameters for requests that omit them.
type Defaults struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
}

// ThinkingEnabled reports whether chain-of-thought is on for a model name.
func ThinkingEnabled(model string) bool {
	if strings.HasSuffix(model, "-thinking") {
		return true
	}
	if model == "gemini-2.5-pro" {
		return true
	}
	if strings.HasPrefix(model, "gemini-3-pro-") {
		return true
	}
	return thinkingModelAllowlist[model]
}

// IsGemini3 reports whether the model enforces thought-signature continuity.
func IsGemini3(model string) bool {
	return strings.Contains(model, "gemini-3")
}

// IsClaude reports whether the model belongs to the Claude family, which the
// upstream hosts with extra constraints.
func IsClaude(model string) bool {
	return strings.Contains(strings.ToLower(model), "claude")
}

// IsImageModel reports whether the model generates images.
func IsImageModel(model string) bool {
	return strings.Contains(model, "-image")
}

// buildGenerationConfig derives the upstream generationConfig from request
// params, falling back to configured defaults. params is the client request
// root; the keys read here are the OpenAI-style names.
func buildGenerationConfig(params gjson.Result, model string, defaults Defaults, thinking bool) string {
	out := `{}`

	temperature := defaults.Temperature
	if v := params.Get("temperature"); v.Exists() {
		temperature = v.Float()
	}
	out, _ = sjson.Set(out, "temperature", temperature)

	topP := defaults.TopP
	if v := params.Get("top_p"); v.Exists() {
		topP = v.Float()
	}
	out, _ = sjson.Set(out, "topP", topP)

	topK := int64(defaults.TopK)
	if v := params.Get("top_k"); v.Exists() {
		topK = v.Int()
	}
	out, _ = sjson.Set(out, "topK", topK)

	maxTokens := int64(defaults.MaxOutputTokens)
	if v := params.Get("max_tokens"); v.Exists() {
		maxTokens = v.Int()
	} else if v = params.Get("max_completion_tokens"); v.Exists() {
		maxTokens = v.Int()
	}
	out, _ = sjson.Set(out, "maxOutputTokens", maxTokens)

	out, _ = sjson.Set(out, "stopSequences", stopSequences)

	budget := 0
	if thinking {
		budget = thinkingBudgetTokens
	}
	out, _ = sjson.Set(out, "thinkingConfig.thinkingBudget", budget)
	if thinking {
		out, _ = sjson.Set(out, "thinkingConfig.includeThoughts", true)
	}

	if IsImageModel(model) {
		out, _ = sjson.Set(out, "responseModalities", []string{"TEXT", "IMAGE"})
	}

	return out
}
