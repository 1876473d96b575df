package translator

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FromGemini translates a native generateContent request. Contents pass
// through; generation defaults, the fixed stop sequences, thinking config
// and schema cleaning are still applied.
func (a *Adapter) FromGemini(model string, body []byte) (*Request, error) {
	root := gjson.ParseBytes(body)
	contents := root.Get("contents")
	if !contents.IsArray() {
		return nil, fmt.Errorf("request missing contents array")
	}

	thinking := ThinkingEnabled(model)

	out := `{"contents":[]}`
	out, _ = sjson.SetRaw(out, "contents", contents.Raw)

	systemInstruction := root.Get("systemInstruction")
	if !systemInstruction.Exists() {
		systemInstruction = root.Get("system_instruction")
	}
	if systemInstruction.Exists() {
		out, _ = sjson.SetRaw(out, "systemInstruction", systemInstruction.Raw)
	}
	if IsImageModel(model) {
		if systemInstruction.Exists() {
			part, _ := sjson.Set(`{}`, "text", imageSteeringNote)
			out, _ = sjson.SetRaw(out, "systemInstruction.parts.-1", part)
		} else {
			out, _ = sjson.Set(out, "systemInstruction.role", "user")
			out, _ = sjson.Set(out, "systemInstruction.parts.0.text", imageSteeringNote)
		}
	}

	out, _ = sjson.SetRaw(out, "generationConfig", mergeGeminiGenerationConfig(root.Get("generationConfig"), model, a.defaults, thinking))

	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		out, _ = sjson.SetRaw(out, "tools", cleanGeminiTools(tools))
	}
	if toolConfig := root.Get("toolConfig"); toolConfig.Exists() {
		out, _ = sjson.SetRaw(out, "toolConfig", toolConfig.Raw)
	}

	return &Request{
		Model:      model,
		Body:       []byte(out),
		ImageModel: IsImageModel(model),
		Thinking:   thinking,
	}, nil
}

// mergeGeminiGenerationConfig keeps the client's generationConfig values and
// fills the gaps with the configured defaults plus the fixed stop sequences.
func mergeGeminiGenerationConfig(clientConfig gjson.Result, model string, defaults Defaults, thinking bool) string {
	out := `{}`
	if clientConfig.IsObject() {
		out = clientConfig.Raw
	}

	if !gjson.Get(out, "temperature").Exists() {
		out, _ = sjson.Set(out, "temperature", defaults.Temperature)
	}
	if !gjson.Get(out, "topP").Exists() {
		out, _ = sjson.Set(out, "topP", defaults.TopP)
	}
	if !gjson.Get(out, "topK").Exists() {
		out, _ = sjson.Set(out, "topK", defaults.TopK)
	}
	if !gjson.Get(out, "maxOutputTokens").Exists() {
		out, _ = sjson.Set(out, "maxOutputTokens", defaults.MaxOutputTokens)
	}
	out, _ = sjson.Set(out, "stopSequences", stopSequences)

	budget := 0
	if thinking {
		budget = thinkingBudgetTokens
	}
	out, _ = sjson.Set(out, "thinkingConfig.thinkingBudget", budget)
	if thinking {
		out, _ = sjson.Set(out, "thinkingConfig.includeThoughts", true)
	} else {
		out, _ = sjson.Delete(out, "thinkingConfig.includeThoughts")
	}

	if IsImageModel(model) {
		out, _ = sjson.Set(out, "responseModalities", []string{"TEXT", "IMAGE"})
	}
	return out
}

func cleanGeminiTools(tools gjson.Result) string {
	out := `[]`
	tools.ForEach(func(_, tool gjson.Result) bool {
		declarations := tool.Get("functionDeclarations")
		if !declarations.IsArray() {
			out, _ = sjson.SetRaw(out, "-1", tool.Raw)
			return true
		}
		cleanedTool := `{"functionDeclarations":[]}`
		declarations.ForEach(func(_, decl gjson.Result) bool {
			cleaned := decl.Raw
			params := decl.Get("parameters")
			if !params.Exists() {
				params = decl.Get("parametersJsonSchema")
				if params.Exists() {
					cleaned, _ = sjson.Delete(cleaned, "parametersJsonSchema")
				}
			}
			if params.Exists() {
				cleanedParams := CleanToolSchema(json.RawMessage(params.Raw))
				cleaned, _ = sjson.SetRaw(cleaned, "parameters", string(cleanedParams))
			}
			cleanedTool, _ = sjson.SetRaw(cleanedTool, "functionDeclarations.-1", cleaned)
			return true
		})
		out, _ = sjson.SetRaw(out, "-1", cleanedTool)
		return true
	})
	return out
}
