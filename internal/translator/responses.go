package translator

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// unwrapUpstream peels the {response: ...} envelope when present.
func unwrapUpstream(body []byte) gjson.Result {
	root := gjson.ParseBytes(body)
	if response := root.Get("response"); response.Exists() {
		return response
	}
	return root
}

// UpstreamToGemini returns the upstream response in the native Gemini
// schema, which is the envelope's inner response object.
func UpstreamToGemini(body []byte) []byte {
	return []byte(unwrapUpstream(body).Raw)
}

// UpstreamToOpenAIResponse converts a non-streaming upstream response into
// an OpenAI chat completion object.
func UpstreamToOpenAIResponse(model string, body []byte) []byte {
	response := unwrapUpstream(body)

	out := `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant"},"finish_reason":"stop"}]}`
	out, _ = sjson.Set(out, "id", "chatcmpl-"+uuid.NewString())
	out, _ = sjson.Set(out, "created", time.Now().Unix())
	out, _ = sjson.Set(out, "model", model)

	var text, reasoning strings.Builder
	toolCalls := `[]`
	toolCallCount := 0

	response.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if call := part.Get("functionCall"); call.Exists() {
			id := call.Get("id").String()
			if id == "" {
				id = "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
			}
			openAICall, _ := sjson.Set(`{"type":"function","function":{}}`, "id", id)
			openAICall, _ = sjson.Set(openAICall, "function.name", call.Get("name").String())
			args := "{}"
			if argsResult := call.Get("args"); argsResult.Exists() {
				args = argsResult.Raw
			}
			openAICall, _ = sjson.Set(openAICall, "function.arguments", args)
			toolCalls, _ = sjson.SetRaw(toolCalls, "-1", openAICall)
			toolCallCount++
			return true
		}
		if textResult := part.Get("text"); textResult.Exists() {
			if part.Get("thought").Bool() {
				reasoning.WriteString(textResult.String())
			} else {
				text.WriteString(textResult.String())
			}
		}
		return true
	})

	content, inlineReasoning := splitThinkMarkers(text.String())
	if inlineReasoning != "" {
		reasoning.WriteString(inlineReasoning)
	}

	out, _ = sjson.Set(out, "choices.0.message.content", content)
	if reasoning.Len() > 0 {
		out, _ = sjson.Set(out, "choices.0.message.reasoning_content", reasoning.String())
	}
	if toolCallCount > 0 {
		out, _ = sjson.SetRaw(out, "choices.0.message.tool_calls", toolCalls)
		out, _ = sjson.Set(out, "choices.0.finish_reason", "tool_calls")
	}

	if usage := response.Get("usageMetadata"); usage.Exists() {
		out, _ = sjson.Set(out, "usage.prompt_tokens", usage.Get("promptTokenCount").Int())
		out, _ = sjson.Set(out, "usage.completion_tokens", usage.Get("candidatesTokenCount").Int())
		out, _ = sjson.Set(out, "usage.total_tokens", usage.Get("totalTokenCount").Int())
	}
	return []byte(out)
}

// UpstreamToClaudeResponse converts a non-streaming upstream response into
// an Anthropic message object.
func UpstreamToClaudeResponse(model string, body []byte) []byte {
	response := unwrapUpstream(body)

	out := `{"type":"message","role":"assistant","content":[],"stop_reason":"end_turn","stop_sequence":null}`
	out, _ = sjson.Set(out, "id", "msg_"+uuid.NewString())
	out, _ = sjson.Set(out, "model", model)

	sawToolUse := false
	outputChars := 0
	response.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if call := part.Get("functionCall"); call.Exists() {
			id := call.Get("id").String()
			if id == "" {
				id = "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
			}
			block, _ := sjson.Set(`{"type":"tool_use"}`, "id", id)
			block, _ = sjson.Set(block, "name", call.Get("name").String())
			if argsResult := call.Get("args"); argsResult.Exists() {
				block, _ = sjson.SetRaw(block, "input", argsResult.Raw)
			} else {
				block, _ = sjson.SetRaw(block, "input", "{}")
			}
			out, _ = sjson.SetRaw(out, "content.-1", block)
			sawToolUse = true
			return true
		}
		if textResult := part.Get("text"); textResult.Exists() {
			blockType := "text"
			key := "text"
			if part.Get("thought").Bool() {
				blockType = "thinking"
				key = "thinking"
			}
			block, _ := sjson.Set(`{}`, "type", blockType)
			block, _ = sjson.Set(block, key, textResult.String())
			out, _ = sjson.SetRaw(out, "content.-1", block)
			outputChars += len(textResult.String())
		}
		return true
	})

	if sawToolUse {
		out, _ = sjson.Set(out, "stop_reason", "tool_use")
	}

	if usage := response.Get("usageMetadata"); usage.Exists() {
		out, _ = sjson.Set(out, "usage.input_tokens", usage.Get("promptTokenCount").Int())
		out, _ = sjson.Set(out, "usage.output_tokens", usage.Get("candidatesTokenCount").Int())
	} else {
		out, _ = sjson.Set(out, "usage.input_tokens", 0)
		out, _ = sjson.Set(out, "usage.output_tokens", (outputChars+3)/4)
	}
	return []byte(out)
}

// splitThinkMarkers strips inline <思考>…</思考> spans from text, returning
// the remaining content and the extracted reasoning.
func splitThinkMarkers(text string) (content, reasoning string) {
	const openTag = "<思考>"
	const closeTag = "</思考>"
	var contentOut, reasoningOut strings.Builder
	for {
		start := strings.Index(text, openTag)
		if start < 0 {
			contentOut.WriteString(text)
			break
		}
		contentOut.WriteString(text[:start])
		rest := text[start+len(openTag):]
		end := strings.Index(rest, closeTag)
		if end < 0 {
			reasoningOut.WriteString(rest)
			break
		}
		reasoningOut.WriteString(rest[:end])
		text = rest[end+len(closeTag):]
	}
	return contentOut.String(), reasoningOut.String()
}
