package translator

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FromClaudeMessages translates an Anthropic messages request by hopping
// through the OpenAI shape and the shared translation path.
func (a *Adapter) FromClaudeMessages(model string, body []byte) (*Request, error) {
	openAIBody, err := mapClaudeToOpenAI(body)
	if err != nil {
		return nil, err
	}
	return a.FromOpenAIChat(model, openAIBody)
}

// mapClaudeToOpenAI reshapes an Anthropic messages body into OpenAI chat
// completions form.
func mapClaudeToOpenAI(body []byte) ([]byte, error) {
	root := gjson.ParseBytes(body)
	messages := root.Get("messages")
	if !messages.IsArray() {
		return nil, fmt.Errorf("request missing messages array")
	}

	out := `{"messages":[]}`

	if model := root.Get("model"); model.Exists() {
		out, _ = sjson.Set(out, "model", model.String())
	}
	for _, key := range []string{"max_tokens", "temperature", "top_p", "top_k"} {
		if v := root.Get(key); v.Exists() {
			out, _ = sjson.Set(out, key, v.Value())
		}
	}
	if stops := root.Get("stop_sequences"); stops.IsArray() {
		var sequences []string
		stops.ForEach(func(_, value gjson.Result) bool {
			sequences = append(sequences, value.String())
			return true
		})
		if len(sequences) > 0 {
			out, _ = sjson.Set(out, "stop", sequences)
		}
	}

	// System prompt: a string or a list of text blocks.
	if system := root.Get("system"); system.Exists() {
		text := ""
		if system.Type == gjson.String {
			text = system.String()
		} else if system.IsArray() {
			system.ForEach(func(_, block gjson.Result) bool {
				if block.Get("type").String() == "text" {
					text += block.Get("text").String()
				}
				return true
			})
		}
		if text != "" {
			msg, _ := sjson.Set(`{"role":"system"}`, "content", text)
			out, _ = sjson.SetRaw(out, "messages.-1", msg)
		}
	}

	messages.ForEach(func(_, message gjson.Result) bool {
		out = appendClaudeMessage(out, message)
		return true
	})

	if tools := root.Get("tools"); tools.IsArray() && len(tools.Array()) > 0 {
		tools.ForEach(func(_, tool gjson.Result) bool {
			openAITool, _ := sjson.Set(`{"type":"function","function":{}}`, "function.name", tool.Get("name").String())
			if desc := tool.Get("description"); desc.Exists() {
				openAITool, _ = sjson.Set(openAITool, "function.description", desc.String())
			}
			if schema := tool.Get("input_schema"); schema.Exists() {
				openAITool, _ = sjson.SetRaw(openAITool, "function.parameters", schema.Raw)
			}
			out, _ = sjson.SetRaw(out, "tools.-1", openAITool)
			return true
		})
	}

	if toolChoice := root.Get("tool_choice"); toolChoice.Exists() {
		switch toolChoice.Get("type").String() {
		case "auto":
			out, _ = sjson.Set(out, "tool_choice", "auto")
		case "any":
			out, _ = sjson.Set(out, "tool_choice", "required")
		case "none":
			out, _ = sjson.Set(out, "tool_choice", "none")
		case "tool":
			choice, _ := sjson.Set(`{"type":"function","function":{}}`, "function.name", toolChoice.Get("name").String())
			out, _ = sjson.SetRaw(out, "tool_choice", choice)
		}
	}

	return []byte(out), nil
}

func appendClaudeMessage(out string, message gjson.Result) string {
	role := message.Get("role").String()
	content := message.Get("content")

	if content.Type == gjson.String {
		msg, _ := sjson.Set(`{"role":""}`, "role", role)
		msg, _ = sjson.Set(msg, "content", content.String())
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
		return out
	}
	if !content.IsArray() {
		return out
	}

	// Blocks split into at most one user/assistant message plus trailing
	// tool messages, preserving block order for tool results.
	msg, _ := sjson.Set(`{"role":""}`, "role", role)
	contentParts := `[]`
	contentCount := 0
	toolCallCount := 0
	textOnly := true
	var toolMessages []string

	content.ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			part, _ := sjson.Set(`{"type":"text"}`, "text", block.Get("text").String())
			contentParts, _ = sjson.SetRaw(contentParts, "-1", part)
			contentCount++
		case "image":
			source := block.Get("source")
			if source.Get("type").String() != "base64" {
				return true
			}
			uri := fmt.Sprintf("data:%s;base64,%s", source.Get("media_type").String(), source.Get("data").String())
			part, _ := sjson.Set(`{"type":"image_url","image_url":{}}`, "image_url.url", uri)
			contentParts, _ = sjson.SetRaw(contentParts, "-1", part)
			contentCount++
			textOnly = false
		case "tool_use":
			toolCall, _ := sjson.Set(`{"type":"function","function":{}}`, "id", block.Get("id").String())
			toolCall, _ = sjson.Set(toolCall, "function.name", block.Get("name").String())
			input := block.Get("input")
			if input.IsObject() {
				toolCall, _ = sjson.Set(toolCall, "function.arguments", input.Raw)
			} else {
				toolCall, _ = sjson.Set(toolCall, "function.arguments", "{}")
			}
			msg, _ = sjson.SetRaw(msg, "tool_calls.-1", toolCall)
			toolCallCount++
		case "tool_result":
			toolMsg, _ := sjson.Set(`{"role":"tool"}`, "tool_call_id", block.Get("tool_use_id").String())
			toolMsg, _ = sjson.Set(toolMsg, "content", extractToolContent(block.Get("content")))
			toolMessages = append(toolMessages, toolMsg)
		}
		return true
	})

	if contentCount > 0 {
		if textOnly {
			text := ""
			gjson.Parse(contentParts).ForEach(func(_, part gjson.Result) bool {
				text += part.Get("text").String()
				return true
			})
			msg, _ = sjson.Set(msg, "content", text)
		} else {
			msg, _ = sjson.SetRaw(msg, "content", contentParts)
		}
	}
	if contentCount > 0 || toolCallCount > 0 {
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
	}
	for _, toolMsg := range toolMessages {
		out, _ = sjson.SetRaw(out, "messages.-1", toolMsg)
	}
	return out
}
