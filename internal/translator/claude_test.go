package translator

import (
	"testing"

	"github.com/tidwall/gjson"
)

func TestMapClaudeToOpenAI_BasicShapes(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4-5",
		"max_tokens": 1000,
		"system": "be helpful",
		"messages": [
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": [{"type": "text", "text": "hi there"}]}
		],
		"stop_sequences": ["STOP"]
	}`
	out, err := mapClaudeToOpenAI([]byte(body))
	if err != nil {
		t.Fatalf("mapClaudeToOpenAI: %v", err)
	}
	parsed := gjson.ParseBytes(out)

	if got := parsed.Get("messages.0.role").String(); got != "system" {
		t.Errorf("first message role = %q, want system", got)
	}
	if got := parsed.Get("messages.0.content").String(); got != "be helpful" {
		t.Errorf("system content = %q", got)
	}
	if got := parsed.Get("messages.1.content").String(); got != "hello" {
		t.Errorf("user content = %q", got)
	}
	if got := parsed.Get("messages.2.content").String(); got != "hi there" {
		t.Errorf("assistant content = %q", got)
	}
	if got := parsed.Get("max_tokens").Int(); got != 1000 {
		t.Errorf("max_tokens = %d", got)
	}
	if got := parsed.Get("stop.0").String(); got != "STOP" {
		t.Errorf("stop = %q", got)
	}
}

func TestMapClaudeToOpenAI_ToolUseAndResult(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4-5",
		"messages": [
			{"role": "user", "content": "weather?"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "checking"},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "SF"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "toolu_1", "content": "sunny"}
			]}
		]
	}`
	out, err := mapClaudeToOpenAI([]byte(body))
	if err != nil {
		t.Fatalf("mapClaudeToOpenAI: %v", err)
	}
	parsed := gjson.ParseBytes(out)

	assistant := parsed.Get("messages.1")
	if got := assistant.Get("tool_calls.0.id").String(); got != "toolu_1" {
		t.Errorf("tool call id = %q", got)
	}
	if got := assistant.Get("tool_calls.0.function.name").String(); got != "get_weather" {
		t.Errorf("tool call name = %q", got)
	}
	args := assistant.Get("tool_calls.0.function.arguments").String()
	if gjson.Get(args, "city").String() != "SF" {
		t.Errorf("arguments = %q", args)
	}

	toolMsg := parsed.Get("messages.2")
	if toolMsg.Get("role").String() != "tool" {
		t.Errorf("tool result role = %q, want tool", toolMsg.Get("role").String())
	}
	if toolMsg.Get("tool_call_id").String() != "toolu_1" {
		t.Errorf("tool_call_id = %q", toolMsg.Get("tool_call_id").String())
	}
	if toolMsg.Get("content").String() != "sunny" {
		t.Errorf("tool content = %q", toolMsg.Get("content").String())
	}
}

func TestMapClaudeToOpenAI_ToolsAndChoice(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4-5",
		"messages": [{"role": "user", "content": "x"}],
		"tools": [{"name": "calc", "description": "adds", "input_schema": {"type": "object", "properties": {"a": {"type": "number"}}}}],
		"tool_choice": {"type": "any"}
	}`
	out, err := mapClaudeToOpenAI([]byte(body))
	if err != nil {
		t.Fatalf("mapClaudeToOpenAI: %v", err)
	}
	parsed := gjson.ParseBytes(out)

	tool := parsed.Get("tools.0")
	if tool.Get("type").String() != "function" || tool.Get("function.name").String() != "calc" {
		t.Errorf("tool mapping wrong: %s", tool.Raw)
	}
	if !tool.Get("function.parameters.properties.a").Exists() {
		t.Errorf("input_schema must map to parameters: %s", tool.Raw)
	}
	if got := parsed.Get("tool_choice").String(); got != "required" {
		t.Errorf("tool_choice = %q, want required", got)
	}
}

func TestMapClaudeToOpenAI_ImageBlocks(t *testing.T) {
	body := `{
		"model": "claude-sonnet-4-5",
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "look"},
			{"type": "image", "source": {"type": "base64", "media_type": "image/png", "data": "aGk="}}
		]}]
	}`
	out, err := mapClaudeToOpenAI([]byte(body))
	if err != nil {
		t.Fatalf("mapClaudeToOpenAI: %v", err)
	}
	url := gjson.GetBytes(out, "messages.0.content.1.image_url.url").String()
	if url != "data:image/png;base64,aGk=" {
		t.Errorf("image url = %q", url)
	}
}

func TestFromClaudeMessages_EndToEnd(t *testing.T) {
	adapter := testAdapter()
	body := `{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[{"role":"user","content":"ping"}]}`
	req, err := adapter.FromClaudeMessages("claude-sonnet-4-5", []byte(body))
	if err != nil {
		t.Fatalf("FromClaudeMessages: %v", err)
	}
	if got := gjson.GetBytes(req.Body, "contents.0.parts.0.text").String(); got != "ping" {
		t.Errorf("translated text = %q", got)
	}
	if got := gjson.GetBytes(req.Body, "generationConfig.maxOutputTokens").Int(); got != 100 {
		t.Errorf("maxOutputTokens = %d, want 100", got)
	}
}
