package translator

import (
	"testing"

	"github.com/tidwall/gjson"

	"github.com/yusnake/antigravity2api/internal/signature"
)

func testAdapter() *Adapter {
	return NewAdapter(signature.NewCache(), Defaults{
		Temperature:     1.0,
		TopP:            0.95,
		TopK:            64,
		MaxOutputTokens: 65535,
	})
}

func TestFromOpenAIChat_BasicUserMessage(t *testing.T) {
	adapter := testAdapter()
	req, err := adapter.FromOpenAIChat("gemini-2.5-flash", []byte(`{"model":"gemini-2.5-flash","messages":[{"role":"user","content":"ping"}]}`))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}

	body := gjson.ParseBytes(req.Body)
	if got := body.Get("contents.0.role").String(); got != "user" {
		t.Errorf("role = %q, want user", got)
	}
	if got := body.Get("contents.0.parts.0.text").String(); got != "ping" {
		t.Errorf("text = %q, want ping", got)
	}
	if req.Thinking {
		t.Error("gemini-2.5-flash must not enable thinking")
	}
}

func TestFromOpenAIChat_SystemBecomesUserTurn(t *testing.T) {
	adapter := testAdapter()
	req, err := adapter.FromOpenAIChat("gemini-2.5-flash", []byte(`{"messages":[{"role":"system","content":"be nice"},{"role":"user","content":"hello"}]}`))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	body := gjson.ParseBytes(req.Body)
	if got := body.Get("contents.0.role").String(); got != "user" {
		t.Errorf("system message role = %q, want user", got)
	}
	if got := body.Get("contents.0.parts.0.text").String(); got != "be nice" {
		t.Errorf("system text = %q", got)
	}
}

func TestFromOpenAIChat_GenerationConfigDefaultsAndStops(t *testing.T) {
	adapter := testAdapter()
	req, err := adapter.FromOpenAIChat("gemini-2.5-flash", []byte(`{"messages":[{"role":"user","content":"x"}],"temperature":0.3,"max_tokens":100}`))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	cfg := gjson.GetBytes(req.Body, "generationConfig")

	if got := cfg.Get("temperature").Float(); got != 0.3 {
		t.Errorf("temperature = %v, want 0.3", got)
	}
	if got := cfg.Get("maxOutputTokens").Int(); got != 100 {
		t.Errorf("maxOutputTokens = %d, want 100", got)
	}
	if got := cfg.Get("topP").Float(); got != 0.95 {
		t.Errorf("topP default = %v, want 0.95", got)
	}
	stops := cfg.Get("stopSequences").Array()
	if len(stops) != 5 || stops[0].String() != "<|user|>" {
		t.Errorf("stop sequences wrong: %s", cfg.Get("stopSequences").Raw)
	}
	if got := cfg.Get("thinkingConfig.thinkingBudget").Int(); got != 0 {
		t.Errorf("thinkingBudget = %d, want 0 for non-thinking model", got)
	}
}

func TestFromOpenAIChat_ThinkingModels(t *testing.T) {
	adapter := testAdapter()
	for _, model := range []string{"gemini-2.5-flash-thinking", "gemini-2.5-pro", "gemini-3-pro-high"} {
		req, err := adapter.FromOpenAIChat(model, []byte(`{"messages":[{"role":"user","content":"x"}]}`))
		if err != nil {
			t.Fatalf("FromOpenAIChat(%s): %v", model, err)
		}
		if !req.Thinking {
			t.Errorf("model %s must enable thinking", model)
		}
		if got := gjson.GetBytes(req.Body, "generationConfig.thinkingConfig.thinkingBudget").Int(); got != 1024 {
			t.Errorf("model %s thinkingBudget = %d, want 1024", model, got)
		}
	}
}

func TestFromOpenAIChat_ToolCallsBecomeModelTurn(t *testing.T) {
	adapter := testAdapter()
	body := `{"messages":[
		{"role":"user","content":"weather?"},
		{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"SF\"}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"sunny"}
	]}`
	req, err := adapter.FromOpenAIChat("gemini-2.5-flash", []byte(body))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	parsed := gjson.ParseBytes(req.Body)

	call := parsed.Get("contents.1.parts.0.functionCall")
	if call.Get("name").String() != "get_weather" {
		t.Errorf("functionCall name = %q", call.Get("name").String())
	}
	if call.Get("args.city").String() != "SF" {
		t.Errorf("functionCall args = %s", call.Get("args").Raw)
	}

	response := parsed.Get("contents.2")
	if response.Get("role").String() != "user" {
		t.Errorf("tool response role = %q, want user", response.Get("role").String())
	}
	fr := response.Get("parts.0.functionResponse")
	if fr.Get("name").String() != "get_weather" {
		t.Errorf("functionResponse name = %q, want paired name", fr.Get("name").String())
	}
	if fr.Get("response.content").String() != "sunny" {
		t.Errorf("functionResponse content = %q", fr.Get("response.content").String())
	}
}

func TestFromOpenAIChat_ConsecutiveToolCallTurnsMerge(t *testing.T) {
	adapter := testAdapter()
	body := `{"messages":[
		{"role":"user","content":"go"},
		{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"a","arguments":"{}"}}]},
		{"role":"assistant","tool_calls":[{"id":"call_2","type":"function","function":{"name":"b","arguments":"{}"}}]}
	]}`
	req, err := adapter.FromOpenAIChat("gemini-2.5-flash", []byte(body))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	contents := gjson.GetBytes(req.Body, "contents").Array()
	if len(contents) != 2 {
		t.Fatalf("expected merged model turn, got %d turns", len(contents))
	}
	parts := contents[1].Get("parts").Array()
	if len(parts) != 2 {
		t.Errorf("merged turn should hold both calls, got %d parts", len(parts))
	}
}

func TestFromOpenAIChat_ConsecutiveToolResponsesMerge(t *testing.T) {
	adapter := testAdapter()
	body := `{"messages":[
		{"role":"user","content":"go"},
		{"role":"assistant","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"a","arguments":"{}"}},
			{"id":"call_2","type":"function","function":{"name":"b","arguments":"{}"}}
		]},
		{"role":"tool","tool_call_id":"call_1","content":"one"},
		{"role":"tool","tool_call_id":"call_2","content":"two"}
	]}`
	req, err := adapter.FromOpenAIChat("gemini-2.5-flash", []byte(body))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	contents := gjson.GetBytes(req.Body, "contents").Array()
	if len(contents) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(contents))
	}
	last := contents[2]
	if len(last.Get("parts").Array()) != 2 {
		t.Errorf("tool responses must merge into one user turn: %s", last.Raw)
	}
}

func TestFromOpenAIChat_Gemini3DropsUnsignedAssistantText(t *testing.T) {
	adapter := testAdapter()
	body := `{"messages":[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"unsigned history"},
		{"role":"user","content":"again"}
	]}`
	req, err := adapter.FromOpenAIChat("gemini-3-pro-high", []byte(body))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	contents := gjson.GetBytes(req.Body, "contents").Array()
	for _, turn := range contents {
		if turn.Get("role").String() == "model" {
			t.Errorf("unsigned assistant text must be dropped for gemini-3: %s", turn.Raw)
		}
	}
}

func TestFromOpenAIChat_Gemini3SignedTextCarriesSignature(t *testing.T) {
	cache := signature.NewCache()
	cache.StoreText("signed history", "sig-abc")
	adapter := NewAdapter(cache, Defaults{Temperature: 1, TopP: 0.95, TopK: 64, MaxOutputTokens: 1024})

	body := `{"messages":[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"signed history"},
		{"role":"user","content":"again"}
	]}`
	req, err := adapter.FromOpenAIChat("gemini-3-pro-high", []byte(body))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	part := gjson.GetBytes(req.Body, "contents.1.parts.0")
	if part.Get("thoughtSignature").String() != "sig-abc" {
		t.Errorf("signed text must carry thoughtSignature: %s", part.Raw)
	}
}

func TestFromOpenAIChat_ClaudeStripsSignaturesAndValidatedMode(t *testing.T) {
	cache := signature.NewCache()
	cache.StoreToolCall("call_1", "sig-tool-123")
	adapter := NewAdapter(cache, Defaults{Temperature: 1, TopP: 0.95, TopK: 64, MaxOutputTokens: 1024})

	body := `{"messages":[
		{"role":"user","content":"go"},
		{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"a","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"done"}
	],"tools":[{"type":"function","function":{"name":"a","parameters":{"type":"object"}}}]}`
	req, err := adapter.FromOpenAIChat("claude-sonnet-4-5", []byte(body))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	parsed := gjson.ParseBytes(req.Body)

	parsed.Get("contents").ForEach(func(_, turn gjson.Result) bool {
		turn.Get("parts").ForEach(func(_, part gjson.Result) bool {
			if part.Get("thoughtSignature").Exists() {
				t.Errorf("claude requests must strip thoughtSignature: %s", part.Raw)
			}
			return true
		})
		return true
	})
	if got := parsed.Get("toolConfig.functionCallingConfig.mode").String(); got != "VALIDATED" {
		t.Errorf("claude toolConfig mode = %q, want VALIDATED", got)
	}
}

func TestFromOpenAIChat_ClaudeThinkingDisabledWithToolHistory(t *testing.T) {
	adapter := testAdapter()
	body := `{"messages":[
		{"role":"user","content":"go"},
		{"role":"assistant","tool_calls":[{"id":"call_1","type":"function","function":{"name":"a","arguments":"{}"}}]},
		{"role":"tool","tool_call_id":"call_1","content":"done"}
	]}`
	req, err := adapter.FromOpenAIChat("claude-sonnet-4-5-thinking", []byte(body))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	if req.Thinking {
		t.Error("claude thinking with tool history must be forced off")
	}
	if got := gjson.GetBytes(req.Body, "generationConfig.thinkingConfig.thinkingBudget").Int(); got != 0 {
		t.Errorf("thinkingBudget = %d, want 0", got)
	}
}

func TestFromOpenAIChat_ImageModelConfig(t *testing.T) {
	adapter := testAdapter()
	req, err := adapter.FromOpenAIChat("gemini-3-flash-image", []byte(`{"messages":[{"role":"user","content":"draw a cat"}]}`))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	if !req.ImageModel {
		t.Error("image model flag not set")
	}
	modalities := gjson.GetBytes(req.Body, "generationConfig.responseModalities").Array()
	if len(modalities) != 2 || modalities[0].String() != "TEXT" || modalities[1].String() != "IMAGE" {
		t.Errorf("responseModalities wrong: %s", gjson.GetBytes(req.Body, "generationConfig.responseModalities").Raw)
	}
	if gjson.GetBytes(req.Body, "systemInstruction.parts.0.text").String() == "" {
		t.Error("image model must carry a steering system note")
	}
}

func TestFromOpenAIChat_ImagePartsDecodeToInlineData(t *testing.T) {
	adapter := testAdapter()
	body := `{"messages":[{"role":"user","content":[
		{"type":"text","text":"what is this"},
		{"type":"image_url","image_url":{"url":"data:image/png;base64,aGVsbG8="}}
	]}]}`
	req, err := adapter.FromOpenAIChat("gemini-2.5-flash", []byte(body))
	if err != nil {
		t.Fatalf("FromOpenAIChat: %v", err)
	}
	inline := gjson.GetBytes(req.Body, "contents.0.parts.1.inlineData")
	if inline.Get("mimeType").String() != "image/png" {
		t.Errorf("mimeType = %q", inline.Get("mimeType").String())
	}
	if inline.Get("data").String() != "aGVsbG8=" {
		t.Errorf("data = %q", inline.Get("data").String())
	}
}

func TestFromOpenAIChat_MissingMessages(t *testing.T) {
	adapter := testAdapter()
	if _, err := adapter.FromOpenAIChat("gemini-2.5-flash", []byte(`{"model":"x"}`)); err == nil {
		t.Error("missing messages must be rejected")
	}
}

func TestExtractToolContent(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"string", `{"content":"plain"}`, "plain"},
		{"object with text", `{"content":{"text":"obj text","extra":1}}`, "obj text"},
		{"array first text", `{"content":[{"type":"image"},{"type":"text","text":"arr text"}]}`, "arr text"},
		{"number stringified", `{"content":42}`, "42"},
	}
	for _, tc := range cases {
		got := extractToolContent(gjson.Get(tc.input, "content"))
		if got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
