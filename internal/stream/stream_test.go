package stream

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/yusnake/antigravity2api/internal/upstream"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testContext() (*gin.Context, *httptest.ResponseRecorder) {
	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)
	c.Request = httptest.NewRequest("POST", "/v1/chat/completions", nil)
	return c, recorder
}

// sseDataLines extracts the data payloads from a recorded SSE body.
func sseDataLines(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func fakeStream(payloads ...string) *upstream.StreamResult {
	events := make(chan []byte, len(payloads))
	for _, payload := range payloads {
		events <- []byte(payload)
	}
	close(events)
	errs := make(chan error, 1)
	return &upstream.StreamResult{Events: events, Errs: errs}
}

const (
	thinkingPayload = `{"response":{"candidates":[{"content":{"parts":[{"thought":true,"text":"A"}]}}]}}`
	textPayload     = `{"response":{"candidates":[{"content":{"parts":[{"text":"B"}]}}]}}`
	toolPayload     = `{"response":{"candidates":[{"content":{"parts":[{"functionCall":{"id":"call_t1","name":"tool_one","args":{"k":"v"}}}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":9,"totalTokenCount":16}}}`
)

func TestParseUpstreamPayloadClassification(t *testing.T) {
	chunk := ParseUpstreamPayload([]byte(thinkingPayload))
	if len(chunk.Events) != 1 || chunk.Events[0].Type != EventThinking || chunk.Events[0].Text != "A" {
		t.Errorf("thinking classification wrong: %+v", chunk.Events)
	}

	chunk = ParseUpstreamPayload([]byte(toolPayload))
	if len(chunk.Events) != 1 || chunk.Events[0].Type != EventToolCall {
		t.Fatalf("tool classification wrong: %+v", chunk.Events)
	}
	call := chunk.Events[0].ToolCall
	if call.ID != "call_t1" || call.Name != "tool_one" || gjson.Get(call.Args, "k").String() != "v" {
		t.Errorf("tool call = %+v", call)
	}
	if chunk.Usage == nil || chunk.Usage.TotalTokens != 16 {
		t.Errorf("usage = %+v", chunk.Usage)
	}
	if chunk.FinishReason != "STOP" {
		t.Errorf("finish = %q", chunk.FinishReason)
	}

	image := `{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"aGk="}}]}}]}`
	chunk = ParseUpstreamPayload([]byte(image))
	if len(chunk.Events) != 1 || chunk.Events[0].Type != EventImage || chunk.Events[0].Image.MimeType != "image/png" {
		t.Errorf("image classification wrong: %+v", chunk.Events)
	}
}

func TestOpenAISinkDialectParity(t *testing.T) {
	c, recorder := testContext()
	sink := NewOpenAISink(c, "gemini-2.5-flash")

	result := Pump(context.Background(), fakeStream(thinkingPayload, textPayload, toolPayload), sink, nil, false)
	if result.Err != nil {
		t.Fatalf("pump err: %v", result.Err)
	}

	lines := sseDataLines(recorder.Body.String())
	if lines[len(lines)-1] != "[DONE]" {
		t.Fatalf("stream must end with [DONE], got %q", lines[len(lines)-1])
	}

	var sawReasoning, sawContent, sawToolCall, sawFinish bool
	for _, line := range lines[:len(lines)-1] {
		chunk := gjson.Parse(line)
		if chunk.Get("object").String() != "chat.completion.chunk" {
			t.Errorf("chunk object = %q", chunk.Get("object").String())
		}
		delta := chunk.Get("choices.0.delta")
		if delta.Get("reasoning_content").String() == "A" {
			sawReasoning = true
		}
		if delta.Get("content").String() == "B" {
			sawContent = true
		}
		if toolCall := delta.Get("tool_calls.0"); toolCall.Exists() {
			sawToolCall = true
			if toolCall.Get("index").Int() != 0 || toolCall.Get("id").String() != "call_t1" {
				t.Errorf("tool call chunk wrong: %s", toolCall.Raw)
			}
			if toolCall.Get("function.name").String() != "tool_one" {
				t.Errorf("function name = %q", toolCall.Get("function.name").String())
			}
		}
		if chunk.Get("choices.0.finish_reason").String() == "tool_calls" {
			sawFinish = true
		}
	}
	if !sawReasoning || !sawContent || !sawToolCall || !sawFinish {
		t.Errorf("missing chunks: reasoning=%v content=%v tool=%v finish=%v\n%s",
			sawReasoning, sawContent, sawToolCall, sawFinish, recorder.Body.String())
	}
}

func TestOpenAISinkStopWithoutToolCalls(t *testing.T) {
	c, recorder := testContext()
	sink := NewOpenAISink(c, "gemini-2.5-flash")
	Pump(context.Background(), fakeStream(textPayload), sink, nil, false)

	lines := sseDataLines(recorder.Body.String())
	finishLine := lines[len(lines)-2]
	if gjson.Get(finishLine, "choices.0.finish_reason").String() != "stop" {
		t.Errorf("finish_reason = %s", finishLine)
	}
}

func TestClaudeSinkDialectParity(t *testing.T) {
	c, recorder := testContext()
	sink := NewClaudeSink(c, "claude-sonnet-4-5")

	result := Pump(context.Background(), fakeStream(thinkingPayload, textPayload, toolPayload), sink, nil, false)
	if result.Err != nil {
		t.Fatalf("pump err: %v", result.Err)
	}

	body := recorder.Body.String()
	var eventNames []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "event: ") {
			eventNames = append(eventNames, strings.TrimPrefix(line, "event: "))
		}
	}

	wantOrder := []string{
		"message_start",
		"content_block_start", "content_block_delta", "content_block_stop", // thinking A
		"content_block_start", "content_block_delta", "content_block_stop", // text B
		"content_block_start", "content_block_delta", "content_block_stop", // tool_use T
		"message_delta",
		"message_stop",
	}
	if len(eventNames) != len(wantOrder) {
		t.Fatalf("event count = %d, want %d\n%s", len(eventNames), len(wantOrder), body)
	}
	for i, want := range wantOrder {
		if eventNames[i] != want {
			t.Errorf("event %d = %q, want %q", i, eventNames[i], want)
		}
	}

	lines := sseDataLines(body)
	var sawThinking, sawText, sawToolUse, sawStopReason bool
	for _, line := range lines {
		parsed := gjson.Parse(line)
		switch parsed.Get("type").String() {
		case "content_block_delta":
			switch parsed.Get("delta.type").String() {
			case "thinking_delta":
				if parsed.Get("delta.thinking").String() == "A" {
					sawThinking = true
				}
			case "text_delta":
				if parsed.Get("delta.text").String() == "B" {
					sawText = true
				}
			case "input_json_delta":
				if gjson.Get(parsed.Get("delta.partial_json").String(), "k").String() == "v" {
					sawToolUse = true
				}
			}
		case "message_delta":
			if parsed.Get("delta.stop_reason").String() == "tool_use" {
				sawStopReason = true
			}
			if parsed.Get("usage.output_tokens").Int() != 9 {
				t.Errorf("output_tokens = %d, want upstream 9", parsed.Get("usage.output_tokens").Int())
			}
		}
	}
	if !sawThinking || !sawText || !sawToolUse || !sawStopReason {
		t.Errorf("missing events: thinking=%v text=%v tool=%v stop=%v\n%s",
			sawThinking, sawText, sawToolUse, sawStopReason, body)
	}
}

func TestClaudeSinkEstimatesTokensWithoutUsage(t *testing.T) {
	c, recorder := testContext()
	sink := NewClaudeSink(c, "claude-sonnet-4-5")
	// 8 characters of text, no usage metadata: estimate 2 tokens.
	payload := `{"response":{"candidates":[{"content":{"parts":[{"text":"abcdefgh"}]}}]}}`
	Pump(context.Background(), fakeStream(payload), sink, nil, false)

	for _, line := range sseDataLines(recorder.Body.String()) {
		parsed := gjson.Parse(line)
		if parsed.Get("type").String() == "message_delta" {
			if got := parsed.Get("usage.output_tokens").Int(); got != 2 {
				t.Errorf("estimated output_tokens = %d, want 2", got)
			}
		}
	}
}

func TestThinkFilter(t *testing.T) {
	var filter thinkFilter
	content, reasoning := filter.process("hello <思考>hidden</思考> world")
	if content != "hello  world" || reasoning != "hidden" {
		t.Errorf("content = %q, reasoning = %q", content, reasoning)
	}

	// Marker split across deltas.
	filter = thinkFilter{}
	c1, r1 := filter.process("before<思")
	c2, r2 := filter.process("考>inside</思考>after")
	content = c1 + c2
	reasoning = r1 + r2
	if content != "beforeafter" {
		t.Errorf("split-marker content = %q", content)
	}
	if reasoning != "inside" {
		t.Errorf("split-marker reasoning = %q", reasoning)
	}
}

func TestPumpMidStreamErrorEmitsInStream(t *testing.T) {
	events := make(chan []byte, 1)
	events <- []byte(textPayload)
	close(events)
	errs := make(chan error, 1)
	errs <- errors.New("connection reset")
	sr := &upstream.StreamResult{Events: events, Errs: errs}

	c, recorder := testContext()
	sink := NewOpenAISink(c, "gemini-2.5-flash")
	result := Pump(context.Background(), sr, sink, nil, false)

	if result.Err == nil {
		t.Fatal("expected terminal error")
	}
	if !result.Committed {
		t.Fatal("stream with emitted content must be committed")
	}
	body := recorder.Body.String()
	if !strings.Contains(body, "错误: connection reset") {
		t.Errorf("mid-stream error must surface as prefixed content:\n%s", body)
	}
	if !strings.Contains(body, "[DONE]") {
		t.Errorf("error stream must still terminate normally:\n%s", body)
	}
}

type fakeSaver struct {
	saved [][]byte
}

func (f *fakeSaver) SaveImage(data []byte, mimeType string) (string, error) {
	f.saved = append(f.saved, data)
	return "/images/fake.png", nil
}

func TestPumpBuffersImagesUntilComplete(t *testing.T) {
	imagePayload := `{"response":{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"aGVsbG8="}}]}}]}}`
	c, recorder := testContext()
	sink := NewOpenAISink(c, "gemini-3-flash-image")
	saver := &fakeSaver{}

	result := Pump(context.Background(), fakeStream(imagePayload, textPayload), sink, saver, true)
	if result.Err != nil {
		t.Fatalf("pump err: %v", result.Err)
	}
	if len(saver.saved) != 1 || string(saver.saved[0]) != "hello" {
		t.Errorf("saver got %q", saver.saved)
	}
	if !strings.Contains(recorder.Body.String(), "![image](/images/fake.png)") {
		t.Errorf("markdown image block missing:\n%s", recorder.Body.String())
	}
}

func TestPumpCollectsSignatures(t *testing.T) {
	signed := `{"response":{"candidates":[{"content":{"parts":[{"text":"the answer","thoughtSignature":"sig-text"}]}}]}}`
	signedTool := `{"response":{"candidates":[{"content":{"parts":[{"functionCall":{"id":"call_s","name":"f","args":{}},"thoughtSignature":"sig-tool"}]}}]}}`

	c, _ := testContext()
	sink := NewOpenAISink(c, "gemini-3-pro-high")
	result := Pump(context.Background(), fakeStream(signed, signedTool), sink, nil, false)

	if result.Outcome.Text != "the answer" {
		t.Errorf("outcome text = %q", result.Outcome.Text)
	}
	if result.Outcome.TextSignature != "sig-text" {
		t.Errorf("text signature = %q", result.Outcome.TextSignature)
	}
	if result.Outcome.ToolCallSignatures["call_s"] != "sig-tool" {
		t.Errorf("tool signatures = %v", result.Outcome.ToolCallSignatures)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty = %d", got)
	}
	if got := EstimateTokens("abcd"); got != 1 {
		t.Errorf("4 chars = %d, want 1", got)
	}
	if got := EstimateTokens("abcde"); got != 2 {
		t.Errorf("5 chars = %d, want 2", got)
	}
}
