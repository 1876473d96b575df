package stream

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// ClaudeSink emits the Anthropic event-stream sequence: message_start,
// per-block content_block_start/delta/stop, message_delta, message_stop.
type ClaudeSink struct {
	writer    *Writer
	model     string
	messageID string

	started     bool
	blockIndex  int
	blockOpen   bool
	blockType   string
	sawToolCall bool
	outputChars int
}

// NewClaudeSink creates a sink for the Anthropic streaming dialect.
func NewClaudeSink(c *gin.Context, model string) *ClaudeSink {
	return &ClaudeSink{
		writer:    NewWriter(c),
		model:     model,
		messageID: "msg_" + uuid.NewString(),
	}
}

func (s *ClaudeSink) Committed() bool { return s.writer.Committed() }

func (s *ClaudeSink) Emit(ev Event) {
	s.ensureStarted()
	switch ev.Type {
	case EventThinking:
		s.ensureBlock("thinking")
		delta := `{"type":"content_block_delta","delta":{"type":"thinking_delta"}}`
		delta, _ = sjson.Set(delta, "index", s.blockIndex)
		delta, _ = sjson.Set(delta, "delta.thinking", ev.Text)
		s.writer.Named("content_block_delta", []byte(delta))
		s.outputChars += len(ev.Text)
	case EventText:
		s.ensureBlock("text")
		delta := `{"type":"content_block_delta","delta":{"type":"text_delta"}}`
		delta, _ = sjson.Set(delta, "index", s.blockIndex)
		delta, _ = sjson.Set(delta, "delta.text", ev.Text)
		s.writer.Named("content_block_delta", []byte(delta))
		s.outputChars += len(ev.Text)
	case EventToolCall:
		s.closeBlock()
		s.sawToolCall = true

		start := `{"type":"content_block_start","content_block":{"type":"tool_use","input":{}}}`
		start, _ = sjson.Set(start, "index", s.blockIndex)
		start, _ = sjson.Set(start, "content_block.id", ev.ToolCall.ID)
		start, _ = sjson.Set(start, "content_block.name", ev.ToolCall.Name)
		s.writer.Named("content_block_start", []byte(start))

		delta := `{"type":"content_block_delta","delta":{"type":"input_json_delta"}}`
		delta, _ = sjson.Set(delta, "index", s.blockIndex)
		delta, _ = sjson.Set(delta, "delta.partial_json", ev.ToolCall.Args)
		s.writer.Named("content_block_delta", []byte(delta))
		s.outputChars += len(ev.ToolCall.Args)

		stop := `{"type":"content_block_stop"}`
		stop, _ = sjson.Set(stop, "index", s.blockIndex)
		s.writer.Named("content_block_stop", []byte(stop))
		s.blockIndex++
	case EventImage:
		// Buffered by the engine.
	}
}

func (s *ClaudeSink) Finish(usage *Usage) {
	s.ensureStarted()
	s.closeBlock()

	stopReason := "end_turn"
	if s.sawToolCall {
		stopReason = "tool_use"
	}
	outputTokens := int64((s.outputChars + 3) / 4)
	inputTokens := int64(0)
	if usage != nil {
		if usage.CompletionTokens > 0 {
			outputTokens = usage.CompletionTokens
		}
		inputTokens = usage.PromptTokens
	}

	delta := `{"type":"message_delta","delta":{"stop_sequence":null},"usage":{}}`
	delta, _ = sjson.Set(delta, "delta.stop_reason", stopReason)
	delta, _ = sjson.Set(delta, "usage.input_tokens", inputTokens)
	delta, _ = sjson.Set(delta, "usage.output_tokens", outputTokens)
	s.writer.Named("message_delta", []byte(delta))

	s.writer.Named("message_stop", []byte(`{"type":"message_stop"}`))
	s.writer.Close()
}

func (s *ClaudeSink) EmitError(msg string) {
	s.Emit(Event{Type: EventText, Text: msg})
	s.Finish(nil)
}

func (s *ClaudeSink) ensureStarted() {
	if s.started {
		return
	}
	s.started = true
	start := `{"type":"message_start","message":{"type":"message","role":"assistant","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`
	start, _ = sjson.Set(start, "message.id", s.messageID)
	start, _ = sjson.Set(start, "message.model", s.model)
	s.writer.Named("message_start", []byte(start))
}

// ensureBlock opens a content block of the wanted type, closing a different
// open one first.
func (s *ClaudeSink) ensureBlock(blockType string) {
	if s.blockOpen && s.blockType == blockType {
		return
	}
	s.closeBlock()
	start := `{"type":"content_block_start","content_block":{}}`
	start, _ = sjson.Set(start, "index", s.blockIndex)
	start, _ = sjson.Set(start, "content_block.type", blockType)
	if blockType == "text" {
		start, _ = sjson.Set(start, "content_block.text", "")
	} else if blockType == "thinking" {
		start, _ = sjson.Set(start, "content_block.thinking", "")
	}
	s.writer.Named("content_block_start", []byte(start))
	s.blockOpen = true
	s.blockType = blockType
}

func (s *ClaudeSink) closeBlock() {
	if !s.blockOpen {
		return
	}
	stop := `{"type":"content_block_stop"}`
	stop, _ = sjson.Set(stop, "index", s.blockIndex)
	s.writer.Named("content_block_stop", []byte(stop))
	s.blockOpen = false
	s.blockType = ""
	s.blockIndex++
}
