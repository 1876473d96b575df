package stream

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

const (
	thinkOpenMarker  = "<思考>"
	thinkCloseMarker = "</思考>"
)

// Sink re-emits classified upstream events in one client dialect.
type Sink interface {
	// Emit forwards one delta to the client.
	Emit(ev Event)
	// Finish terminates the stream normally.
	Finish(usage *Usage)
	// EmitError surfaces a mid-stream failure as in-stream content
	// followed by a normal termination.
	EmitError(msg string)
	// Committed reports whether anything was written yet.
	Committed() bool
}

// OpenAISink emits chat.completion.chunk frames.
type OpenAISink struct {
	writer       *Writer
	model        string
	completionID string
	created      int64
	sentRole     bool
	toolIndex    int
	sawToolCall  bool
	think        thinkFilter
}

// NewOpenAISink creates a sink for the OpenAI streaming dialect.
func NewOpenAISink(c *gin.Context, model string) *OpenAISink {
	return &OpenAISink{
		writer:       NewWriter(c),
		model:        model,
		completionID: "chatcmpl-" + uuid.NewString(),
		created:      time.Now().Unix(),
	}
}

func (s *OpenAISink) Committed() bool { return s.writer.Committed() }

func (s *OpenAISink) Emit(ev Event) {
	switch ev.Type {
	case EventText:
		content, reasoning := s.think.process(ev.Text)
		if reasoning != "" {
			s.writeDelta(func(delta string) string {
				delta, _ = sjson.Set(delta, "reasoning_content", reasoning)
				return delta
			}, nil)
		}
		if content != "" {
			s.writeDelta(func(delta string) string {
				delta, _ = sjson.Set(delta, "content", content)
				return delta
			}, nil)
		}
	case EventThinking:
		s.writeDelta(func(delta string) string {
			delta, _ = sjson.Set(delta, "reasoning_content", ev.Text)
			return delta
		}, nil)
	case EventToolCall:
		index := s.toolIndex
		s.toolIndex++
		s.sawToolCall = true
		s.writeDelta(func(delta string) string {
			call := `{}`
			call, _ = sjson.Set(call, "index", index)
			call, _ = sjson.Set(call, "id", ev.ToolCall.ID)
			call, _ = sjson.Set(call, "type", "function")
			call, _ = sjson.Set(call, "function.name", ev.ToolCall.Name)
			call, _ = sjson.Set(call, "function.arguments", ev.ToolCall.Args)
			delta, _ = sjson.SetRaw(delta, "tool_calls.0", call)
			return delta
		}, nil)
	case EventImage:
		// Images are buffered by the engine and re-emitted as markdown.
	}
}

func (s *OpenAISink) Finish(usage *Usage) {
	if leftover := s.think.flush(); leftover != "" {
		s.writeDelta(func(delta string) string {
			delta, _ = sjson.Set(delta, "content", leftover)
			return delta
		}, nil)
	}
	finish := "stop"
	if s.sawToolCall {
		finish = "tool_calls"
	}
	s.writeDelta(nil, &finish)
	s.writer.Done()
}

func (s *OpenAISink) EmitError(msg string) {
	s.writeDelta(func(delta string) string {
		delta, _ = sjson.Set(delta, "content", msg)
		return delta
	}, nil)
	finish := "stop"
	s.writeDelta(nil, &finish)
	s.writer.Done()
}

// writeDelta emits one chunk. mutate fills the delta object; a nil mutate
// with a finish reason writes the terminal empty-delta chunk.
func (s *OpenAISink) writeDelta(mutate func(string) string, finishReason *string) {
	chunk := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":null}]}`
	chunk, _ = sjson.Set(chunk, "id", s.completionID)
	chunk, _ = sjson.Set(chunk, "created", s.created)
	chunk, _ = sjson.Set(chunk, "model", s.model)

	delta := `{}`
	if !s.sentRole {
		delta, _ = sjson.Set(delta, "role", "assistant")
		s.sentRole = true
	}
	if mutate != nil {
		delta = mutate(delta)
	}
	chunk, _ = sjson.SetRaw(chunk, "choices.0.delta", delta)
	if finishReason != nil {
		chunk, _ = sjson.Set(chunk, "choices.0.finish_reason", *finishReason)
	}
	s.writer.Data([]byte(chunk))
}

// thinkFilter strips inline <思考>…</思考> markers from text deltas,
// surfacing the inner text separately. Markers may split across deltas, so
// a potential marker prefix at the end of a delta is withheld until more
// text arrives.
type thinkFilter struct {
	inThink bool
	carry   string
}

func (f *thinkFilter) process(text string) (content, reasoning string) {
	buf := f.carry + text
	f.carry = ""

	var contentOut, reasoningOut strings.Builder
	for buf != "" {
		if f.inThink {
			if idx := strings.Index(buf, thinkCloseMarker); idx >= 0 {
				reasoningOut.WriteString(buf[:idx])
				buf = buf[idx+len(thinkCloseMarker):]
				f.inThink = false
				continue
			}
			keep := partialMarkerSuffix(buf, thinkCloseMarker)
			reasoningOut.WriteString(buf[:len(buf)-keep])
			f.carry = buf[len(buf)-keep:]
			buf = ""
			continue
		}
		if idx := strings.Index(buf, thinkOpenMarker); idx >= 0 {
			contentOut.WriteString(buf[:idx])
			buf = buf[idx+len(thinkOpenMarker):]
			f.inThink = true
			continue
		}
		keep := partialMarkerSuffix(buf, thinkOpenMarker)
		contentOut.WriteString(buf[:len(buf)-keep])
		f.carry = buf[len(buf)-keep:]
		buf = ""
	}
	return contentOut.String(), reasoningOut.String()
}

// flush returns whatever text was withheld as a potential partial marker.
func (f *thinkFilter) flush() string {
	carry := f.carry
	f.carry = ""
	if f.inThink {
		// Unterminated marker: the withheld bytes were reasoning.
		return ""
	}
	return carry
}

// partialMarkerSuffix returns the length of the longest suffix of buf that
// is a prefix of marker.
func partialMarkerSuffix(buf, marker string) int {
	max := len(marker) - 1
	if max > len(buf) {
		max = len(buf)
	}
	for n := max; n > 0; n-- {
		if strings.HasPrefix(marker, buf[len(buf)-n:]) {
			return n
		}
	}
	return 0
}
