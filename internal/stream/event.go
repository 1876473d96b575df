// Package stream consumes the upstream SSE event flow and re-emits it in
// each client dialect's native streaming format.
package stream

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/tidwall/gjson"
)

// EventType classifies one upstream delta.
type EventType int

const (
	EventText EventType = iota
	EventThinking
	EventToolCall
	EventImage
)

// ToolCall is one upstream function call delta.
type ToolCall struct {
	ID        string
	Name      string
	Args      string
	Signature string
}

// Image is one inline-data payload emitted by image-generation models.
type Image struct {
	MimeType string
	Data     string
}

// Usage mirrors the upstream token accounting.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	ThoughtsTokens   int64
	TotalTokens      int64
}

// Event is one classified upstream delta.
type Event struct {
	Type      EventType
	Text      string
	Signature string
	ToolCall  *ToolCall
	Image     *Image
}

// Chunk is everything extracted from a single upstream SSE payload.
type Chunk struct {
	Events       []Event
	FinishReason string
	Usage        *Usage
}

// ParseUpstreamPayload classifies one upstream JSON payload. Payloads may be
// wrapped in a "response" envelope.
func ParseUpstreamPayload(payload []byte) Chunk {
	root := gjson.ParseBytes(payload)
	response := root.Get("response")
	if !response.Exists() {
		response = root
	}

	chunk := Chunk{}
	if finish := response.Get("candidates.0.finishReason"); finish.Exists() && finish.String() != "" {
		chunk.FinishReason = finish.String()
	}
	if usage := response.Get("usageMetadata"); usage.Exists() {
		chunk.Usage = &Usage{
			PromptTokens:     usage.Get("promptTokenCount").Int(),
			CompletionTokens: usage.Get("candidatesTokenCount").Int(),
			ThoughtsTokens:   usage.Get("thoughtsTokenCount").Int(),
			TotalTokens:      usage.Get("totalTokenCount").Int(),
		}
	}

	parts := response.Get("candidates.0.content.parts")
	if !parts.IsArray() {
		return chunk
	}
	parts.ForEach(func(_, part gjson.Result) bool {
		sig := part.Get("thoughtSignature").String()
		if sig == "" {
			sig = part.Get("thought_signature").String()
		}

		if call := part.Get("functionCall"); call.Exists() {
			args := "{}"
			if argsResult := call.Get("args"); argsResult.Exists() {
				args = argsResult.Raw
			}
			id := call.Get("id").String()
			if id == "" {
				id = GenerateToolCallID()
			}
			chunk.Events = append(chunk.Events, Event{
				Type: EventToolCall,
				ToolCall: &ToolCall{
					ID:        id,
					Name:      call.Get("name").String(),
					Args:      args,
					Signature: sig,
				},
			})
			return true
		}

		inline := part.Get("inlineData")
		if !inline.Exists() {
			inline = part.Get("inline_data")
		}
		if inline.Exists() {
			mimeType := inline.Get("mimeType").String()
			if mimeType == "" {
				mimeType = inline.Get("mime_type").String()
			}
			chunk.Events = append(chunk.Events, Event{
				Type:  EventImage,
				Image: &Image{MimeType: mimeType, Data: inline.Get("data").String()},
			})
			return true
		}

		if text := part.Get("text"); text.Exists() {
			eventType := EventText
			if part.Get("thought").Bool() {
				eventType = EventThinking
			}
			chunk.Events = append(chunk.Events, Event{
				Type:      eventType,
				Text:      text.String(),
				Signature: sig,
			})
		}
		return true
	})
	return chunk
}

// GenerateToolCallID creates a client-side id in the form call_<alphanum>
// for upstream calls that arrive without one.
func GenerateToolCallID() string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	var b strings.Builder
	for i := 0; i < 24; i++ {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(letters))))
		b.WriteByte(letters[n.Int64()])
	}
	return "call_" + b.String()
}

// EstimateTokens applies the one-token-per-four-characters rule used when
// the upstream omits usage.
func EstimateTokens(text string) int64 {
	if text == "" {
		return 0
	}
	return int64((len(text) + 3) / 4)
}
