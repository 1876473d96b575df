package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/yusnake/antigravity2api/internal/translator"
	"github.com/yusnake/antigravity2api/internal/upstream"
)

// errorPrefix marks mid-stream upstream failures surfaced as content.
const errorPrefix = "错误: "

// ImageSaver is the external image persistence capability.
type ImageSaver interface {
	SaveImage(data []byte, mimeType string) (string, error)
}

// Result is everything the orchestrator needs after a stream ends: the
// normalized event list for the log detail, the signature outcome for the
// adapter, and the terminal state.
type Result struct {
	Events      []json.RawMessage
	Outcome     translator.StreamOutcome
	Usage       *Usage
	SawToolCall bool
	// Err is a terminal upstream failure. When Committed it was already
	// surfaced in-stream; otherwise the caller owns the error response.
	Err       error
	Committed bool
}

// Pump drives one upstream stream to completion against a dialect sink.
// Image-generation output is buffered and re-emitted as a single markdown
// block once the stream completes.
func Pump(ctx context.Context, sr *upstream.StreamResult, sink Sink, saver ImageSaver, imageModel bool) *Result {
	result := &Result{
		Outcome: translator.StreamOutcome{ToolCallSignatures: make(map[string]string)},
	}
	var images []Image

	for payload := range sr.Events {
		chunk := ParseUpstreamPayload(payload)
		if chunk.Usage != nil {
			result.Usage = chunk.Usage
		}
		for _, ev := range chunk.Events {
			result.Events = append(result.Events, normalizeEvent(ev))
			collectOutcome(&result.Outcome, ev)
			if ev.Type == EventToolCall {
				result.SawToolCall = true
			}
			if ev.Type == EventImage && imageModel {
				images = append(images, *ev.Image)
				continue
			}
			sink.Emit(ev)
		}
	}

	var streamErr error
	select {
	case streamErr = <-sr.Errs:
	default:
	}

	if streamErr != nil {
		result.Err = streamErr
		result.Committed = sink.Committed()
		if result.Committed && ctx.Err() == nil {
			sink.EmitError(errorPrefix + streamErr.Error())
		}
		return result
	}
	if ctx.Err() != nil {
		result.Err = ctx.Err()
		result.Committed = sink.Committed()
		return result
	}

	if len(images) > 0 {
		if markdown := saveImages(images, saver); markdown != "" {
			ev := Event{Type: EventText, Text: markdown}
			result.Events = append(result.Events, normalizeEvent(ev))
			result.Outcome.Text += markdown
			sink.Emit(ev)
		}
	}

	sink.Finish(result.Usage)
	result.Committed = sink.Committed()
	return result
}

// saveImages persists buffered inline images and renders one markdown block
// referencing them.
func saveImages(images []Image, saver ImageSaver) string {
	if saver == nil {
		log.Warn("stream: image events received but no image store configured")
		return ""
	}
	markdown := ""
	for _, image := range images {
		data, errDecode := base64.StdEncoding.DecodeString(image.Data)
		if errDecode != nil {
			log.Errorf("stream: decode inline image: %v", errDecode)
			continue
		}
		imageURL, errSave := saver.SaveImage(data, image.MimeType)
		if errSave != nil {
			log.Errorf("stream: save image: %v", errSave)
			continue
		}
		markdown += fmt.Sprintf("\n![image](%s)\n", imageURL)
	}
	return markdown
}

// normalizeEvent renders one event in the shape the log detail stores.
func normalizeEvent(ev Event) json.RawMessage {
	switch ev.Type {
	case EventText:
		out, _ := sjson.Set(`{"type":"text"}`, "content", ev.Text)
		return json.RawMessage(out)
	case EventThinking:
		out, _ := sjson.Set(`{"type":"thinking"}`, "thinking", ev.Text)
		return json.RawMessage(out)
	case EventToolCall:
		call := `{}`
		call, _ = sjson.Set(call, "id", ev.ToolCall.ID)
		call, _ = sjson.Set(call, "name", ev.ToolCall.Name)
		call, _ = sjson.Set(call, "arguments", ev.ToolCall.Args)
		out, _ := sjson.SetRaw(`{"type":"tool_calls"}`, "tool_calls.0", call)
		return json.RawMessage(out)
	case EventImage:
		out, _ := sjson.Set(`{"type":"image"}`, "mimeType", ev.Image.MimeType)
		return json.RawMessage(out)
	}
	return json.RawMessage(`{}`)
}

// collectOutcome accumulates the signature registration inputs.
func collectOutcome(outcome *translator.StreamOutcome, ev Event) {
	switch ev.Type {
	case EventText:
		outcome.Text += ev.Text
		if ev.Signature != "" {
			outcome.TextSignature = ev.Signature
		}
	case EventThinking:
		if ev.Signature != "" {
			outcome.TextSignature = ev.Signature
		}
	case EventToolCall:
		if ev.ToolCall.Signature != "" {
			outcome.ToolCallSignatures[ev.ToolCall.ID] = ev.ToolCall.Signature
		}
	}
}
