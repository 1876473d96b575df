package stream

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// writerState tracks the SSE connection lifecycle. Errors before the first
// write may still change the status line; after that they must be emitted
// in-stream.
type writerState int

const (
	stateFresh writerState = iota
	stateStreaming
	stateClosed
)

// Writer is the SSE connection state machine shared by the dialect sinks.
type Writer struct {
	c     *gin.Context
	state writerState
}

// NewWriter wraps a gin context for SSE output.
func NewWriter(c *gin.Context) *Writer {
	return &Writer{c: c}
}

// Committed reports whether headers have been sent.
func (w *Writer) Committed() bool {
	return w.state != stateFresh
}

// Closed reports whether the stream is finished.
func (w *Writer) Closed() bool {
	return w.state == stateClosed
}

// commit writes the SSE headers once.
func (w *Writer) commit() {
	if w.state != stateFresh {
		return
	}
	header := w.c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.c.Writer.WriteHeader(http.StatusOK)
	w.state = stateStreaming
}

// Data writes one `data:` frame and flushes.
func (w *Writer) Data(payload []byte) {
	if w.state == stateClosed {
		return
	}
	w.commit()
	_, _ = fmt.Fprintf(w.c.Writer, "data: %s\n\n", payload)
	w.c.Writer.Flush()
}

// Named writes an `event:`/`data:` frame pair and flushes.
func (w *Writer) Named(event string, payload []byte) {
	if w.state == stateClosed {
		return
	}
	w.commit()
	_, _ = fmt.Fprintf(w.c.Writer, "event: %s\ndata: %s\n\n", event, payload)
	w.c.Writer.Flush()
}

// Done writes the OpenAI terminal marker and closes the stream.
func (w *Writer) Done() {
	if w.state == stateClosed {
		return
	}
	w.commit()
	_, _ = fmt.Fprint(w.c.Writer, "data: [DONE]\n\n")
	w.c.Writer.Flush()
	w.state = stateClosed
}

// Close marks the stream finished without a terminal marker.
func (w *Writer) Close() {
	w.state = stateClosed
}
