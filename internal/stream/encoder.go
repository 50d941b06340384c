package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Encoder writes events as frames. It is safe for concurrent use and flushes
// after every frame when the writer supports it.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	e := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// SetHeaders prepares an HTTP response for streaming.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// Encode writes one event frame.
func (e *Encoder) Encode(ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	return e.writeFrame(data)
}

func (e *Encoder) writeFrame(payload []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return io.ErrClosedPipe
	}
	if _, err := fmt.Fprintf(e.w, "%s %s\n\n", dataPrefix, payload); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

func (e *Encoder) TextDelta(delta string) error {
	return e.Encode(Event{Type: EventTextDelta, Delta: delta})
}

func (e *Encoder) ToolInputStart(toolCallID, toolName string) error {
	return e.Encode(Event{Type: EventToolInputStart, ToolCallID: toolCallID, ToolName: toolName})
}

func (e *Encoder) ToolOutputAvailable(toolCallID string, output json.RawMessage) error {
	if len(output) == 0 {
		output = json.RawMessage("null")
	}
	return e.Encode(Event{Type: EventToolOutputAvailable, ToolCallID: toolCallID, Output: output})
}

func (e *Encoder) Finish(reason string) error {
	return e.Encode(Event{Type: EventFinish, FinishReason: reason})
}

func (e *Encoder) Error(message string, retryable bool) error {
	return e.Encode(Event{Type: EventError, Error: message, Retryable: retryable})
}

// Done writes the terminating frame. Later writes fail with io.ErrClosedPipe.
func (e *Encoder) Done() error {
	if err := e.writeFrame([]byte(donePayload)); err != nil {
		return err
	}
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}
