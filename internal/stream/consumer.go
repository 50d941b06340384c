package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/shared/llmutils"
)

// State is the coarse UI state of a Consumer.
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
)

const (
	statusGenerating = "generating"
	statusError      = "Error occurred"
	readChunkSize    = 32 << 10
)

// Consumer rebuilds a message list from a byte stream of frames. Its output
// does not depend on how the stream is split into chunks.
//
// Write may be called with arbitrary chunks; Consume drives a reader to EOF.
// Accessors are safe to call while a stream is being consumed.
type Consumer struct {
	mu       sync.Mutex
	logger   *slog.Logger
	buf      []byte
	messages []schema.Message
	toolName map[string]string
	openText bool
	state    State
	status   string
	done     bool
	err      error
}

// NewConsumer returns a Consumer whose message list starts with history.
func NewConsumer(history []schema.Message, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		logger:   logger,
		messages: schema.CloneMessages(history),
		toolName: make(map[string]string),
		state:    StateIdle,
	}
}

// Messages returns a snapshot of the reconstructed messages.
func (c *Consumer) Messages() []schema.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return schema.CloneMessages(c.messages)
}

// State returns the current UI state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a human-readable progress string, e.g. "calling getGames tool".
func (c *Consumer) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Append adds a message outside of the stream, e.g. the user's own turn.
func (c *Consumer) Append(m schema.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, m.Clone())
	c.openText = false
}

// Begin marks a new response as in progress and resets per-stream state.
func (c *Consumer) Begin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = c.buf[:0]
	c.toolName = make(map[string]string)
	c.openText = false
	c.done = false
	c.err = nil
	c.state = StateGenerating
	c.status = statusGenerating
}

// Write feeds a chunk of the stream. Only complete lines are parsed; a partial
// trailing line is kept until the next chunk. An error event is returned as
// *UpstreamError and every later Write returns it again.
func (c *Consumer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.buf = append(c.buf, p...)
	for {
		i := bytes.IndexByte(c.buf, '\n')
		if i < 0 {
			break
		}
		line := string(c.buf[:i])
		c.buf = c.buf[i+1:]
		if err := c.processLine(line); err != nil {
			c.err = err
			c.buf = nil
			return len(p), err
		}
	}
	return len(p), nil
}

// Close ends the stream. A trailing partial line is discarded and a stream
// that never sent finish still ends idle.
func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(bytes.TrimSpace(c.buf)) > 0 {
		c.logger.Debug("Discarding incomplete trailing frame", "bytes", len(c.buf))
	}
	c.buf = nil
	c.openText = false
	if c.err != nil {
		return c.err
	}
	c.state = StateIdle
	c.status = ""
	return nil
}

// Consume reads r until EOF, ctx cancellation, or an error event.
func (c *Consumer) Consume(ctx context.Context, r io.Reader) error {
	c.Begin()
	chunk := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			c.Fail()
			return err
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			if _, err := c.Write(chunk[:n]); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return c.Close()
		}
		if rerr != nil {
			c.Fail()
			return fmt.Errorf("read stream: %w", rerr)
		}
	}
}

// Fail ends the response in the error state, e.g. when the request itself
// failed before any frame arrived.
func (c *Consumer) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.status = statusError
}

func (c *Consumer) processLine(line string) error {
	line = strings.TrimSpace(line)
	if line == "" || c.done {
		return nil
	}
	if !strings.HasPrefix(line, dataPrefix) {
		c.protocolError(line, errors.New("missing data prefix"))
		return nil
	}
	payload := strings.TrimSpace(line[len(dataPrefix):])
	if payload == donePayload {
		c.done = true
		return nil
	}

	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		c.protocolError(line, err)
		return nil
	}
	return c.apply(ev)
}

func (c *Consumer) protocolError(line string, err error) {
	perr := &ProtocolError{Line: llmutils.Truncate(line, 200), Err: err}
	c.logger.Warn("Skipping malformed stream frame", "err", perr)
}

func (c *Consumer) apply(ev Event) error {
	switch ev.Type {
	case EventTextDelta:
		c.state = StateGenerating
		c.status = statusGenerating
		c.appendText(ev.Delta)

	case EventToolInputStart:
		c.toolName[ev.ToolCallID] = ev.ToolName
		c.status = "calling " + ev.ToolName + " tool"
		c.openText = false

	case EventToolOutputAvailable:
		name, ok := c.toolName[ev.ToolCallID]
		if !ok {
			c.logger.Warn("Dropping output for unknown tool call", "toolCallId", ev.ToolCallID)
			return nil
		}
		c.openText = false
		c.status = statusGenerating
		c.messages = append(c.messages, schema.NewMessage(schema.RoleTool,
			schema.ToolResultPart(ev.ToolCallID, name, ev.Output)))

	case EventFinish:
		c.state = StateIdle
		c.status = ""
		c.openText = false

	case EventError:
		c.state = StateIdle
		c.status = statusError
		return &UpstreamError{Message: ev.Error, retryable: ev.Retryable}

	default:
		c.logger.Debug("Ignoring unknown stream event", "type", ev.Type)
	}
	return nil
}

// appendText extends the open text part or starts a new one, opening an
// assistant message when the last message is not one.
func (c *Consumer) appendText(delta string) {
	if c.openText {
		last := &c.messages[len(c.messages)-1]
		last.Parts[len(last.Parts)-1].Text += delta
		return
	}
	if n := len(c.messages); n == 0 || c.messages[n-1].Role != schema.RoleAssistant {
		c.messages = append(c.messages, schema.NewMessage(schema.RoleAssistant))
	}
	last := &c.messages[len(c.messages)-1]
	last.Parts = append(last.Parts, schema.TextPart(delta))
	c.openText = true
}
