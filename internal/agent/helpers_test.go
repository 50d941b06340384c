package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/tools"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedProvider replays responses; when the script runs out it repeats the
// last entry.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []schema.LLMResponse
	calls     int
	seen      [][]schema.Message
	models    []string
	err       error
}

func (p *scriptedProvider) Chat(_ context.Context, msgs []schema.Message, _ []map[string]any, opts schema.ChatOptions) (schema.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, schema.CloneMessages(msgs))
	p.models = append(p.models, opts.Model)
	if p.err != nil {
		return schema.LLMResponse{}, p.err
	}
	i := p.calls
	if i >= len(p.responses) {
		i = len(p.responses) - 1
	}
	p.calls++
	return p.responses[i], nil
}

func (p *scriptedProvider) DefaultModel() string { return "test-model" }

func toolCall(id, name string) schema.ToolCallRequest {
	return schema.ToolCallRequest{ID: id, Name: name, Arguments: json.RawMessage(`{}`)}
}

// funcTool adapts a function to schema.Tool.
type funcTool struct {
	name string
	fn   func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

func (f funcTool) Name() string                { return f.name }
func (f funcTool) Description() string         { return f.name }
func (f funcTool) Parameters() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (f funcTool) Execute(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	return f.fn(ctx, args)
}

func staticTool(name, output string) funcTool {
	return funcTool{name: name, fn: func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(output), nil
	}}
}

func toolSet(ts ...schema.Tool) schema.ToolSet { return tools.NewToolList(ts...) }

type sinkEvent struct {
	kind string
	id   string
	name string
	data string
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
	failOn string
}

func (s *recordingSink) record(e sinkEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn == e.kind {
		return errors.New("client went away")
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) TextDelta(d string) error {
	return s.record(sinkEvent{kind: "text", data: d})
}

func (s *recordingSink) ToolInputStart(id, name string) error {
	return s.record(sinkEvent{kind: "start", id: id, name: name})
}

func (s *recordingSink) ToolOutputAvailable(id string, out json.RawMessage) error {
	return s.record(sinkEvent{kind: "output", id: id, data: string(out)})
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		out = append(out, e.kind)
	}
	return out
}

type memoryHistory struct {
	mu   sync.Mutex
	data map[string][]schema.Message
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{data: make(map[string][]schema.Message)}
}

func (h *memoryHistory) Append(_ context.Context, chatID string, msgs ...schema.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[chatID] = append(h.data[chatID], schema.CloneMessages(msgs)...)
	return nil
}

func (h *memoryHistory) ListSince(_ context.Context, chatID string, _ time.Time) ([]schema.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return schema.CloneMessages(h.data[chatID]), nil
}
