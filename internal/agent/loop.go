package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/shared/llmutils"
)

// HistoryStore is the append-only message log keyed by conversation id.
type HistoryStore interface {
	Append(ctx context.Context, chatID string, msgs ...schema.Message) error
	ListSince(ctx context.Context, chatID string, since time.Time) ([]schema.Message, error)
}

// ToolSource returns the tool set to offer for one turn. It is read once per
// turn so a registry reload never changes tools mid-run.
type ToolSource func() schema.ToolSet

// AgentLoop runs chat turns for stored and stateless conversations.
// Turns of the same chat are serialized; different chats run in parallel.
type AgentLoop struct {
	runner  *Runner
	tools   ToolSource
	history HistoryStore

	mu    sync.Mutex
	chats map[string]*chatLock
}

// chatLock serializes turns of one chat. It is dropped once no turn holds or
// waits for it.
type chatLock struct {
	mu   sync.Mutex
	refs int
}

// NewAgentLoop creates an AgentLoop. history may be nil for stateless use.
func NewAgentLoop(runner *Runner, tools ToolSource, history HistoryStore) *AgentLoop {
	return &AgentLoop{runner: runner, tools: tools, history: history, chats: make(map[string]*chatLock)}
}

// lockChat blocks until chatID is free and returns its unlock func.
func (loop *AgentLoop) lockChat(chatID string) func() {
	loop.mu.Lock()
	l, ok := loop.chats[chatID]
	if !ok {
		l = &chatLock{}
		loop.chats[chatID] = l
	}
	l.refs++
	loop.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		loop.mu.Lock()
		defer loop.mu.Unlock()
		if l.refs--; l.refs == 0 {
			delete(loop.chats, chatID)
		}
	}
}

// Run executes one turn over the given messages without touching history.
func (loop *AgentLoop) Run(ctx context.Context, messages []schema.Message, sink EventSink, opts ...TurnOption) (Result, error) {
	return loop.runner.Run(ctx, messages, loop.tools(), sink, opts...)
}

// Chat appends userText to the stored conversation chatID, runs one turn and
// persists the user message together with everything the turn produced.
func (loop *AgentLoop) Chat(ctx context.Context, chatID, userText string, sink EventSink, opts ...TurnOption) (Result, error) {
	if loop.history == nil {
		return Result{}, errors.New("agent loop has no history store")
	}

	unlock := loop.lockChat(chatID)
	defer unlock()

	slog.Info("Processing message", "chat", chatID, "content", llmutils.Truncate(userText, 80))

	past, err := loop.history.ListSince(ctx, chatID, time.Time{})
	if err != nil {
		return Result{}, fmt.Errorf("load history %s: %w", chatID, err)
	}

	user := schema.NewUserMessage(userText)
	res, runErr := loop.Run(ctx, append(past, user), sink, opts...)

	// Persist even after a failed run so the user's turn is not lost. The
	// request ctx may already be cancelled.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	toSave := append([]schema.Message{user}, res.Messages...)
	if err := loop.history.Append(saveCtx, chatID, toSave...); err != nil {
		slog.Error("Failed to persist chat turn", "chat", chatID, "err", err)
		if runErr == nil {
			return res, fmt.Errorf("save history %s: %w", chatID, err)
		}
	}
	return res, runErr
}
