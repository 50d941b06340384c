// Package client talks to a persai server and renders its streamed turns
// into a message list.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/stream"
)

// HTTPError is a non-2xx answer to a chat request.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	}
	return fmt.Sprintf("HTTP error! status: %d: %s", e.Status, e.Message)
}

func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Model picks a stored provider and model for a turn.
type Model struct {
	ProviderID string `json:"providerId,omitempty"`
	ModelID    string `json:"modelId,omitempty"`
}

// Chat is one conversation as seen by a client.
type Chat struct {
	baseURL    string
	httpClient *http.Client
	consumer   *stream.Consumer
	model      *Model
}

type Option func(*Chat)

func WithHTTPClient(c *http.Client) Option {
	return func(ch *Chat) { ch.httpClient = c }
}

func WithModel(m Model) Option {
	return func(ch *Chat) { ch.model = &m }
}

func WithLogger(l *slog.Logger) Option {
	return func(ch *Chat) { ch.consumer = stream.NewConsumer(ch.consumer.Messages(), l) }
}

// NewChat returns a Chat against the server at baseURL starting from history.
func NewChat(baseURL string, history []schema.Message, opts ...Option) *Chat {
	ch := &Chat{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		consumer:   stream.NewConsumer(history, nil),
	}
	for _, o := range opts {
		o(ch)
	}
	return ch
}

func (c *Chat) Messages() []schema.Message { return c.consumer.Messages() }
func (c *Chat) State() stream.State        { return c.consumer.State() }
func (c *Chat) Status() string             { return c.consumer.Status() }

// SendMessage appends the user's message, posts it to the stored conversation
// chatID and renders the streamed answer. The user message stays in the list
// even when the request fails.
func (c *Chat) SendMessage(ctx context.Context, chatID, text string) error {
	c.consumer.Append(schema.NewUserMessage(text))
	body := map[string]any{"chatId": chatID, "message": text}
	if c.model != nil {
		body["model"] = c.model
	}
	return c.post(ctx, "/api/newChat", body)
}

// Send appends the user's message and posts the whole conversation to the
// stateless endpoint.
func (c *Chat) Send(ctx context.Context, text string) error {
	c.consumer.Append(schema.NewUserMessage(text))
	return c.post(ctx, "/api/chat", map[string]any{"messages": c.consumer.Messages()})
}

func (c *Chat) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.consumer.Fail()
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.consumer.Fail()
		return &HTTPError{Status: resp.StatusCode, Message: errorMessage(resp.Body)}
	}
	return c.consumer.Consume(ctx, resp.Body)
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
