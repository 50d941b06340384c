package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/persai/persai/internal/agent"
	"github.com/persai/persai/internal/plugin"
	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/session"
	"github.com/persai/persai/internal/stream"
)

// LooseID is an identifier sent either as a JSON string or a number.
type LooseID string

func (id *LooseID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = LooseID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = LooseID(n.String())
	return nil
}

// ModelRef selects a stored provider and a model for one turn.
type ModelRef struct {
	ProviderID LooseID `json:"providerId"`
	ModelID    string  `json:"modelId"`
}

type chatRequest struct {
	Messages []schema.Message `json:"messages"`
}

type newChatRequest struct {
	ChatID  LooseID   `json:"chatId"`
	Message string    `json:"message"`
	Model   *ModelRef `json:"model,omitempty"`
}

// chat runs a stateless turn over the messages the client sent.
func (h *Handlers) chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages are required")
		return
	}
	h.streamTurn(w, r, func(ctx context.Context, enc *stream.Encoder) (agent.Result, error) {
		return h.Chat.Run(ctx, req.Messages, enc)
	})
}

// newChat appends a message to a stored conversation and streams the turn.
func (h *Handlers) newChat(w http.ResponseWriter, r *http.Request) {
	var req newChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ChatID == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "chatId and message are required")
		return
	}

	var opts []agent.TurnOption
	if req.Model != nil {
		opt, status, err := h.modelOption(r.Context(), *req.Model)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		opts = append(opts, opt)
	}

	h.streamTurn(w, r, func(ctx context.Context, enc *stream.Encoder) (agent.Result, error) {
		return h.Chat.Chat(ctx, string(req.ChatID), req.Message, enc, opts...)
	})
}

func (h *Handlers) modelOption(ctx context.Context, ref ModelRef) (agent.TurnOption, int, error) {
	if ref.ProviderID == "" {
		return agent.WithModel(nil, ref.ModelID), 0, nil
	}
	id, err := strconv.ParseInt(string(ref.ProviderID), 10, 64)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("invalid providerId %q", ref.ProviderID)
	}
	if h.Store == nil || h.NewProvider == nil {
		return nil, http.StatusBadRequest, errors.New("provider selection is not available")
	}
	p, err := h.Store.Provider(ctx, id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, http.StatusNotFound, err
	}
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return agent.WithModel(h.NewProvider(p, ref.ModelID), ref.ModelID), 0, nil
}

// streamTurn sets up the event stream, runs the turn and terminates the stream.
// Once the client has gone away nothing more is written.
func (h *Handlers) streamTurn(w http.ResponseWriter, r *http.Request, run func(context.Context, *stream.Encoder) (agent.Result, error)) {
	stream.SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	enc := stream.NewEncoder(w)

	res, err := run(r.Context(), enc)
	switch {
	case err == nil:
		_ = enc.Finish(string(res.Reason))
	case r.Context().Err() != nil:
		h.logger().Info("Client closed stream", "steps", len(res.Steps), "err", err)
		return
	default:
		h.logger().Error("Chat turn failed", "steps", len(res.Steps), "err", err)
		_ = enc.Error(err.Error(), plugin.IsRetryable(err))
	}
	_ = enc.Done()
}

func (h *Handlers) listChats(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeJSON(w, http.StatusOK, []session.ChatSummary{})
		return
	}
	chats, err := h.Store.Chats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chats == nil {
		chats = []session.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, chats)
}

// chatMessages returns a stored conversation. ?since= takes a unix
// millisecond timestamp.
func (h *Handlers) chatMessages(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}
	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: "+err.Error())
			return
		}
		since = time.UnixMilli(ms)
	}
	msgs, err := h.Store.ListSince(r.Context(), chi.URLParam(r, "id"), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if msgs == nil {
		msgs = []schema.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}
