package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/persai/persai/internal/config"
	"github.com/persai/persai/internal/shared/llmutils"
)

const (
	maxResultBytes      = 8 << 20
	maxErrorBodySnippet = 512
)

// Invoker turns a structured tool call into POST {pluginURL}{endpoint}.
type Invoker struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// NewInvoker returns an Invoker. A zero timeout leaves the deadline to ctx.
func NewInvoker(httpClient *http.Client, timeout time.Duration, logger *slog.Logger) *Invoker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{httpClient: httpClient, timeout: timeout, logger: logger}
}

// Invoke calls one tool. Every failure is a *ToolError; callers fold it into
// the conversation rather than aborting.
func (inv *Invoker) Invoke(ctx context.Context, cfg config.PluginConfig, desc ToolDescriptor, args json.RawMessage) (json.RawMessage, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return nil, &ToolError{ToolName: desc.Name, Kind: ToolInvalidArgs, Message: "arguments are not valid JSON"}
	}
	inv.checkArgs(desc, args)

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	toolURL := joinURL(cfg.URL, desc.Endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, toolURL, bytes.NewReader(args))
	if err != nil {
		return nil, &ToolError{ToolName: desc.Name, Kind: ToolNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	inv.logger.Info("Executing tool", "tool", desc.Name, "plugin", cfg.ID)

	resp, err := inv.httpClient.Do(req)
	if err != nil {
		kind := ToolNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ToolTimeout
		}
		return nil, &ToolError{ToolName: desc.Name, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes))
	if err != nil {
		kind := ToolNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			kind = ToolTimeout
		}
		return nil, &ToolError{ToolName: desc.Name, Kind: kind, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := resp.Status
		if snippet := strings.TrimSpace(string(body)); snippet != "" {
			msg += ": " + llmutils.Truncate(snippet, maxErrorBodySnippet)
		}
		return nil, &ToolError{ToolName: desc.Name, Kind: ToolHTTP, Status: resp.StatusCode, Message: msg}
	}

	if !json.Valid(body) {
		return nil, &ToolError{ToolName: desc.Name, Kind: ToolMalformed, Message: "response is not valid JSON"}
	}

	if desc.IsWidget() {
		return inv.stampBaseURL(desc.Name, body, cfg.URL), nil
	}
	return body, nil
}

// checkArgs validates args against the declared parameter schema. It only
// logs; plugins validate server-side and unknown fields pass through.
func (inv *Invoker) checkArgs(desc ToolDescriptor, args json.RawMessage) {
	if len(desc.Parameters) == 0 {
		return
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(desc.Parameters),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		inv.logger.Debug("Tool schema unusable", "tool", desc.Name, "err", err)
		return
	}
	if result.Valid() {
		return
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	inv.logger.Warn("Tool arguments do not match schema", "tool", desc.Name, "errors", strings.Join(problems, "; "))
}

// stampBaseURL sets baseURL on an object result so relative widget URLs can
// be resolved by the renderer.
func (inv *Invoker) stampBaseURL(toolName string, body []byte, baseURL string) json.RawMessage {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		inv.logger.Warn("Widget tool returned a non-object result", "tool", toolName)
		return body
	}
	stamp, _ := json.Marshal(baseURL)
	obj["baseURL"] = stamp
	out, err := json.Marshal(obj)
	if err != nil {
		return body
	}
	return out
}

// joinURL appends path to base unless path is already absolute.
func joinURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s%s", strings.TrimRight(base, "/"), path)
}
