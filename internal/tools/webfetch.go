package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"

	"github.com/persai/persai/internal/config"
	"github.com/persai/persai/internal/schema"
)

const (
	webUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36"
	maxRedirects = 5
	maxBodyBytes = 5 << 20
)

// ToolWebFetch is the name of the built-in fetch tool.
const ToolWebFetch = "webfetch"

// validateURL checks that url is http(s) with a valid domain.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http/https allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing domain in URL")
	}
	return nil
}

// WebFetchTool fetches a URL and extracts readable content.
type WebFetchTool struct {
	maxChars   int
	httpClient *http.Client
}

// NewWebFetchTool creates a WebFetchTool. maxChars defaults to 50000.
func NewWebFetchTool(maxChars int) *WebFetchTool {
	if maxChars <= 0 {
		maxChars = 50000
	}
	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return &WebFetchTool{maxChars: maxChars, httpClient: client}
}

func (t *WebFetchTool) Name() string { return ToolWebFetch }
func (t *WebFetchTool) Description() string {
	return "Fetches data from web by link. Never use links from show tools here"
}
func (t *WebFetchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"link": {
				"type": "string",
				"description": "URL to fetch"
			},
			"extractMode": {
				"type": "string",
				"enum": ["markdown", "text"],
				"default": "markdown"
			}
		},
		"required": ["link"]
	}`)
}

type webFetchArgs struct {
	Link        string `json:"link"`
	ExtractMode string `json:"extractMode"`
}

type webFetchResult struct {
	URL       string `json:"url"`
	FinalURL  string `json:"finalUrl,omitempty"`
	Status    int    `json:"status,omitempty"`
	Extractor string `json:"extractor,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Length    int    `json:"length,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Execute fetches args.link. Failures are reported inside the result so the
// model can react to them; only malformed arguments produce a Go error.
func (t *WebFetchTool) Execute(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args webFetchArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("webfetch: invalid arguments: %w", err)
	}
	if args.Link == "" {
		return nil, fmt.Errorf("webfetch: link is required")
	}
	slog.Info("webfetch called", "link", args.Link)

	res := t.fetch(ctx, args)
	return json.Marshal(res)
}

func (t *WebFetchTool) fetch(ctx context.Context, args webFetchArgs) webFetchResult {
	rawURL := args.Link
	if err := validateURL(rawURL); err != nil {
		return webFetchResult{URL: rawURL, Error: fmt.Sprintf("URL validation failed: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return webFetchResult{URL: rawURL, Error: err.Error()}
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return webFetchResult{URL: rawURL, Error: err.Error()}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return webFetchResult{URL: rawURL, Error: err.Error()}
	}

	ctype := resp.Header.Get("Content-Type")
	text, extractor := t.extract(rawURL, ctype, bodyBytes, args.ExtractMode)

	truncated := len(text) > t.maxChars
	if truncated {
		text = text[:t.maxChars]
	}

	return webFetchResult{
		URL:       rawURL,
		FinalURL:  resp.Request.URL.String(),
		Status:    resp.StatusCode,
		Extractor: extractor,
		Truncated: truncated,
		Length:    len(text),
		Text:      text,
	}
}

func (t *WebFetchTool) extract(rawURL, ctype string, body []byte, mode string) (text, extractor string) {
	switch {
	case strings.Contains(ctype, "application/json"):
		var v any
		if err := json.Unmarshal(body, &v); err == nil {
			formatted, _ := json.MarshalIndent(v, "", "  ")
			return string(formatted), "json"
		}
		return string(body), "json"

	case strings.Contains(ctype, "text/html") || isHTMLPrefix(body):
		parsedURL, _ := url.Parse(rawURL)
		article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
		if err != nil {
			return stripHTMLTags(string(body)), "readability"
		}
		if mode == "text" {
			text = stripHTMLTags(article.Content)
		} else {
			text = htmlToMarkdown(article.Content)
		}
		if article.Title != "" {
			text = "# " + article.Title + "\n\n" + text
		}
		return text, "readability"

	default:
		return string(body), "raw"
	}
}

// isHTMLPrefix returns true if the body starts with an HTML declaration.
func isHTMLPrefix(b []byte) bool {
	prefix := strings.ToLower(strings.TrimSpace(string(b[:min(256, len(b))])))
	return strings.HasPrefix(prefix, "<!doctype") || strings.HasPrefix(prefix, "<html")
}

// CoreTools returns the built-in tools enabled by cfg. They are loaded ahead
// of any plugin tool.
func CoreTools(cfg config.ToolsConfig) []schema.Tool {
	var out []schema.Tool
	if cfg.WebFetch.Enabled {
		out = append(out, NewWebFetchTool(cfg.WebFetch.MaxChars))
	}
	return out
}

var _ schema.Tool = (*WebFetchTool)(nil)
