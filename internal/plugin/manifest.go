// Package plugin discovers tools and widgets from HTTP plugin services and
// exposes them as a single catalog.
//
// A plugin serves GET {url}/manifest.json and one POST endpoint per tool.
// Plugins are never loaded in-process.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxManifestBytes = 1 << 20

// ToolType distinguishes plain data tools from widget tools.
type ToolType string

const (
	ToolTypeData   ToolType = "data"
	ToolTypeWidget ToolType = "widget"
)

// ToolDescriptor is one tool entry of a plugin manifest.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Endpoint    string          `json:"endpoint"`
	Type        ToolType        `json:"type,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// IsWidget reports whether results of this tool point at a widget.
func (d ToolDescriptor) IsWidget() bool { return d.Type == ToolTypeWidget }

// WidgetDescriptor is one widget entry of a plugin manifest.
type WidgetDescriptor struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
}

// PluginManifest is the document served at {url}/manifest.json.
type PluginManifest struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Version     string             `json:"version"`
	Description string             `json:"description,omitempty"`
	Author      string             `json:"author,omitempty"`
	Tools       []ToolDescriptor   `json:"tools"`
	Widgets     []WidgetDescriptor `json:"widgets"`
}

func (m *PluginManifest) validate() error {
	var missing []string
	if m.ID == "" {
		missing = append(missing, "id")
	}
	if m.Name == "" {
		missing = append(missing, "name")
	}
	if m.Version == "" {
		missing = append(missing, "version")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ManifestClient fetches plugin manifests. It neither retries nor caches.
type ManifestClient struct {
	httpClient *http.Client
	timeout    time.Duration
}

// NewManifestClient returns a client. A zero timeout leaves the deadline to ctx.
func NewManifestClient(httpClient *http.Client, timeout time.Duration) *ManifestClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ManifestClient{httpClient: httpClient, timeout: timeout}
}

// Fetch issues GET {baseURL}/manifest.json with an optional bearer token.
// All failures are *ManifestError.
func (c *ManifestClient) Fetch(ctx context.Context, baseURL, apiKey string) (*PluginManifest, error) {
	manifestURL := strings.TrimRight(baseURL, "/") + "/manifest.json"
	fail := func(kind ManifestErrorKind, status int, err error) (*PluginManifest, error) {
		return nil, &ManifestError{URL: manifestURL, Kind: kind, Status: status, Err: err}
	}

	if baseURL == "" {
		return fail(ManifestUnreachable, 0, errors.New("plugin url is empty"))
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return fail(ManifestUnreachable, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(ManifestUnreachable, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxManifestBytes))
		return fail(ManifestHTTP, resp.StatusCode, fmt.Errorf("%s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return fail(ManifestUnreachable, 0, err)
	}

	var m PluginManifest
	if err := json.Unmarshal(body, &m); err != nil {
		return fail(ManifestMalformed, 0, err)
	}
	if err := m.validate(); err != nil {
		return fail(ManifestMalformed, 0, err)
	}
	return &m, nil
}
