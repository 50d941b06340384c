package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ManifestErrorKind classifies a manifest fetch failure.
type ManifestErrorKind string

const (
	ManifestUnreachable ManifestErrorKind = "unreachable"
	ManifestHTTP        ManifestErrorKind = "http"
	ManifestMalformed   ManifestErrorKind = "malformed"
)

var (
	ErrManifestUnreachable = errors.New("manifest unreachable")
	ErrManifestHTTP        = errors.New("manifest http error")
	ErrManifestMalformed   = errors.New("manifest malformed")
)

// ManifestError is returned by ManifestClient.Fetch and recorded per plugin
// in a LoadResult.
type ManifestError struct {
	PluginID string
	URL      string
	Kind     ManifestErrorKind
	Status   int
	Err      error
}

func (e *ManifestError) Error() string {
	prefix := "manifest"
	if e.PluginID != "" {
		prefix = "plugin " + e.PluginID + ": manifest"
	}
	switch e.Kind {
	case ManifestHTTP:
		return fmt.Sprintf("%s %s: HTTP %d", prefix, e.URL, e.Status)
	case ManifestMalformed:
		return fmt.Sprintf("%s %s malformed: %v", prefix, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s unreachable: %v", prefix, e.URL, e.Err)
	}
}

func (e *ManifestError) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *ManifestError) Is(target error) bool {
	switch target {
	case ErrManifestUnreachable:
		return e.Kind == ManifestUnreachable
	case ErrManifestHTTP:
		return e.Kind == ManifestHTTP
	case ErrManifestMalformed:
		return e.Kind == ManifestMalformed
	}
	return false
}

// Retryable reports whether fetching again may succeed.
func (e *ManifestError) Retryable() bool {
	switch e.Kind {
	case ManifestUnreachable:
		return true
	case ManifestHTTP:
		return retryableStatus(e.Status)
	}
	return false
}

// ToolErrorKind classifies a tool invocation failure.
type ToolErrorKind string

const (
	ToolNetwork     ToolErrorKind = "network"
	ToolHTTP        ToolErrorKind = "http"
	ToolTimeout     ToolErrorKind = "timeout"
	ToolMalformed   ToolErrorKind = "malformed"
	ToolNotFound    ToolErrorKind = "not-found"
	ToolInvalidArgs ToolErrorKind = "invalid-args"
)

// ToolError is the typed failure of a single tool call. It never aborts the
// loop; the loop folds it into the conversation via Payload.
type ToolError struct {
	ToolName string
	Kind     ToolErrorKind
	Status   int
	Message  string
	Err      error
}

func (e *ToolError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("tool %s: %s (HTTP %d): %s", e.ToolName, e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("tool %s: %s: %s", e.ToolName, e.Kind, msg)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed.
func (e *ToolError) Retryable() bool {
	switch e.Kind {
	case ToolNetwork, ToolTimeout:
		return true
	case ToolHTTP:
		return retryableStatus(e.Status)
	}
	return false
}

// Payload encodes the error as a tool result visible to the model:
// {"error":{"kind":..,"status":..,"message":..}}.
func (e *ToolError) Payload() json.RawMessage {
	type body struct {
		Kind      ToolErrorKind `json:"kind"`
		Status    int           `json:"status,omitempty"`
		Message   string        `json:"message"`
		Retryable bool          `json:"retryable"`
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	data, _ := json.Marshal(map[string]body{
		"error": {Kind: e.Kind, Status: e.Status, Message: msg, Retryable: e.Retryable()},
	})
	return data
}

// ErrorPayload converts any tool execution error into a result payload.
// Errors that are not ToolErrors are reported with kind "internal".
func ErrorPayload(toolName string, err error) json.RawMessage {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Payload()
	}
	te = &ToolError{ToolName: toolName, Kind: "internal", Message: err.Error()}
	if errors.Is(err, context.DeadlineExceeded) {
		te.Kind = ToolTimeout
	}
	return te.Payload()
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

// IsRetryable classifies an error that reaches a UI boundary: network and
// timeout failures are retryable, malformed and protocol failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
