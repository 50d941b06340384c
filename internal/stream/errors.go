package stream

import "fmt"

// ProtocolError describes a frame that could not be understood. Consumers log
// and skip it.
type ProtocolError struct {
	Line string
	Err  error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("stream protocol: %v: %q", e.Err, e.Line)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Retryable is always false: a malformed frame will be malformed again.
func (e *ProtocolError) Retryable() bool { return false }

// UpstreamError is an explicit error event sent by the producer. It ends the
// stream.
type UpstreamError struct {
	Message   string
	retryable bool
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return "stream error"
	}
	return "stream error: " + e.Message
}

// Retryable reports whether the producer flagged the failure as transient.
func (e *UpstreamError) Retryable() bool { return e.retryable }
