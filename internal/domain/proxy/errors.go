package proxy

import (
	"errors"
)

// ErrorKind classifies a failed tool call.
type ErrorKind string

const (
	KindServerUnavailable ErrorKind = "server_unavailable"
	KindToolNotFound      ErrorKind = "tool_not_found"
	KindAccessDenied      ErrorKind = "access_denied"
	KindTimeout           ErrorKind = "timeout"
	KindExecutionFailure  ErrorKind = "execution_failure"
	KindUnexpected        ErrorKind = "unexpected_error"
)

// Sentinel errors, one per failure kind.
var (
	ErrServerNotConnected = errors.New("server not connected")
	ErrToolNotFound       = errors.New("tool not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrExecutionTimeout   = errors.New("execution timed out")
	ErrExecutionFailed    = errors.New("execution failed")
	ErrUnexpected         = errors.New("unexpected error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindServerUnavailable:
		return ErrServerNotConnected
	case KindToolNotFound:
		return ErrToolNotFound
	case KindAccessDenied:
		return ErrAccessDenied
	case KindTimeout:
		return ErrExecutionTimeout
	case KindExecutionFailure:
		return ErrExecutionFailed
	default:
		return ErrUnexpected
	}
}

// CallError is a failed tool call surfaced as an error.
// errors.Is matches the sentinel of its Kind.
type CallError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	return e.Message
}

// Unwrap returns the sentinel for the failure kind.
func (e *CallError) Unwrap() error {
	return e.Err
}

// failure builds a normalized failed result.
func failure(kind ErrorKind, message, requestID string) ToolCallResult {
	if message == "" {
		message = kind.sentinel().Error()
	}
	return ToolCallResult{
		Success:   false,
		Content:   nil,
		Error:     message,
		Kind:      kind,
		RequestID: requestID,
	}
}

// normalize enforces the result invariants on whatever the Client Manager
// returned.
func normalize(r ToolCallResult, requestID string) ToolCallResult {
	r.RequestID = requestID
	if r.Success {
		r.Error = ""
		r.Kind = ""
		return r
	}
	r.Content = nil
	if r.Kind == "" {
		r.Kind = KindExecutionFailure
	}
	if r.Error == "" {
		r.Error = r.Kind.sentinel().Error()
	}
	return r
}
