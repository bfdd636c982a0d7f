package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents a Strata error code.
type ErrorCode string

const (
	ErrNoActiveSession      ErrorCode = "NO_ACTIVE_SESSION"      // 409
	ErrTurnConflict         ErrorCode = "TURN_CONFLICT"          // 409
	ErrUnknownEvent         ErrorCode = "UNKNOWN_EVENT"          // 400
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"        // 400
	ErrNotFound             ErrorCode = "NOT_FOUND"              // 404
	ErrInferenceUnavailable ErrorCode = "INFERENCE_UNAVAILABLE"  // 502
	ErrInferenceTimeout     ErrorCode = "INFERENCE_TIMEOUT"      // 504
	ErrStreamConnectTimeout ErrorCode = "STREAM_CONNECT_TIMEOUT" // 504
	ErrStreamIdleTimeout    ErrorCode = "STREAM_IDLE_TIMEOUT"    // 504
	ErrStreamFailed         ErrorCode = "STREAM_FAILED"          // 502
	ErrStorage              ErrorCode = "STORAGE_ERROR"          // 500
	ErrCapsuleAssembly      ErrorCode = "CAPSULE_ASSEMBLY_ERROR" // 500
	ErrInternal             ErrorCode = "INTERNAL"               // 500
)

// StrataError represents a structured error with code, status, and details.
type StrataError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *StrataError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *StrataError) Unwrap() error {
	return e.Cause
}

// NewNoActiveSession creates a 409 error for operations that need a current session.
func NewNoActiveSession() *StrataError {
	return &StrataError{
		Code:    ErrNoActiveSession,
		Status:  409,
		Message: "no active session; create one first",
	}
}

// NewTurnConflict creates a 409 error when a turn is already in flight for the session.
func NewTurnConflict(sessionID, turnID string) *StrataError {
	return &StrataError{
		Code:    ErrTurnConflict,
		Status:  409,
		Message: fmt.Sprintf("turn %s is still active in session %s", turnID, sessionID),
		Details: map[string]any{"session_id": sessionID, "turn_id": turnID},
	}
}

// NewUnknownEvent creates a 400 error for turn events outside the recognized set.
func NewUnknownEvent(event string) *StrataError {
	return &StrataError{
		Code:    ErrUnknownEvent,
		Status:  400,
		Message: fmt.Sprintf("unknown turn event: %q", event),
		Details: map[string]any{"event": event},
	}
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *StrataError {
	return &StrataError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewInvalidSurface creates a 400 error for an unknown surface kind.
func NewInvalidSurface(kind string) *StrataError {
	return &StrataError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: fmt.Sprintf("invalid surface: %q", kind),
		Details: map[string]any{"surface": kind},
	}
}

// NewInvalidLLM creates a 400 error for an unknown or misused llm id.
func NewInvalidLLM(id, reason string) *StrataError {
	return &StrataError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: fmt.Sprintf("invalid llm id %q: %s", id, reason),
		Details: map[string]any{"llm_id": id},
	}
}

// NewNotFound creates a 404 error.
func NewNotFound(what string) *StrataError {
	return &StrataError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found", what),
	}
}

// NewInferenceUnavailable creates a 502 error for transport failures and
// non-success responses from the inference backend.
func NewInferenceUnavailable(cause error) *StrataError {
	return &StrataError{
		Code:    ErrInferenceUnavailable,
		Status:  502,
		Message: fmt.Sprintf("inference backend unavailable: %v", cause),
		Cause:   cause,
	}
}

// NewInferenceTimeout creates a 504 error when a non-streaming attempt timed out.
func NewInferenceTimeout(timeout time.Duration, cause error) *StrataError {
	return &StrataError{
		Code:    ErrInferenceTimeout,
		Status:  504,
		Message: fmt.Sprintf("inference request timed out after %s: %v", timeout, cause),
		Details: map[string]any{"timeout_ms": timeout.Milliseconds()},
		Cause:   cause,
	}
}

// NewStreamConnectTimeout creates a 504 error when no stream data arrived within the connect window.
func NewStreamConnectTimeout(window time.Duration) *StrataError {
	return &StrataError{
		Code:    ErrStreamConnectTimeout,
		Status:  504,
		Message: fmt.Sprintf("no response from inference backend within %s", window),
		Details: map[string]any{"window_ms": window.Milliseconds()},
	}
}

// NewStreamIdleTimeout creates a 504 error when a started stream stalled longer than the idle window.
func NewStreamIdleTimeout(window time.Duration, chunks int) *StrataError {
	return &StrataError{
		Code:    ErrStreamIdleTimeout,
		Status:  504,
		Message: fmt.Sprintf("stream stalled for %s after %d chunks", window, chunks),
		Details: map[string]any{"window_ms": window.Milliseconds(), "chunks": chunks},
	}
}

// NewStreamFailed creates a 502 error for any other terminal stream failure.
func NewStreamFailed(cause error) *StrataError {
	return &StrataError{
		Code:    ErrStreamFailed,
		Status:  502,
		Message: fmt.Sprintf("stream failed: %v", cause),
		Cause:   cause,
	}
}

// NewStorage creates a 500 error for surface read/write failures.
func NewStorage(op string, cause error) *StrataError {
	return &StrataError{
		Code:    ErrStorage,
		Status:  500,
		Message: fmt.Sprintf("%s: %v", op, cause),
		Cause:   cause,
	}
}

// NewCapsuleAssembly creates a 500 error when a capsule cannot be assembled.
func NewCapsuleAssembly(msg string) *StrataError {
	return &StrataError{
		Code:    ErrCapsuleAssembly,
		Status:  500,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *StrataError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &StrataError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if an error (or anything it wraps) is a StrataError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *StrataError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As returns the StrataError in err's chain, or wraps err as INTERNAL.
func As(err error) *StrataError {
	if err == nil {
		return nil
	}
	var sErr *StrataError
	if stderrors.As(err, &sErr) {
		return sErr
	}
	return NewInternal(err)
}

// Payload is the wire form of an error in HTTP and MCP responses.
type Payload struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// ToPayload converts err for a response body. INTERNAL errors carry a
// generic message so causes stay in the logs.
func ToPayload(err error) Payload {
	sErr := As(err)
	if sErr == nil {
		sErr = NewInternal(nil)
	}
	p := Payload{
		Code:    sErr.Code,
		Message: sErr.Message,
		Status:  sErr.Status,
		Details: sErr.Details,
	}
	if sErr.Code == ErrInternal {
		p.Message = "internal error"
		p.Details = nil
	}
	return p
}
