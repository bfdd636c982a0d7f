package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"
)

func TestStrataError_Error(t *testing.T) {
	err := &StrataError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "turn not found",
	}

	expected := "NOT_FOUND: turn not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewTurnConflict(t *testing.T) {
	err := NewTurnConflict("s1", "t1")

	if err.Code != ErrTurnConflict {
		t.Errorf("Code = %q, want %q", err.Code, ErrTurnConflict)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
	if err.Details["session_id"] != "s1" {
		t.Errorf("Details[session_id] = %v, want %q", err.Details["session_id"], "s1")
	}
	if err.Details["turn_id"] != "t1" {
		t.Errorf("Details[turn_id] = %v, want %q", err.Details["turn_id"], "t1")
	}
}

func TestNewUnknownEvent(t *testing.T) {
	err := NewUnknownEvent("bogus")

	if err.Code != ErrUnknownEvent {
		t.Errorf("Code = %q, want %q", err.Code, ErrUnknownEvent)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Details["event"] != "bogus" {
		t.Errorf("Details[event] = %v, want %q", err.Details["event"], "bogus")
	}
}

func TestNewInvalidSurface(t *testing.T) {
	err := NewInvalidSurface("nope")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Details["surface"] != "nope" {
		t.Errorf("Details[surface] = %v, want %q", err.Details["surface"], "nope")
	}
}

func TestNewInferenceTimeout_WrapsCause(t *testing.T) {
	err := NewInferenceTimeout(2*time.Second, context.DeadlineExceeded)

	if err.Status != 504 {
		t.Errorf("Status = %d, want 504", err.Status)
	}
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Error("expected errors.Is(err, context.DeadlineExceeded)")
	}
	if err.Details["timeout_ms"] != int64(2000) {
		t.Errorf("Details[timeout_ms] = %v, want 2000", err.Details["timeout_ms"])
	}
}

func TestStreamTimeouts_Distinct(t *testing.T) {
	connect := NewStreamConnectTimeout(time.Second)
	idle := NewStreamIdleTimeout(time.Second, 3)

	if connect.Code == idle.Code {
		t.Fatal("connect and idle timeouts must carry distinct codes")
	}
	if idle.Details["chunks"] != 3 {
		t.Errorf("Details[chunks] = %v, want 3", idle.Details["chunks"])
	}
}

func TestNewInternal_NilError(t *testing.T) {
	err := NewInternal(nil)

	if err.Message != "internal error" {
		t.Errorf("Message = %q, want %q", err.Message, "internal error")
	}
}

func TestIs(t *testing.T) {
	wrapped := fmt.Errorf("stage llm1: %w", NewInferenceUnavailable(stderrors.New("refused")))

	if !Is(wrapped, ErrInferenceUnavailable) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
	if Is(wrapped, ErrInferenceTimeout) {
		t.Error("Is matched the wrong code")
	}
	if Is(stderrors.New("plain"), ErrInternal) {
		t.Error("Is matched a non-Strata error")
	}
	if Is(nil, ErrInternal) {
		t.Error("Is matched nil")
	}
}

func TestAs(t *testing.T) {
	if As(nil) != nil {
		t.Error("As(nil) should be nil")
	}

	plain := As(stderrors.New("boom"))
	if plain.Code != ErrInternal {
		t.Errorf("Code = %q, want %q", plain.Code, ErrInternal)
	}

	storage := NewStorage("write trace", stderrors.New("disk full"))
	if got := As(fmt.Errorf("ctx: %w", storage)); got != storage {
		t.Errorf("As returned %v, want the original StrataError", got)
	}
}

func TestToPayload(t *testing.T) {
	p := ToPayload(NewTurnConflict("s1", "t1"))
	if p.Code != ErrTurnConflict || p.Status != 409 {
		t.Errorf("payload = %+v", p)
	}
	if p.Details["turn_id"] != "t1" {
		t.Errorf("Details = %v, want turn_id", p.Details)
	}

	hidden := ToPayload(stderrors.New("open /secret/path: permission denied"))
	if hidden.Code != ErrInternal || hidden.Status != 500 {
		t.Errorf("payload = %+v", hidden)
	}
	if hidden.Message != "internal error" {
		t.Errorf("Message = %q, internal cause leaked", hidden.Message)
	}
}
