package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/turn"
)

// BeginTurnInput contains parameters for BeginTurn. SessionID defaults to
// the current session.
type BeginTurnInput struct {
	SessionID      string   `json:"session_id,omitempty"`
	UserInput      string   `json:"user_input"`
	ExtensionChain []string `json:"extension_chain,omitempty"`
}

// BeginTurnOutput identifies the new turn.
type BeginTurnOutput struct {
	TurnID    string      `json:"turn_id"`
	SessionID string      `json:"session_id"`
	Status    turn.Status `json:"status"`
}

// BeginTurn starts a turn in the session.
func (s *Service) BeginTurn(ctx context.Context, input BeginTurnInput) (*BeginTurnOutput, error) {
	sessionID, err := s.resolveSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	t, err := s.turns.Begin(ctx, sessionID, input.UserInput, input.ExtensionChain)
	if err != nil {
		return nil, err
	}
	return &BeginTurnOutput{TurnID: t.ID, SessionID: t.SessionID, Status: t.Status}, nil
}

// EmitTurnInput contains parameters for EmitTurn.
type EmitTurnInput struct {
	SessionID string `json:"session_id,omitempty"`
	Event     string `json:"event"`
}

// TurnStatusOutput reports a turn's state after a transition.
type TurnStatusOutput struct {
	TurnID string      `json:"turn_id"`
	Status turn.Status `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// EmitTurn records an event on the session's turn.
func (s *Service) EmitTurn(ctx context.Context, input EmitTurnInput) (*TurnStatusOutput, error) {
	if !turn.Recognized(input.Event) {
		return nil, errors.NewUnknownEvent(input.Event)
	}
	sessionID, err := s.resolveSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	t, err := s.turns.Emit(ctx, sessionID, input.Event)
	if err != nil {
		return nil, err
	}
	return &TurnStatusOutput{TurnID: t.ID, Status: t.Status, Error: t.Error}, nil
}

// FailTurnInput contains parameters for FailTurn.
type FailTurnInput struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// FailTurn marks the session's active turn failed.
func (s *Service) FailTurn(ctx context.Context, input FailTurnInput) (*TurnStatusOutput, error) {
	sessionID, err := s.resolveSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	t, err := s.turns.Fail(ctx, sessionID, input.Message)
	if err != nil {
		return nil, err
	}
	return &TurnStatusOutput{TurnID: t.ID, Status: t.Status, Error: t.Error}, nil
}

// TurnContext returns the session's latest turn in any state.
func (s *Service) TurnContext(ctx context.Context, sessionID string) (*turn.Turn, error) {
	sessionID, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	t := s.turns.Context(sessionID)
	if t == nil {
		return nil, errors.NewNotFound("turn")
	}
	return t, nil
}

// ListTurnsInput contains parameters for ListTurns.
type ListTurnsInput struct {
	SessionID string `json:"session_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ListTurnsOutput lists journaled turns, newest first.
type ListTurnsOutput struct {
	SessionID string      `json:"session_id"`
	Turns     []turn.Turn `json:"turns"`
}

// ListTurns reads the turn journal. It covers turns from earlier processes.
func (s *Service) ListTurns(ctx context.Context, input ListTurnsInput) (*ListTurnsOutput, error) {
	if s.journal == nil {
		return nil, errors.NewInvalidRequest("turn journal is not enabled")
	}
	sessionID, err := s.resolveSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	turns, err := s.journal.ListTurns(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if turns == nil {
		turns = []turn.Turn{}
	}
	return &ListTurnsOutput{SessionID: sessionID, Turns: turns}, nil
}

// GetTurnInput contains parameters for GetTurn.
type GetTurnInput struct {
	TurnID string `json:"turn_id"`
}

// GetTurn reads one journaled turn with its events in recorded order.
func (s *Service) GetTurn(ctx context.Context, input GetTurnInput) (*turn.Turn, error) {
	if s.journal == nil {
		return nil, errors.NewInvalidRequest("turn journal is not enabled")
	}
	if strings.TrimSpace(input.TurnID) == "" {
		return nil, errors.NewInvalidRequest("turn_id is required")
	}
	return s.journal.GetTurn(ctx, input.TurnID)
}
