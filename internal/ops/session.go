package ops

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/surface"
)

// SessionOutput identifies a session.
type SessionOutput struct {
	SessionID string `json:"session_id"`
}

// CreateSession creates a session with a fresh UUID, materializes its
// default surfaces and makes it the current session.
func (s *Service) CreateSession(ctx context.Context) (*SessionOutput, error) {
	id := uuid.NewString()
	if err := s.store.CreateSession(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.SetCurrent(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info("session created", zap.String("session.id", id))
	return &SessionOutput{SessionID: id}, nil
}

// CurrentSession returns the current session, or NO_ACTIVE_SESSION.
func (s *Service) CurrentSession(ctx context.Context) (*SessionOutput, error) {
	id, err := s.resolveSession(ctx, "")
	if err != nil {
		return nil, err
	}
	return &SessionOutput{SessionID: id}, nil
}

// UseSession makes an existing session current.
func (s *Service) UseSession(ctx context.Context, sessionID string) (*SessionOutput, error) {
	if err := s.store.SetCurrent(ctx, sessionID); err != nil {
		return nil, err
	}
	return &SessionOutput{SessionID: sessionID}, nil
}

// ListSessionsOutput lists sessions, most recently active first.
type ListSessionsOutput struct {
	Sessions []surface.SessionInfo `json:"sessions"`
}

// ListSessions returns every session in the store.
func (s *Service) ListSessions(ctx context.Context) (*ListSessionsOutput, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	return &ListSessionsOutput{Sessions: sessions}, nil
}
