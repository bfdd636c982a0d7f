package ops

import (
	"context"

	"github.com/hpungsan/strata/internal/surface"
	"github.com/hpungsan/strata/internal/value"
)

// GetSurfaceInput contains parameters for GetSurface.
type GetSurfaceInput struct {
	SessionID string `json:"session_id,omitempty"`
	Surface   string `json:"surface"`
}

// SurfaceOutput is a surface document.
type SurfaceOutput struct {
	SessionID string      `json:"session_id"`
	Surface   string      `json:"surface"`
	Content   value.Value `json:"content"`
}

// GetSurface reads a surface, or its default shape when nothing is stored.
func (s *Service) GetSurface(ctx context.Context, input GetSurfaceInput) (*SurfaceOutput, error) {
	kind, err := surface.ParseKind(input.Surface)
	if err != nil {
		return nil, err
	}
	sessionID, err := s.resolveSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Read(ctx, sessionID, kind)
	if err != nil {
		return nil, err
	}
	return &SurfaceOutput{SessionID: sessionID, Surface: string(kind), Content: doc}, nil
}

// UpdateSurfaceInput contains parameters for UpdateSurface.
type UpdateSurfaceInput struct {
	SessionID string      `json:"session_id,omitempty"`
	Surface   string      `json:"surface"`
	Content   value.Value `json:"content"`
}

// UpdateSurface merges content into a surface with the kind's strategy and
// returns the merged document. A failure fails the active turn.
func (s *Service) UpdateSurface(ctx context.Context, input UpdateSurfaceInput) (out *SurfaceOutput, err error) {
	sessionID, err := s.resolveSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	defer func() { err = s.failTurn(ctx, sessionID, err) }()

	kind, err := surface.ParseKind(input.Surface)
	if err != nil {
		return nil, err
	}
	merged, err := s.store.Write(ctx, sessionID, kind, input.Content)
	if err != nil {
		return nil, err
	}
	return &SurfaceOutput{SessionID: sessionID, Surface: string(kind), Content: merged}, nil
}
