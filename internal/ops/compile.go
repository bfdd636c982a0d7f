package ops

import (
	"context"

	"github.com/hpungsan/strata/internal/capsule"
)

// CompileInput contains parameters for CompileCapsule.
type CompileInput struct {
	SessionID string   `json:"session_id,omitempty"`
	Paths     []string `json:"paths"`
	UserInput string   `json:"user_input,omitempty"`
}

// CompileCapsule assembles a capsule without calling a model.
func (s *Service) CompileCapsule(ctx context.Context, input CompileInput) (*capsule.Assembled, error) {
	if err := validatePaths(input.Paths); err != nil {
		return nil, err
	}
	sessionID, err := s.resolveSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}
	return s.compiler.CompileCapsule(ctx, sessionID, input.Paths, input.UserInput)
}
