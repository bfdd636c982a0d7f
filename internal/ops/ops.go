// Package ops implements the control-boundary operations shared by the HTTP
// server, the MCP server and the CLI.
package ops

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/capsule"
	"github.com/hpungsan/strata/internal/db"
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/inference"
	"github.com/hpungsan/strata/internal/logging"
	"github.com/hpungsan/strata/internal/prompts"
	"github.com/hpungsan/strata/internal/surface"
	"github.com/hpungsan/strata/internal/turn"
)

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Inference is the model backend used by pipeline operations.
type Inference interface {
	Call(ctx context.Context, req inference.Request) (*inference.Result, error)
	Stream(ctx context.Context, req inference.Request) (<-chan inference.StreamEvent, error)
	Health(ctx context.Context) bool
}

// Deps are the collaborators of a Service. Journal may be nil.
type Deps struct {
	Store      *surface.Store
	Turns      *turn.Sequencer
	LLM        Inference
	Roles      *prompts.Registry
	Journal    *db.Journal
	Model      string
	WarnTokens int
	Logger     *zap.Logger
}

// Service runs operations against one store and one inference backend.
type Service struct {
	store    *surface.Store
	compiler *capsule.Compiler
	turns    *turn.Sequencer
	llm      Inference
	roles    *prompts.Registry
	journal  *db.Journal
	model    string
	logger   *zap.Logger
	now      func() time.Time
}

// New wires a Service.
func New(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []capsule.Option{capsule.WithLogger(logger)}
	if d.WarnTokens > 0 {
		opts = append(opts, capsule.WithWarnTokens(d.WarnTokens))
	}
	return &Service{
		store:    d.Store,
		compiler: capsule.NewCompiler(d.Store, opts...),
		turns:    d.Turns,
		llm:      d.LLM,
		roles:    d.Roles,
		journal:  d.Journal,
		model:    d.Model,
		logger:   logger,
		now:      time.Now,
	}
}

// resolveSession returns id when given and present, else the current session.
func (s *Service) resolveSession(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id != "" {
		if err := surface.ValidateSessionID(id); err != nil {
			return "", err
		}
		if !s.store.SessionExists(id) {
			return "", errors.NewNotFound("session " + id)
		}
		return id, nil
	}

	current, err := s.store.Current(ctx)
	if err != nil {
		return "", err
	}
	if current == "" {
		return "", errors.NewNoActiveSession()
	}
	return current, nil
}

// failTurn fails the session's active turn, if any, with err and returns err.
// Callers invoke it once on their single error return.
func (s *Service) failTurn(ctx context.Context, sessionID string, err error) error {
	if err == nil || sessionID == "" {
		return err
	}
	if _, ok := s.turns.Active(sessionID); !ok {
		return err
	}
	if _, fErr := s.turns.Fail(context.WithoutCancel(ctx), sessionID, errors.As(err).Error()); fErr != nil {
		logging.For(ctx, s.logger).Warn("fail turn", zap.String("session.id", sessionID), zap.Error(fErr))
	}
	return err
}

// validatePaths rejects paths whose first segment is not a surface kind.
func validatePaths(paths []string) error {
	for _, p := range paths {
		head, _, _ := strings.Cut(strings.TrimSpace(p), ".")
		if head == "" {
			continue
		}
		if _, err := surface.ParseKind(head); err != nil {
			return errors.NewInvalidRequest("invalid surface in variable path: " + p)
		}
	}
	return nil
}
