package turn

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/errors"
)

// Journal records turn transitions. Failures are logged and never change
// the outcome of a transition.
type Journal interface {
	TurnStarted(ctx context.Context, t Turn) error
	TurnEvent(ctx context.Context, t Turn, ev EventRecord) error
	TurnEnded(ctx context.Context, t Turn) error
}

// Sequencer holds one turn slot per session. Each slot has its own mutex so
// sessions never contend with each other.
type Sequencer struct {
	mu    sync.Mutex
	slots map[string]*slot

	journal Journal
	logger  *zap.Logger
	now     func() time.Time
}

type slot struct {
	mu   sync.Mutex
	turn *Turn
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithJournal mirrors transitions to j.
func WithJournal(j Journal) Option {
	return func(s *Sequencer) { s.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sequencer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithNow replaces the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Sequencer) { s.now = now }
}

// NewSequencer returns an empty Sequencer.
func NewSequencer(opts ...Option) *Sequencer {
	s := &Sequencer{
		slots:  make(map[string]*slot),
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sequencer) slotFor(sessionID string, create bool) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[sessionID]
	if !ok && create {
		sl = &slot{}
		s.slots[sessionID] = sl
	}
	return sl
}

// Begin starts a new turn. It fails with TURN_CONFLICT while the session's
// previous turn is still active.
func (s *Sequencer) Begin(ctx context.Context, sessionID, userInput string, extensionChain []string) (Turn, error) {
	if strings.TrimSpace(sessionID) == "" {
		return Turn{}, errors.NewInvalidRequest("session id is required")
	}
	if strings.TrimSpace(userInput) == "" {
		return Turn{}, errors.NewInvalidRequest("user input is required")
	}

	sl := s.slotFor(sessionID, true)
	sl.mu.Lock()
	if sl.turn != nil && sl.turn.Status == StatusActive {
		active := sl.turn.ID
		sl.mu.Unlock()
		return Turn{}, errors.NewTurnConflict(sessionID, active)
	}

	now := s.now().UTC()
	t := &Turn{
		ID:             generateULID(now),
		SessionID:      sessionID,
		UserInput:      userInput,
		ExtensionChain: append([]string{}, extensionChain...),
		Status:         StatusActive,
		Events:         []EventRecord{},
		StartedAt:      now,
	}
	sl.turn = t
	snapshot := t.clone()
	sl.mu.Unlock()

	s.logger.Info("turn started",
		zap.String("session.id", sessionID),
		zap.String("turn.id", snapshot.ID),
		zap.Strings("extension_chain", snapshot.ExtensionChain))
	s.journalCall("start", snapshot, func() error { return s.journal.TurnStarted(ctx, snapshot) })
	return snapshot, nil
}

// Emit records an event on the session's turn. turn_completed moves an
// active turn to completed.
func (s *Sequencer) Emit(ctx context.Context, sessionID, event string) (Turn, error) {
	if !Recognized(event) {
		return Turn{}, errors.NewUnknownEvent(event)
	}

	sl := s.slotFor(sessionID, false)
	if sl == nil {
		return Turn{}, errors.NewInvalidRequest("no turn has begun in this session")
	}

	sl.mu.Lock()
	if sl.turn == nil {
		sl.mu.Unlock()
		return Turn{}, errors.NewInvalidRequest("no turn has begun in this session")
	}

	now := s.now().UTC()
	rec := EventRecord{Name: Event(event), At: now}
	t := sl.turn
	t.Events = append(t.Events, rec)

	ended := false
	if rec.Name.completes() && t.Status == StatusActive {
		t.Status = StatusCompleted
		t.EndedAt = &now
		ended = true
	}
	snapshot := t.clone()
	sl.mu.Unlock()

	s.logger.Debug("turn event",
		zap.String("session.id", sessionID),
		zap.String("turn.id", snapshot.ID),
		zap.String("event", event))
	s.journalCall("event", snapshot, func() error { return s.journal.TurnEvent(ctx, snapshot, rec) })

	if ended {
		s.logger.Info("turn completed",
			zap.String("session.id", sessionID),
			zap.String("turn.id", snapshot.ID),
			zap.Duration("elapsed", now.Sub(snapshot.StartedAt)))
		s.journalCall("end", snapshot, func() error { return s.journal.TurnEnded(ctx, snapshot) })
	}
	return snapshot, nil
}

// Fail moves the session's active turn to failed with message as its error.
func (s *Sequencer) Fail(ctx context.Context, sessionID, message string) (Turn, error) {
	sl := s.slotFor(sessionID, false)
	if sl == nil {
		return Turn{}, errors.NewInvalidRequest("no active turn")
	}

	sl.mu.Lock()
	if sl.turn == nil || sl.turn.Status != StatusActive {
		sl.mu.Unlock()
		return Turn{}, errors.NewInvalidRequest("no active turn")
	}

	now := s.now().UTC()
	t := sl.turn
	t.Status = StatusFailed
	t.Error = message
	t.EndedAt = &now
	snapshot := t.clone()
	sl.mu.Unlock()

	s.logger.Warn("turn failed",
		zap.String("session.id", sessionID),
		zap.String("turn.id", snapshot.ID),
		zap.String("error", message))
	s.journalCall("end", snapshot, func() error { return s.journal.TurnEnded(ctx, snapshot) })
	return snapshot, nil
}

// Context returns a copy of the session's latest turn in any state, or nil
// if the session never began one.
func (s *Sequencer) Context(sessionID string) *Turn {
	sl := s.slotFor(sessionID, false)
	if sl == nil {
		return nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.turn == nil {
		return nil
	}
	c := sl.turn.clone()
	return &c
}

// State returns the session's state, Idle if no turn was ever begun.
func (s *Sequencer) State(sessionID string) Status {
	if t := s.Context(sessionID); t != nil {
		return t.Status
	}
	return StatusIdle
}

// Active returns the session's turn if it is active.
func (s *Sequencer) Active(sessionID string) (Turn, bool) {
	t := s.Context(sessionID)
	if t == nil || t.Status != StatusActive {
		return Turn{}, false
	}
	return *t, true
}

func (s *Sequencer) journalCall(op string, t Turn, fn func() error) {
	if s.journal == nil {
		return
	}
	if err := fn(); err != nil {
		s.logger.Warn("turn journal write failed",
			zap.String("op", op),
			zap.String("session.id", t.SessionID),
			zap.String("turn.id", t.ID),
			zap.Error(err))
	}
}
