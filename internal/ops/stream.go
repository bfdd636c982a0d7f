package ops

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/inference"
	"github.com/hpungsan/strata/internal/logging"
	"github.com/hpungsan/strata/internal/surface"
	"github.com/hpungsan/strata/internal/value"
)

// StreamInput contains parameters for Stream.
type StreamInput struct {
	SessionID string   `json:"session_id,omitempty"`
	LLMID     string   `json:"llm_id"`
	Surfaces  []string `json:"surfaces,omitempty"`
	UserInput string   `json:"user_input,omitempty"`
}

// Stream runs the streaming stage. The returned channel carries tokens in
// arrival order and ends with one Done or Error event. The accumulated reply
// is written to the trace surface before Done is delivered, so no observer
// sees a partial reply. Any failure fails the active turn once.
//
// Cancelling ctx stops the backend read; the channel then closes without a
// terminal event.
func (s *Service) Stream(ctx context.Context, input StreamInput) (<-chan inference.StreamEvent, error) {
	sessionID, err := s.resolveSession(ctx, input.SessionID)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithSessionID(ctx, sessionID)
	role, _, req, err := s.prepare(ctx, sessionID, input.LLMID, input.Surfaces, input.UserInput)
	if err == nil && !role.Stream {
		err = errors.NewInvalidLLM(role.ID, "not the streaming role")
	}
	if err != nil {
		return nil, s.failTurn(ctx, sessionID, err)
	}

	events, err := s.llm.Stream(ctx, req)
	if err != nil {
		return nil, s.failTurn(ctx, sessionID, err)
	}

	out := make(chan inference.StreamEvent)
	go s.accumulate(ctx, sessionID, input.UserInput, events, out)
	return out, nil
}

func (s *Service) accumulate(ctx context.Context, sessionID, userInput string, events <-chan inference.StreamEvent, out chan<- inference.StreamEvent) {
	defer close(out)
	log := logging.For(ctx, s.logger)

	send := func(ev inference.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var reply strings.Builder
	for ev := range events {
		switch ev.Type {
		case inference.EventToken:
			reply.WriteString(ev.Text)
			if !send(ev) {
				s.abandon(ctx, sessionID)
				return
			}

		case inference.EventDone:
			if err := s.writeTrace(ctx, sessionID, userInput, reply.String()); err != nil {
				log.Error("trace write failed", zap.Error(err))
				_ = s.failTurn(ctx, sessionID, err)
				send(inference.StreamEvent{Type: inference.EventError, Err: errors.As(err)})
				return
			}
			send(ev)
			return

		case inference.EventError:
			var err error = ev.Err
			if ev.Err == nil {
				err = errors.NewStreamFailed(nil)
			}
			_ = s.failTurn(ctx, sessionID, err)
			send(ev)
			return
		}
	}
	s.abandon(ctx, sessionID)
}

// abandon fails the turn of a stream whose consumer went away.
func (s *Service) abandon(ctx context.Context, sessionID string) {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	_ = s.failTurn(ctx, sessionID, errors.NewStreamFailed(cause))
}

// writeTrace records the completed reply as one trace overwrite. Fields an
// earlier stage of the same turn stored, such as the analysis, are kept.
func (s *Service) writeTrace(ctx context.Context, sessionID, userInput, reply string) error {
	ctx = context.WithoutCancel(ctx)
	doc, err := s.turnTrace(ctx, sessionID)
	if err != nil {
		return err
	}
	if userInput != "" {
		doc.Set("userInput", value.String(userInput))
	}
	doc.Set("llm2Output", value.String(reply)).
		Set("timestamp", value.String(s.now().UTC().Format(time.RFC3339Nano)))

	_, err = s.store.Write(ctx, sessionID, surface.KindTrace, doc)
	return err
}

// turnTrace returns the trace of the session's latest turn: the stored
// document when it carries that turn's id, else a fresh one stamped with it.
func (s *Service) turnTrace(ctx context.Context, sessionID string) (value.Value, error) {
	turnID, userInput := "", ""
	if t := s.turns.Context(sessionID); t != nil {
		turnID, userInput = t.ID, t.UserInput
	}

	stored, err := s.store.Read(ctx, sessionID, surface.KindTrace)
	if err != nil {
		return value.Value{}, err
	}
	if id, ok := stored.Get("turnId"); ok && id.Text() == turnID {
		return stored, nil
	}

	return surface.Default(surface.KindTrace).
		Set("turnId", value.String(turnID)).
		Set("userInput", value.String(userInput)), nil
}
