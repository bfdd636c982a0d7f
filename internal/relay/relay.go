// Package relay forwards inference stream events to a client connection,
// one framed message per event.
package relay

import (
	"context"
	"encoding/json"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/inference"
)

// Sink is an outbound message channel.
type Sink interface {
	// Send transmits one framed message.
	Send(ctx context.Context, payload []byte) error
	// Close ends the channel after the final message.
	Close() error
}

// Relay forwards events in arrival order without coalescing.
//
// A Done event is forwarded and the sink closed. An Error event that arrives
// after something was transmitted is forwarded as the final message and Relay
// returns nil. An Error event before any transmission is returned instead so
// the caller can answer with an ordinary failed response.
func Relay(ctx context.Context, events <-chan inference.StreamEvent, sink Sink) error {
	transmitted := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				// Producer stopped without a terminal event; its consumer is gone.
				if transmitted {
					return sink.Close()
				}
				return errors.NewStreamFailed(context.Canceled)
			}

			if ev.Type == inference.EventError && !transmitted {
				if ev.Err == nil {
					return errors.NewStreamFailed(nil)
				}
				return ev.Err
			}

			payload, err := json.Marshal(ev)
			if err != nil {
				return errors.NewInternal(err)
			}
			if err := sink.Send(ctx, payload); err != nil {
				return err
			}
			transmitted = true

			if ev.Terminal() {
				return sink.Close()
			}
		}
	}
}

// ErrorPayload frames err the way Relay frames a terminal error event.
func ErrorPayload(err error) []byte {
	payload, _ := json.Marshal(inference.StreamEvent{Type: inference.EventError, Err: errors.As(err)})
	return payload
}
