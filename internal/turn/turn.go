// Package turn tracks the lifecycle of user turns, one in flight per session.
package turn

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Status is the state of a Turn. A session that never began a turn is Idle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Event names a recorded step of a turn.
type Event string

const (
	EventCapsuleCompiled    Event = "capsule_compiled"
	EventInferenceStarted   Event = "inference_started"
	EventInferenceCompleted Event = "inference_completed"
	EventStreamStarted      Event = "stream_started"
	EventStreamCompleted    Event = "stream_completed"
	EventSurfaceWritten     Event = "surface_written"
	EventTurnCompleted      Event = "turn_completed"
)

var recognized = map[Event]bool{
	EventCapsuleCompiled:    true,
	EventInferenceStarted:   true,
	EventInferenceCompleted: true,
	EventStreamStarted:      true,
	EventStreamCompleted:    true,
	EventSurfaceWritten:     true,
	EventTurnCompleted:      true,
}

// Recognized reports whether name is a known event.
func Recognized(name string) bool {
	return recognized[Event(name)]
}

// completes reports whether an event ends the turn successfully.
func (e Event) completes() bool {
	return e == EventTurnCompleted
}

// EventRecord is one recorded event.
type EventRecord struct {
	Name Event     `json:"name"`
	At   time.Time `json:"at"`
}

// Turn is one user turn within a session.
type Turn struct {
	ID             string        `json:"turn_id"`
	SessionID      string        `json:"session_id"`
	UserInput      string        `json:"user_input"`
	ExtensionChain []string      `json:"extension_chain"`
	Status         Status        `json:"status"`
	Error          string        `json:"error,omitempty"`
	Events         []EventRecord `json:"events"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
}

// clone returns a copy that shares no slices with t.
func (t *Turn) clone() Turn {
	c := *t
	c.ExtensionChain = append([]string{}, t.ExtensionChain...)
	c.Events = append([]EventRecord{}, t.Events...)
	if t.EndedAt != nil {
		ended := *t.EndedAt
		c.EndedAt = &ended
	}
	return c
}

// generateULID creates a new ULID.
func generateULID(now time.Time) string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}
