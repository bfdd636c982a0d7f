package turn

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hpungsan/strata/internal/errors"
)

type recordingJournal struct {
	mu      sync.Mutex
	started []Turn
	events  []EventRecord
	ended   []Turn
	err     error
}

func (j *recordingJournal) TurnStarted(_ context.Context, t Turn) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = append(j.started, t)
	return j.err
}

func (j *recordingJournal) TurnEvent(_ context.Context, _ Turn, ev EventRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return j.err
}

func (j *recordingJournal) TurnEnded(_ context.Context, t Turn) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ended = append(j.ended, t)
	return j.err
}

func TestBegin_ConflictWhileActive(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer()

	first, err := s.Begin(ctx, "s1", "hello", []string{"ext-a"})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, first.Status)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, []string{"ext-a"}, first.ExtensionChain)

	_, err = s.Begin(ctx, "s1", "again", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTurnConflict))

	// The in-flight turn is untouched by the rejected begin.
	cur := s.Context("s1")
	require.NotNil(t, cur)
	assert.Equal(t, first.ID, cur.ID)
	assert.Equal(t, "hello", cur.UserInput)
}

func TestBegin_AfterTerminalStates(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer()

	_, err := s.Begin(ctx, "s1", "one", nil)
	require.NoError(t, err)
	_, err = s.Emit(ctx, "s1", string(EventTurnCompleted))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.State("s1"))

	second, err := s.Begin(ctx, "s1", "two", nil)
	require.NoError(t, err)
	_, err = s.Fail(ctx, "s1", "backend down")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, s.State("s1"))

	third, err := s.Begin(ctx, "s1", "three", nil)
	require.NoError(t, err)
	assert.NotEqual(t, second.ID, third.ID)
	assert.Equal(t, StatusActive, third.Status)
}

func TestBegin_RequiresInput(t *testing.T) {
	s := NewSequencer()
	_, err := s.Begin(context.Background(), "", "x", nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
	_, err = s.Begin(context.Background(), "s1", "  ", nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSessionsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer()

	_, err := s.Begin(ctx, "a", "x", nil)
	require.NoError(t, err)
	_, err = s.Begin(ctx, "b", "y", nil)
	require.NoError(t, err, "an active turn in one session must not block another")
}

func TestBegin_ConcurrentSingleFlight(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer()

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Begin(ctx, "s1", "race", nil); err == nil {
				wins.Add(1)
			} else if errors.Is(err, errors.ErrTurnConflict) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(31), conflicts.Load())
}

func TestEmit_UnknownEventChangesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer()
	_, err := s.Begin(ctx, "s1", "x", nil)
	require.NoError(t, err)

	_, err = s.Emit(ctx, "s1", "turn_exploded")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownEvent))

	cur := s.Context("s1")
	assert.Equal(t, StatusActive, cur.Status)
	assert.Empty(t, cur.Events)
}

func TestEmit_RecordsInOrder(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer()
	_, err := s.Begin(ctx, "s1", "x", nil)
	require.NoError(t, err)

	for _, ev := range []Event{EventCapsuleCompiled, EventInferenceStarted, EventInferenceCompleted} {
		_, err := s.Emit(ctx, "s1", string(ev))
		require.NoError(t, err)
	}
	cur := s.Context("s1")
	require.Len(t, cur.Events, 3)
	assert.Equal(t, EventInferenceStarted, cur.Events[1].Name)
	assert.Equal(t, StatusActive, cur.Status)
	assert.Nil(t, cur.EndedAt)
}

func TestEmit_WithoutTurn(t *testing.T) {
	s := NewSequencer()
	_, err := s.Emit(context.Background(), "s1", string(EventTurnCompleted))
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestFail(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer()

	_, err := s.Fail(ctx, "s1", "nothing running")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = s.Begin(ctx, "s1", "x", nil)
	require.NoError(t, err)
	failed, err := s.Fail(ctx, "s1", "llm1 unavailable")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "llm1 unavailable", failed.Error)
	assert.NotNil(t, failed.EndedAt)

	_, err = s.Fail(ctx, "s1", "twice")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "fail is only valid from active")
}

func TestContext_NilBeforeBegin(t *testing.T) {
	s := NewSequencer()
	assert.Nil(t, s.Context("s1"))
	assert.Equal(t, StatusIdle, s.State("s1"))
	_, ok := s.Active("s1")
	assert.False(t, ok)
}

func TestContext_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewSequencer()
	_, err := s.Begin(ctx, "s1", "x", []string{"a"})
	require.NoError(t, err)

	cur := s.Context("s1")
	cur.ExtensionChain[0] = "mutated"
	cur.Status = StatusFailed

	again := s.Context("s1")
	assert.Equal(t, "a", again.ExtensionChain[0])
	assert.Equal(t, StatusActive, again.Status)
}

func TestJournal_MirrorsTransitions(t *testing.T) {
	ctx := context.Background()
	j := &recordingJournal{}
	s := NewSequencer(WithJournal(j))

	_, err := s.Begin(ctx, "s1", "x", nil)
	require.NoError(t, err)
	_, err = s.Emit(ctx, "s1", string(EventStreamStarted))
	require.NoError(t, err)
	_, err = s.Emit(ctx, "s1", string(EventTurnCompleted))
	require.NoError(t, err)

	assert.Len(t, j.started, 1)
	assert.Len(t, j.events, 2)
	require.Len(t, j.ended, 1)
	assert.Equal(t, StatusCompleted, j.ended[0].Status)
}

func TestJournal_FailuresAreLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	j := &recordingJournal{err: stderrors.New("database is locked")}
	s := NewSequencer(WithJournal(j), WithLogger(zap.New(core)))

	_, err := s.Begin(context.Background(), "s1", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("turn journal write failed").Len())
}
