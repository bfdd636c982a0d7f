package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/inference"
)

type recordingSink struct {
	frames []string
	closed bool
}

func (s *recordingSink) Send(_ context.Context, payload []byte) error {
	s.frames = append(s.frames, string(payload))
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func feed(events ...inference.StreamEvent) <-chan inference.StreamEvent {
	ch := make(chan inference.StreamEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func token(s string) inference.StreamEvent {
	return inference.StreamEvent{Type: inference.EventToken, Text: s}
}

func TestRelay_ForwardsInOrderAndCloses(t *testing.T) {
	sink := &recordingSink{}
	err := Relay(context.Background(), feed(
		token("a"), token("b"), token("c"),
		inference.StreamEvent{Type: inference.EventDone, TokensUsed: 9},
	), sink)
	require.NoError(t, err)

	require.Len(t, sink.frames, 4)
	assert.JSONEq(t, `{"type":"token","text":"a"}`, sink.frames[0])
	assert.JSONEq(t, `{"type":"token","text":"c"}`, sink.frames[2])
	assert.JSONEq(t, `{"type":"done","tokens_used":9}`, sink.frames[3])
	assert.True(t, sink.closed)
}

func TestRelay_ErrorAfterTransmissionIsFinalFrame(t *testing.T) {
	sink := &recordingSink{}
	err := Relay(context.Background(), feed(
		token("partial"),
		inference.StreamEvent{Type: inference.EventError, Err: errors.NewStreamIdleTimeout(time.Second, 1)},
	), sink)
	require.NoError(t, err, "a started stream reports failure in-band")

	require.Len(t, sink.frames, 2)
	assert.Contains(t, sink.frames[1], `"STREAM_IDLE_TIMEOUT"`)
	assert.True(t, sink.closed)
}

func TestRelay_ErrorBeforeTransmissionIsReturned(t *testing.T) {
	sink := &recordingSink{}
	err := Relay(context.Background(), feed(
		inference.StreamEvent{Type: inference.EventError, Err: errors.NewStreamConnectTimeout(time.Second)},
	), sink)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStreamConnectTimeout))
	assert.Empty(t, sink.frames)
	assert.False(t, sink.closed)
}

func TestRelay_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Relay(ctx, make(chan inference.StreamEvent), &recordingSink{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSSESink_FramesAndLazyHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSSESink(rec)
	require.NoError(t, err)
	assert.False(t, sink.Started())

	err = Relay(context.Background(), feed(token("hi"), inference.StreamEvent{Type: inference.EventDone}), sink)
	require.NoError(t, err)

	assert.True(t, sink.Started())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: {\"type\":\"token\",\"text\":\"hi\"}\n\ndata: {\"type\":\"done\"}\n\n", rec.Body.String())
}

func TestSSESink_UntouchedOnEarlyError(t *testing.T) {
	rec := httptest.NewRecorder()
	sink, err := NewSSESink(rec)
	require.NoError(t, err)

	err = Relay(context.Background(), feed(
		inference.StreamEvent{Type: inference.EventError, Err: errors.NewInferenceUnavailable(context.DeadlineExceeded)},
	), sink)
	require.Error(t, err)

	assert.False(t, sink.Started())
	assert.Empty(t, rec.Header().Get("Content-Type"))
	assert.Zero(t, rec.Body.Len())
}

func TestWebSocketSink(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = Relay(r.Context(), feed(token("x"), inference.StreamEvent{Type: inference.EventDone}), NewWebSocketSink(conn))
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, first, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"token","text":"x"}`, string(first))

	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"done"}`, string(second))

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestErrorPayload(t *testing.T) {
	assert.JSONEq(t,
		`{"type":"error","error":{"code":"STORAGE_ERROR","message":"write trace: disk full","status":500}}`,
		string(ErrorPayload(errors.NewStorage("write trace", assertErr("disk full")))))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
