package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/strata/internal/errors"
)

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeClock) recorded() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

func newTestClient(t *testing.T, h http.Handler, cfg Config) (*Client, *fakeClock) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	if cfg.Model == "" {
		cfg.Model = "test-model"
	}
	clock := &fakeClock{}
	c, err := NewClient(cfg, WithClock(clock), WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return c, clock
}

func userRequest(text string) Request {
	return Request{Messages: []Message{{Role: "user", Content: text}}}
}

func writeChat(w http.ResponseWriter, content string, promptTokens, evalTokens int) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"model":"test-model","message":{"role":"assistant","content":%q},"done":true,"prompt_eval_count":%d,"eval_count":%d}`+"\n",
		content, promptTokens, evalTokens)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`+"\n", msg)
}

func TestCall_SucceedsFirstAttempt(t *testing.T) {
	var gotReq map[string]any
	c, clock := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeChat(w, "hello there", 5, 7)
	}), Config{})

	req := userRequest("hi")
	req.System = "be brief"
	res, err := c.Call(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "hello there", res.Text)
	assert.Equal(t, 12, res.TokensUsed)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, []time.Duration{0}, clock.recorded())

	assert.Equal(t, "test-model", gotReq["model"])
	assert.Equal(t, false, gotReq["stream"])
	msgs, ok := gotReq["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestCall_RetriesOnFixedSchedule(t *testing.T) {
	var hits atomic.Int32
	c, clock := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			writeError(w, http.StatusServiceUnavailable, "loading model")
			return
		}
		writeChat(w, "ok", 1, 1)
	}), Config{})

	res, err := c.Call(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{0, time.Second, 3 * time.Second}, clock.recorded())
}

func TestCall_ExhaustedRetriesAreUnavailable(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("boom %d", hits.Load()))
	}), Config{})

	_, err := c.Call(context.Background(), userRequest("hi"))
	require.Error(t, err)

	assert.True(t, errors.Is(err, errors.ErrInferenceUnavailable), "got %v", err)
	assert.Contains(t, err.Error(), "boom 3", "message carries the last underlying error")
	assert.Equal(t, int32(3), hits.Load())
}

func TestCall_ExhaustedRetriesAfterTimeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}), Config{RequestTimeout: 50 * time.Millisecond})
	defer close(release)

	_, err := c.Call(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInferenceTimeout), "got %v", err)
}

func TestCall_EmptyBodyIsRetried(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeChat(w, "second", 0, 0)
	}), Config{})

	res, err := c.Call(context.Background(), userRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "second", res.Text)
	assert.Equal(t, 2, res.Attempts)
}

func TestCall_RejectsEmptyRequest(t *testing.T) {
	c, _ := newTestClient(t, http.NotFoundHandler(), Config{})
	_, err := c.Call(context.Background(), Request{})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestRetry_StopsWhenParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, attempts, err := retry(ctx, DefaultPolicy, &fakeClock{}, nil, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, fmt.Errorf("refused")
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, attempts)
	assert.True(t, errors.Is(err, errors.ErrInferenceUnavailable))
}

func TestPolicy_DelayRepeatsLastEntry(t *testing.T) {
	p := Policy{Delays: []time.Duration{0, time.Second}}
	assert.Equal(t, time.Duration(0), p.delay(0))
	assert.Equal(t, time.Second, p.delay(1))
	assert.Equal(t, time.Second, p.delay(5))
	assert.Equal(t, time.Duration(0), Policy{}.delay(2))
}

func TestHealth(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), Config{})
	assert.True(t, c.Health(context.Background()))

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	down, err := NewClient(Config{BaseURL: url, HealthTimeout: 200 * time.Millisecond})
	require.NoError(t, err)
	assert.False(t, down.Health(context.Background()))
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestStreamEvent_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(StreamEvent{Type: EventToken, Text: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"token","text":"hi"}`, string(b))

	b, err = json.Marshal(StreamEvent{Type: EventError, Err: errors.NewStreamIdleTimeout(time.Second, 2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":{"code":"STREAM_IDLE_TIMEOUT","message":"stream stalled for 1s after 2 chunks","status":504}}`, string(b))
}
