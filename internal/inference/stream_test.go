package inference

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/strata/internal/errors"
)

const (
	testConnect = 150 * time.Millisecond
	testIdle    = 150 * time.Millisecond
)

func streamConfig() Config {
	return Config{ConnectTimeout: testConnect, IdleTimeout: testIdle}
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	w.(http.Flusher).Flush()
}

func writeLine(w http.ResponseWriter, line string) {
	fmt.Fprintln(w, line)
	w.(http.Flusher).Flush()
}

func tokenLine(text string) string {
	return fmt.Sprintf(`{"message":{"role":"assistant","content":%q},"done":false}`, text)
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatal("stream did not finish")
			return out
		}
	}
}

func TestStream_TokensThenDone(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeLine(w, tokenLine("Hel"))
		writeLine(w, tokenLine("lo"))
		writeLine(w, `{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":4,"eval_count":2}`)
	}))
	defer srv.Close()

	transport := &http.Transport{}
	defer transport.CloseIdleConnections()

	cfg := streamConfig()
	cfg.BaseURL = srv.URL
	c, err := NewClient(cfg, WithHTTPClient(&http.Client{Transport: transport}))
	require.NoError(t, err)

	events, err := c.Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, "Hel", got[0].Text)
	assert.Equal(t, "lo", got[1].Text)
	assert.Equal(t, EventDone, got[2].Type)
	assert.Equal(t, 6, got[2].TokensUsed)
}

func TestStream_SkipsMalformedLines(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeLine(w, "not json")
		writeLine(w, tokenLine("a"))
		writeLine(w, `{broken`)
		writeLine(w, `{"message":{"role":"assistant","content":"b"},"done":true}`)
	}), streamConfig())

	events, err := c.Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, "b", got[1].Text)
	assert.Equal(t, EventDone, got[2].Type)
}

func TestStream_ConnectTimeoutBeforeHeaders(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}), streamConfig())
	defer close(release)

	start := time.Now()
	_, err := c.Stream(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStreamConnectTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestStream_HeadersButNoDataIsConnectTimeout(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}), streamConfig())
	defer close(release)

	events, err := c.Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.Equal(t, errors.ErrStreamConnectTimeout, got[0].Err.Code)
}

func TestStream_IdleTimeoutAfterChunks(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeLine(w, tokenLine("partial"))
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}), streamConfig())
	defer close(release)

	events, err := c.Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, "partial", got[0].Text)
	require.Equal(t, EventError, got[1].Type)
	assert.Equal(t, errors.ErrStreamIdleTimeout, got[1].Err.Code)
	assert.Equal(t, 1, got[1].Err.Details["chunks"])
}

func TestStream_SlowButSteadyChunksDoNotTimeOut(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		for i := 0; i < 4; i++ {
			time.Sleep(testIdle / 2)
			writeLine(w, tokenLine("x"))
		}
		writeLine(w, `{"done":true}`)
	}), streamConfig())

	events, err := c.Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 5)
	assert.Equal(t, EventDone, got[4].Type)
}

func TestStream_BackendErrorLine(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeLine(w, `{"error":"model crashed"}`)
	}), streamConfig())

	events, err := c.Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 1)
	assert.Equal(t, errors.ErrStreamFailed, got[0].Err.Code)
	assert.Contains(t, got[0].Err.Message, "model crashed")
}

func TestStream_EOFWithoutDone(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		writeLine(w, tokenLine("cut"))
	}), streamConfig())

	events, err := c.Stream(context.Background(), userRequest("hi"))
	require.NoError(t, err)

	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, errors.ErrStreamFailed, got[1].Err.Code)
}

func TestStream_NonSuccessStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "model not found")
	}), streamConfig())

	_, err := c.Stream(context.Background(), userRequest("hi"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInferenceUnavailable))
	assert.Contains(t, err.Error(), "model not found")
}

func TestStream_ConsumerCancelStopsProducer(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startStream(w)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-release:
				return
			case <-time.After(10 * time.Millisecond):
				writeLine(w, tokenLine("tick"))
			}
		}
	}))
	defer srv.Close()
	defer close(release)

	transport := &http.Transport{}
	defer transport.CloseIdleConnections()

	cfg := streamConfig()
	cfg.BaseURL = srv.URL
	c, err := NewClient(cfg, WithHTTPClient(&http.Client{Transport: transport}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	events, err := c.Stream(ctx, userRequest("hi"))
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, "tick", first.Text)
	cancel()

	// Drain until the producer closes the channel.
	collect(t, events)
}
