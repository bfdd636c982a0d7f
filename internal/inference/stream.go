package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/errors"
)

const maxStreamLine = 1 << 20

var (
	errConnectWindow = stderrors.New("connect window elapsed")
	errIdleWindow    = stderrors.New("idle window elapsed")
)

// Stream starts a streaming chat request. It is never retried.
//
// One cancellation signal covers the request: the connect window runs until
// response headers arrive, then the idle window restarts on every line read.
// Failures before headers are returned directly; later failures arrive as the
// final Error event. Cancelling ctx stops the producer.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	chatReq := c.chatRequest(req, true)
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, errors.NewInternal(fmt.Errorf("encode chat request: %w", err))
	}

	sctx, cancel := context.WithCancelCause(ctx)
	connectTimer := time.AfterFunc(c.cfg.ConnectTimeout, func() { cancel(errConnectWindow) })

	httpReq, err := http.NewRequestWithContext(sctx, http.MethodPost, c.base.JoinPath("api", "chat").String(), bytes.NewReader(body))
	if err != nil {
		connectTimer.Stop()
		cancel(nil)
		return nil, errors.NewInternal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.http.Do(httpReq)
	// Headers are in (or the request failed); the connect window is over.
	connectTimer.Stop()
	if err != nil {
		cause := context.Cause(sctx)
		cancel(nil)
		if stderrors.Is(cause, errConnectWindow) {
			recordStream("connect_timeout")
			return nil, errors.NewStreamConnectTimeout(c.cfg.ConnectTimeout)
		}
		recordStream("unavailable")
		return nil, errors.NewInferenceUnavailable(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel(nil)
		recordStream("unavailable")
		return nil, errors.NewInferenceUnavailable(fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
	}

	c.logger.Debug("inference stream started", zap.String("model", chatReq.Model))

	events := make(chan StreamEvent)
	go c.produce(ctx, sctx, cancel, resp.Body, events)
	return events, nil
}

// produce reads NDJSON lines from body and forwards them to out. consumer is
// the caller's context; signal is the windowed request context.
func (c *Client) produce(consumer, signal context.Context, cancel context.CancelCauseFunc, body io.ReadCloser, out chan<- StreamEvent) {
	defer close(out)
	defer cancel(nil)
	defer body.Close()

	idle := time.AfterFunc(c.cfg.IdleTimeout, func() { cancel(errIdleWindow) })
	defer idle.Stop()

	// The idle window measures the backend, not the consumer, so it is paused
	// while a send blocks.
	send := func(ev StreamEvent) bool {
		idle.Stop()
		defer idle.Reset(c.cfg.IdleTimeout)
		select {
		case out <- ev:
			return true
		case <-consumer.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)

	chunks := 0
	for scanner.Scan() {
		idle.Reset(c.cfg.IdleTimeout)

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		chunks++

		var chunk streamChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			MalformedLinesTotal.Inc()
			c.logger.Debug("skipping malformed stream line", zap.Int("chunk", chunks), zap.Error(err))
			continue
		}
		if chunk.Error != "" {
			recordStream("failed")
			send(StreamEvent{Type: EventError, Err: errors.NewStreamFailed(stderrors.New(chunk.Error))})
			return
		}
		if chunk.Message.Content != "" {
			if !send(StreamEvent{Type: EventToken, Text: chunk.Message.Content}) {
				recordStream("canceled")
				return
			}
		}
		if chunk.Done {
			recordStream("completed")
			send(StreamEvent{Type: EventDone, TokensUsed: chunk.PromptEvalCount + chunk.EvalCount})
			return
		}
	}

	if consumer.Err() != nil {
		recordStream("canceled")
		return
	}

	terminal := c.classify(signal, scanner.Err(), chunks)
	c.logger.Warn("inference stream ended with error",
		zap.Int("chunks", chunks),
		zap.String("code", string(terminal.Code)),
		zap.Error(terminal))
	send(StreamEvent{Type: EventError, Err: terminal})
}

// classify maps a stream that ended without a done record to its error.
// Either window firing counts as a connect timeout when nothing was read.
func (c *Client) classify(signal context.Context, readErr error, chunks int) *errors.StrataError {
	cause := context.Cause(signal)
	windowed := stderrors.Is(cause, errConnectWindow) || stderrors.Is(cause, errIdleWindow)

	switch {
	case windowed && chunks == 0:
		recordStream("connect_timeout")
		return errors.NewStreamConnectTimeout(c.cfg.ConnectTimeout)
	case windowed:
		recordStream("idle_timeout")
		return errors.NewStreamIdleTimeout(c.cfg.IdleTimeout, chunks)
	case readErr != nil:
		recordStream("failed")
		return errors.NewStreamFailed(readErr)
	}
	recordStream("failed")
	return errors.NewStreamFailed(io.ErrUnexpectedEOF)
}
