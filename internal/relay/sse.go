package relay

import (
	"context"
	"fmt"
	"net/http"
)

// SSESink writes Server-Sent Events frames ("data: {json}\n\n"). Headers are
// written with the first frame, so a response that never sent a frame can
// still carry an ordinary error status.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

// NewSSESink wraps w. It fails if w cannot flush.
func NewSSESink(w http.ResponseWriter) (*SSESink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &SSESink{w: w, flusher: flusher}, nil
}

// Started reports whether any frame was written.
func (s *SSESink) Started() bool {
	return s.started
}

// Send writes one frame and flushes it.
func (s *SSESink) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close is a no-op; the response ends when the handler returns.
func (s *SSESink) Close() error {
	return nil
}
