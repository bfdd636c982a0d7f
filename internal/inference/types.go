// Package inference talks to an Ollama-compatible chat backend: retried
// non-streaming calls, windowed streaming calls, and a health probe.
package inference

import (
	"encoding/json"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/hpungsan/strata/internal/errors"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat request for one pipeline stage.
type Request struct {
	Model    string         `json:"model,omitempty"`
	System   string         `json:"system,omitempty"`
	Messages []Message      `json:"messages"`
	Options  map[string]any `json:"options,omitempty"`
	// Format asks the backend for structured output ("json").
	Format string `json:"format,omitempty"`
}

func (r Request) validate() error {
	if len(r.Messages) == 0 && strings.TrimSpace(r.System) == "" {
		return errors.NewInvalidRequest("request has no messages")
	}
	return nil
}

// Result is the outcome of a non-streaming call.
type Result struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	Attempts   int    `json:"attempts"`
	Model      string `json:"model,omitempty"`
}

// EventType tags a StreamEvent.
type EventType string

const (
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one item produced by a stream. A stream ends with exactly
// one Done or Error event before its channel closes, unless the consumer
// cancelled first.
type StreamEvent struct {
	Type       EventType
	Text       string
	TokensUsed int
	Err        *errors.StrataError
}

// Terminal reports whether the event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

type wireError struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Status  int              `json:"status"`
}

type wireEvent struct {
	Type       EventType  `json:"type"`
	Text       string     `json:"text,omitempty"`
	TokensUsed int        `json:"tokens_used,omitempty"`
	Error      *wireError `json:"error,omitempty"`
}

// MarshalJSON encodes the event as a relay frame payload.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	w := wireEvent{Type: e.Type, Text: e.Text, TokensUsed: e.TokensUsed}
	if e.Err != nil {
		w.Error = &wireError{Code: e.Err.Code, Message: e.Err.Message, Status: e.Err.Status}
	}
	return json.Marshal(w)
}

func (c *Client) chatRequest(r Request, stream bool) *api.ChatRequest {
	model := r.Model
	if model == "" {
		model = c.cfg.Model
	}

	messages := make([]api.Message, 0, len(r.Messages)+1)
	if r.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: r.System})
	}
	for _, m := range r.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	req := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options:  r.Options,
	}
	if r.Format != "" {
		req.Format = json.RawMessage(`"` + r.Format + `"`)
	}
	return req
}

// streamChunk is one NDJSON line of a chat stream.
type streamChunk struct {
	api.ChatResponse
	Error string `json:"error,omitempty"`
}
