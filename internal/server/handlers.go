package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/logging"
	"github.com/hpungsan/strata/internal/ops"
	"github.com/hpungsan/strata/internal/relay"
)

type errorBody struct {
	Error errors.Payload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := errors.ToPayload(err)
	if p.Status >= 500 {
		logging.For(r.Context(), h.logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(p.Code)),
			zap.Error(err))
	}
	writeJSON(w, p.Status, errorBody{Error: p})
}

// decode reads a JSON body into v. An empty body leaves v unchanged.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return errors.NewInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func parseIntParam(r *http.Request, name string, def int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// splitList parses a repeated or comma-separated query parameter.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

// HandleCreateSession handles POST /api/sessions.
func (h *Handlers) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// HandleListSessions handles GET /api/sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListSessions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCurrentSession handles GET /api/sessions/current.
func (h *Handlers) HandleCurrentSession(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.CurrentSession(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleUseSession handles PUT /api/sessions/current.
func (h *Handlers) HandleUseSession(w http.ResponseWriter, r *http.Request) {
	var in ops.SessionOutput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.UseSession(r.Context(), in.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleBeginTurn handles POST /api/turns.
func (h *Handlers) HandleBeginTurn(w http.ResponseWriter, r *http.Request) {
	var in ops.BeginTurnInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.BeginTurn(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// HandleListTurns handles GET /api/turns.
func (h *Handlers) HandleListTurns(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.ListTurns(r.Context(), ops.ListTurnsInput{
		SessionID: r.URL.Query().Get("session_id"),
		Limit:     parseIntParam(r, "limit", ops.DefaultListLimit),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleTurnContext handles GET /api/turns/current.
func (h *Handlers) HandleTurnContext(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.TurnContext(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleGetTurn handles GET /api/turns/{id}.
func (h *Handlers) HandleGetTurn(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetTurn(r.Context(), ops.GetTurnInput{TurnID: chi.URLParam(r, "id")})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleEmitTurn handles POST /api/turns/events.
func (h *Handlers) HandleEmitTurn(w http.ResponseWriter, r *http.Request) {
	var in ops.EmitTurnInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.EmitTurn(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleFailTurn handles POST /api/turns/fail.
func (h *Handlers) HandleFailTurn(w http.ResponseWriter, r *http.Request) {
	var in ops.FailTurnInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.FailTurn(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleProcess handles POST /api/llm/process.
func (h *Handlers) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var in ops.ProcessInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.Process(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleStreamSSE handles POST /api/llm/stream. A failure before the first
// frame is an ordinary JSON error response; later failures arrive as the
// final frame.
func (h *Handlers) HandleStreamSSE(w http.ResponseWriter, r *http.Request) {
	var in ops.StreamInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	sink, err := relay.NewSSESink(w)
	if err != nil {
		h.writeError(w, r, errors.NewInternal(err))
		return
	}

	events, err := h.svc.Stream(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := relay.Relay(r.Context(), events, sink); err != nil {
		if !sink.Started() {
			h.writeError(w, r, err)
			return
		}
		logging.For(r.Context(), h.logger).Debug("sse relay ended", zap.Error(err))
	}
}

// HandleStreamWS handles GET /api/llm/stream/ws. Parameters come from the
// query string (llm_id, surfaces, user_input, session_id) so a failure to
// start is still an ordinary HTTP error.
func (h *Handlers) HandleStreamWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := ops.StreamInput{
		SessionID: q.Get("session_id"),
		LLMID:     q.Get("llm_id"),
		Surfaces:  splitList(q["surfaces"]),
		UserInput: q.Get("user_input"),
	}

	events, err := h.svc.Stream(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the request.
		logging.For(r.Context(), h.logger).Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sink := relay.NewWebSocketSink(conn)
	if err := relay.Relay(r.Context(), events, sink); err != nil {
		// The upgrade is a transmission; report the failure in-band.
		_ = sink.Send(r.Context(), relay.ErrorPayload(err))
		_ = sink.Close()
	}
}

// HandleGetSurface handles GET /api/surfaces/{kind}.
func (h *Handlers) HandleGetSurface(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetSurface(r.Context(), ops.GetSurfaceInput{
		SessionID: r.URL.Query().Get("session_id"),
		Surface:   chi.URLParam(r, "kind"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleUpdateSurface handles PUT /api/surfaces/{kind}.
func (h *Handlers) HandleUpdateSurface(w http.ResponseWriter, r *http.Request) {
	var in ops.UpdateSurfaceInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	in.Surface = chi.URLParam(r, "kind")
	out, err := h.svc.UpdateSurface(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleCompile handles POST /api/capsules/compile.
func (h *Handlers) HandleCompile(w http.ResponseWriter, r *http.Request) {
	var in ops.CompileInput
	if err := decode(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.svc.CompileCapsule(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
