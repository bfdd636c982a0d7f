package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/inference"
	"github.com/hpungsan/strata/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc    *ops.Service
	logger *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *ops.Service, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{svc: svc, logger: logger}
}

// SessionRequest addresses a session.
type SessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// StreamOutput is the collected reply of a streamed stage.
type StreamOutput struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
}

// HandleSessionCreate handles the session_create tool call.
func (h *Handlers) HandleSessionCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(h.svc.CreateSession(ctx))
}

// HandleSessionCurrent handles the session_current tool call.
func (h *Handlers) HandleSessionCurrent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(h.svc.CurrentSession(ctx))
}

// HandleSessionUse handles the session_use tool call.
func (h *Handlers) HandleSessionUse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	if input.SessionID == "" {
		return errorResult(errors.NewInvalidRequest("session_id is required")), nil
	}
	return respond(h.svc.UseSession(ctx, input.SessionID))
}

// HandleSessionList handles the session_list tool call.
func (h *Handlers) HandleSessionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return respond(h.svc.ListSessions(ctx))
}

// HandleTurnBegin handles the turn_begin tool call.
func (h *Handlers) HandleTurnBegin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.BeginTurnInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.BeginTurn(ctx, input))
}

// HandleTurnEmit handles the turn_emit tool call.
func (h *Handlers) HandleTurnEmit(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.EmitTurnInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.EmitTurn(ctx, input))
}

// HandleTurnFail handles the turn_fail tool call.
func (h *Handlers) HandleTurnFail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.FailTurnInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.FailTurn(ctx, input))
}

// HandleTurnContext handles the turn_context tool call.
func (h *Handlers) HandleTurnContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionRequest](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.TurnContext(ctx, input.SessionID))
}

// HandleTurnGet handles the turn_get tool call.
func (h *Handlers) HandleTurnGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.GetTurnInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.GetTurn(ctx, input))
}

// HandleTurnList handles the turn_list tool call.
func (h *Handlers) HandleTurnList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ListTurnsInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.ListTurns(ctx, input))
}

// HandleProcess handles the llm_process tool call.
func (h *Handlers) HandleProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.ProcessInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.Process(ctx, input))
}

// HandleStream handles the llm_stream tool call. MCP has no incremental
// result, so the reply is collected and returned once the stream ends.
func (h *Handlers) HandleStream(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.StreamInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	events, err := h.svc.Stream(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}

	var text strings.Builder
	for ev := range events {
		switch ev.Type {
		case inference.EventToken:
			text.WriteString(ev.Text)
		case inference.EventDone:
			return successResult(StreamOutput{Text: text.String(), TokensUsed: ev.TokensUsed})
		case inference.EventError:
			if ev.Err == nil {
				return errorResult(errors.NewStreamFailed(nil)), nil
			}
			return errorResult(ev.Err), nil
		}
	}
	// Closed without a terminal event: ctx ended first.
	return errorResult(errors.NewStreamFailed(context.Cause(ctx))), nil
}

// HandleSurfaceGet handles the surface_get tool call.
func (h *Handlers) HandleSurfaceGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.GetSurfaceInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.GetSurface(ctx, input))
}

// HandleSurfaceUpdate handles the surface_update tool call.
func (h *Handlers) HandleSurfaceUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.UpdateSurfaceInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.UpdateSurface(ctx, input))
}

// HandleCapsuleCompile handles the capsule_compile tool call.
func (h *Handlers) HandleCapsuleCompile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ops.CompileInput](req)
	if err != nil {
		return errorResult(err), nil
	}
	return respond(h.svc.CompileCapsule(ctx, input))
}

// respond turns an operation result into a tool result. Operation errors
// become error results, never protocol errors.
func respond[T any](out T, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// errorResult creates an MCP error result with the error payload as text.
// INTERNAL errors omit details so causes stay out of client output.
func errorResult(err error) *mcp.CallToolResult {
	content, _ := json.Marshal(map[string]any{"error": errors.ToPayload(err)})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
