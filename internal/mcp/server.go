// Package mcp exposes operations as MCP tools over stdio.
package mcp

import (
	"context"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/strata/internal/config"
	"github.com/hpungsan/strata/internal/ops"
)

// KnownGroups lists the tool name prefixes.
var KnownGroups = []string{"session", "turn", "llm", "surface", "capsule"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"session_create": {
		def:     sessionCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionCreate },
	},
	"session_current": {
		def:     sessionCurrentToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionCurrent },
	},
	"session_use": {
		def:     sessionUseToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionUse },
	},
	"session_list": {
		def:     sessionListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSessionList },
	},
	"turn_begin": {
		def:     turnBeginToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTurnBegin },
	},
	"turn_emit": {
		def:     turnEmitToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTurnEmit },
	},
	"turn_fail": {
		def:     turnFailToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTurnFail },
	},
	"turn_context": {
		def:     turnContextToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTurnContext },
	},
	"turn_list": {
		def:     turnListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTurnList },
	},
	"turn_get": {
		def:     turnGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTurnGet },
	},
	"llm_process": {
		def:     llmProcessToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleProcess },
	},
	"llm_stream": {
		def:     llmStreamToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStream },
	},
	"surface_get": {
		def:     surfaceGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSurfaceGet },
	},
	"surface_update": {
		def:     surfaceUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSurfaceUpdate },
	},
	"capsule_compile": {
		def:     capsuleCompileToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCapsuleCompile },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok && !isGroup(name) {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func isGroup(name string) bool {
	for _, g := range KnownGroups {
		if name == g {
			return true
		}
	}
	return false
}

// GetGroupForTool extracts the group name from a tool name.
// Tool names follow the pattern "group_action" (e.g., "turn_begin" → "turn").
func GetGroupForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// disabledSet expands names into tool names. A group name disables every
// tool in the group.
func disabledSet(names []string) map[string]bool {
	disabled := make(map[string]bool)
	for _, name := range names {
		if isGroup(name) {
			for tool := range toolRegistry {
				if GetGroupForTool(tool) == name {
					disabled[tool] = true
				}
			}
			continue
		}
		disabled[name] = true
	}
	return disabled
}

// NewServer creates an MCP server with tools registered. Tools listed in
// cfg.DisabledTools, or belonging to a group listed there, are skipped.
func NewServer(svc *ops.Service, cfg config.MCPConfig, version string, logger *zap.Logger) *server.MCPServer {
	s := server.NewMCPServer(
		"strata",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	h := NewHandlers(svc, logger)
	disabled := disabledSet(cfg.DisabledTools)

	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run serves MCP over stdio until the client disconnects or ctx ends.
func Run(ctx context.Context, svc *ops.Service, cfg config.MCPConfig, version string, logger *zap.Logger) error {
	s := NewServer(svc, cfg, version, logger)
	stdio := server.NewStdioServer(s)
	if logger != nil {
		stdio.SetErrorLogger(zap.NewStdLog(logger))
	}
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
