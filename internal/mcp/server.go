package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/caliber-ai/caliber/internal/ops"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"trajectory_create": {
		def:     trajectoryCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTrajectoryCreate },
	},
	"trajectory_get": {
		def:     trajectoryGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTrajectoryGet },
	},
	"trajectory_list": {
		def:     trajectoryListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTrajectoryList },
	},
	"trajectory_delete": {
		def:     trajectoryDeleteToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTrajectoryDelete },
	},
	"scope_create": {
		def:     scopeCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleScopeCreate },
	},
	"scope_get": {
		def:     scopeGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleScopeGet },
	},
	"scope_close": {
		def:     scopeCloseToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleScopeClose },
	},
	"turn_append": {
		def:     turnAppendToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTurnAppend },
	},
	"context_assemble": {
		def:     contextAssembleToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleContextAssemble },
	},
	"scope_validate": {
		def:     scopeValidateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleScopeValidate },
	},
	"scope_commit": {
		def:     scopeCommitToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleScopeCommit },
	},
	"scope_rollback": {
		def:     scopeRollbackToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleScopeRollback },
	},
	"checkpoint_list": {
		def:     checkpointListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCheckpointList },
	},
	"note_create": {
		def:     noteCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteCreate },
	},
	"note_search": {
		def:     noteSearchToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleNoteSearch },
	},
	"artifact_create": {
		def:     artifactCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArtifactCreate },
	},
	"artifact_get": {
		def:     artifactGetToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArtifactGet },
	},
	"delegation_create": {
		def:     delegationCreateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelegationCreate },
	},
	"delegation_advance": {
		def:     delegationAdvanceToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelegationAdvance },
	},
	"delegation_list": {
		def:     delegationListToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleDelegationList },
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
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with caliber tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(env *ops.Env, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"caliber",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(env)

	disabled := make(map[string]bool)
	for _, name := range env.Config.DisabledTools {
		disabled[name] = true
	}
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(env *ops.Env, version string) error {
	return server.ServeStdio(NewServer(env, version))
}

// ToolHandlerFunc is the signature for tool handlers.
type ToolHandlerFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
