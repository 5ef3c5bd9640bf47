// Package builtin implements the two in-process MCP extensions every
// session gets for free, without an explicit add_extension call: the
// "builtin" filesystem/shell/search toolset (internal/tool's Registry,
// bridged the way pkg/mcpserver/calculator bridges its own in-process
// server) and the "task" platform extension driving subagent recursion
// through internal/agent.Loop.Spawn.
package builtin

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentcore-run/acpcore/internal/tool"
)

// NewFilesystemServer wraps every tool in reg as an MCP tool on a fresh
// in-process server, one per session since toolCtx carries the session id.
func NewFilesystemServer(reg *tool.Registry, sessionID string) *server.MCPServer {
	s := server.NewMCPServer("builtin", "1.0.0", server.WithToolCapabilities(true))
	for _, t := range reg.List() {
		registerTool(s, t, sessionID)
	}
	return s
}

func registerTool(s *server.MCPServer, t tool.Tool, sessionID string) {
	opts := append([]mcp.ToolOption{mcp.WithDescription(t.Description())}, schemaToOptions(t.Parameters())...)
	mcpTool := mcp.NewTool(t.ID(), opts...)
	s.AddTool(mcpTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		toolCtx := &tool.Context{SessionID: sessionID, AbortCh: make(chan struct{})}
		result, err := t.Execute(ctx, args, toolCtx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if result.Error != nil {
			return mcp.NewToolResultError(result.Error.Error()), nil
		}
		return mcp.NewToolResultText(result.Output), nil
	})
}

// schemaProperty mirrors the subset of JSON Schema internal/tool's
// Parameters() implementations actually emit: string/integer/number/
// boolean/array, arrays always carrying a flat "items" schema.
type schemaProperty struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Items       map[string]any `json:"items"`
}

// schemaToOptions converts a tool's raw JSON Schema into mcp.ToolOptions.
// Only the property shapes internal/tool actually produces are handled;
// an unrecognized type falls back to a free-form string parameter rather
// than failing registration.
func schemaToOptions(raw json.RawMessage) []mcp.ToolOption {
	var doc struct {
		Properties map[string]schemaProperty `json:"properties"`
		Required   []string                  `json:"required"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	required := make(map[string]bool, len(doc.Required))
	for _, name := range doc.Required {
		required[name] = true
	}

	opts := make([]mcp.ToolOption, 0, len(doc.Properties))
	for name, prop := range doc.Properties {
		propOpts := []mcp.PropertyOption{mcp.Description(prop.Description)}
		if required[name] {
			propOpts = append(propOpts, mcp.Required())
		}
		switch prop.Type {
		case "integer", "number":
			opts = append(opts, mcp.WithNumber(name, propOpts...))
		case "boolean":
			opts = append(opts, mcp.WithBoolean(name, propOpts...))
		case "array":
			items := prop.Items
			if items == nil {
				items = map[string]any{"type": "string"}
			}
			arrOpts := append(propOpts, mcp.Items(items))
			opts = append(opts, mcp.WithArray(name, arrOpts...))
		default:
			opts = append(opts, mcp.WithString(name, propOpts...))
		}
	}
	return opts
}
