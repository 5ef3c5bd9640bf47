// Package fixture provides a minimal MCP server used by ACP conformance
// tests to exercise add_extension/list_tools/tool dispatch end to end: a
// single get_code tool returning a fixed value a test can assert on
// without depending on any real external service.
package fixture

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Code is the fixed value get_code returns.
const Code = "test-uuid-12345-67890"

// NewServer creates a new MCP server exposing get_code.
func NewServer() *server.MCPServer {
	s := server.NewMCPServer("mcp-fixture", "1.0.0", server.WithToolCapabilities(true))

	getCode := mcp.NewTool("get_code",
		mcp.WithDescription("Returns a fixed test code, used to verify this extension's tools are reachable"),
	)
	s.AddTool(getCode, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(Code), nil
	})

	return s
}
