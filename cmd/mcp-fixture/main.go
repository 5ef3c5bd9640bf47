// Command mcp-fixture runs the fixture MCP server over stdio. This is
// used for testing the MCP client integration; the same server runs
// in-process in internal/agent's scenario tests via pkg/mcpserver/fixture.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"
	"github.com/agentcore-run/acpcore/pkg/mcpserver/fixture"
)

func main() {
	s := fixture.NewServer()
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
