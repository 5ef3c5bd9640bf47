package builtin

import (
	"context"
	"strconv"
	"sync/atomic"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agentcore-run/acpcore/internal/acp"
	"github.com/agentcore-run/acpcore/internal/agent"
)

var subIDCounter int64

// nextSubID returns a process-wide unique suffix for child session ids,
// since a session may dispatch several subagent_execute_task calls.
func nextSubID() string {
	return strconv.FormatInt(atomic.AddInt64(&subIDCounter, 1), 10)
}

const taskDescription = "Runs a focused subagent on a single task and returns its transcript " +
	"(or only its final message, with return_last_only). Use this to delegate a " +
	"self-contained unit of work (a search, a multi-step edit, an investigation) that " +
	"would otherwise consume the parent conversation's turn budget."

// NewSubagentServer builds the "task" platform extension: a single
// subagent_execute_task tool that spawns a child Loop sharing parent's
// provider, extension catalog and permission gate, and runs it to
// completion before returning, driving real recursion through Loop.Spawn
// directly rather than deferring to a pluggable executor interface.
func NewSubagentServer(parent *agent.Loop, out chan<- *acp.Envelope) *server.MCPServer {
	s := server.NewMCPServer("task", "1.0.0", server.WithToolCapabilities(true))

	subagentTool := mcp.NewTool("subagent_execute_task",
		mcp.WithDescription(taskDescription),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("A short (3-5 word) summary of the task, shown in status updates"),
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The full task for the subagent to perform"),
		),
		mcp.WithBoolean("return_last_only",
			mcp.Description("Return only the subagent's final message instead of its full transcript"),
		),
	)
	s.AddTool(subagentTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		prompt, _ := args["prompt"].(string)
		if prompt == "" {
			return mcp.NewToolResultError("prompt is required"), nil
		}
		returnLastOnly, _ := args["return_last_only"].(bool)

		child := parent.Spawn(parent.SessionID+"/sub-"+nextSubID(), out)
		reason, err := child.Turn(ctx, []acp.ContentBlock{{Type: "text", Text: prompt}})
		if err != nil && reason == acp.StopError {
			return mcp.NewToolResultError(err.Error()), nil
		}
		answer := child.AssistantTranscript()
		if returnLastOnly {
			answer = child.LastAssistantText()
		}
		if answer == "" {
			answer = "(subagent produced no output, stop_reason=" + reason + ")"
		}
		return mcp.NewToolResultText(answer), nil
	})

	return s
}
