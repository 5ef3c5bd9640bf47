package event

import "github.com/agentcore-run/acpcore/pkg/types"

// SessionCreatedData is the data for session.created events.
type SessionCreatedData struct {
	Info *types.Session `json:"info"`
}

// SessionUpdatedData is the data for session.updated events.
type SessionUpdatedData struct {
	Info *types.Session `json:"info"`
}

// SessionDeletedData is the data for session.deleted events.
type SessionDeletedData struct {
	Info *types.Session `json:"info"`
}

// SessionIdleData is the data for session.idle events: the session's
// turn loop has no more in-flight work.
type SessionIdleData struct {
	SessionID string `json:"sessionID"`
}

// MessageCreatedData is the data for message.created events.
type MessageCreatedData struct {
	Info *types.Message `json:"info"`
}

// MessageUpdatedData is the data for message.updated events.
type MessageUpdatedData struct {
	Info *types.Message `json:"info"`
}

// ToolCallData is the data for tool_call.started/updated/ended events,
// mirroring the ACP tool_call / tool_call_update notification stream for
// in-process subscribers.
type ToolCallData struct {
	SessionID string          `json:"sessionID"`
	Part      *types.ToolPart `json:"part"`
}

// PermissionRequiredData is the data for permission.required events.
type PermissionRequiredData struct {
	ID          string   `json:"id"`
	SessionID   string   `json:"sessionID"`
	ToolCallID  string   `json:"toolCallID"`
	ToolName    string   `json:"toolName"`
	Kind        string   `json:"kind"` // "tool_call" (the value permission.Gate publishes)
	Pattern     []string `json:"pattern,omitempty"`
	Title       string   `json:"title"`
}

// PermissionResolvedData is the data for permission.resolved events.
type PermissionResolvedData struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	Outcome   string `json:"outcome"` // "allow_once" | "allow_always" | "deny_once" | "deny_always" | "cancel"
}

// CompactionData is the data for compaction.started/ended events.
type CompactionData struct {
	SessionID      string `json:"sessionID"`
	RetainedCount  int    `json:"retainedCount,omitempty"`
	SummaryMessage string `json:"summaryMessageID,omitempty"`
}

// TurnEndedData is the data for turn.ended events: one pass through the
// agent reasoning loop finished, successfully or not.
type TurnEndedData struct {
	SessionID string `json:"sessionID"`
	Reason    string `json:"reason"` // "end_turn" | "max_turns" | "cancelled" | "error"
}

// FileEditedData is the data for file.edited events.
type FileEditedData struct {
	File string `json:"file"`
}
