package acp

// Method names exchanged between client and agent over the envelope
// defined in jsonrpc.go.
const (
	MethodInitialize      = "initialize"
	MethodNewSession      = "new_session"
	MethodPrompt          = "prompt"
	MethodCancel          = "cancel"
	MethodSetModel        = "session/set_model"
	MethodSessionUpdate   = "session/update"
	MethodRequestPerm     = "request_permission"
)

// InitializeParams / InitializeResult — client <-> agent handshake.
type InitializeParams struct {
	ProtocolVersion int `json:"protocol_version"`
}

type InitializeResult struct {
	ProtocolVersion int `json:"protocol_version"`
}

// NewSessionParams / NewSessionResult.
type NewSessionParams struct {
	WorkingDir string           `json:"working_dir"`
	MCPServers []MCPServerEntry `json:"mcp_servers,omitempty"`
}

// MCPServerEntry is the wire shape of one extension requested at session
// creation time; Kind mirrors internal/extension.Config's discriminator.
type MCPServerEntry struct {
	Name    string            `json:"name"`
	Kind    string            `json:"kind"`
	Command []string          `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URI     string            `json:"uri,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type NewSessionResult struct {
	SessionID string   `json:"session_id"`
	Models    []string `json:"models,omitempty"`
}

// PromptParams / PromptResult.
type PromptParams struct {
	SessionID string         `json:"session_id"`
	Content   []ContentBlock `json:"content"`
}

type PromptResult struct {
	StopReason string `json:"stop_reason"`
}

// CancelParams is a notification payload; cancel carries no reply.
type CancelParams struct {
	SessionID string `json:"session_id"`
}

// SetModelParams is accepted as an untyped extension method.
type SetModelParams struct {
	SessionID string `json:"session_id"`
	ModelID   string `json:"model_id"`
}

// ContentBlock is one of {text}, {image, mime_type}, {resource, uri, mime_type?}.
type ContentBlock struct {
	Type     string `json:"type"` // "text" | "image" | "resource"
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"` // base64 image bytes
	URI      string `json:"uri,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Stop reasons for PromptResult.StopReason.
const (
	StopEndTurn   = "end_turn"
	StopMaxTurns  = "max_turns"
	StopCancelled = "cancelled"
	StopError     = "error"
)

// SessionUpdateParams wraps one session/update notification; Update holds
// exactly one of the named payloads below (discriminated by its own Type).
type SessionUpdateParams struct {
	SessionID string `json:"session_id"`
	Update    any    `json:"update"`
}

// AgentMessageChunk is an incremental model output update.
type AgentMessageChunk struct {
	Type    string       `json:"type"` // "agent_message_chunk"
	Content ContentBlock `json:"content"`
}

// ThoughtChunk is an optional reasoning trace update.
type ThoughtChunk struct {
	Type string `json:"type"` // "thought"
	Text string `json:"text"`
}

// ToolCallUpdate carries the tool_call / tool_call_update / tool_call_end
// notification family, distinguished by Status.
type ToolCallUpdate struct {
	Type   string          `json:"type"` // "tool_call"
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Args   any             `json:"args,omitempty"`
	Status string          `json:"status"` // "pending" | "in_progress" | "completed" | "failed"
	Output *ToolCallOutput `json:"output,omitempty"`
}

// ToolCallOutput is the terminal payload of a tool_call_end notification.
type ToolCallOutput struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error"`
}

// PlanUpdate carries plan/todo-list state, surfaced by the todo platform
// extension's "top-of-mind" contribution.
type PlanUpdate struct {
	Type  string     `json:"type"` // "plan"
	Items []PlanItem `json:"items"`
}

type PlanItem struct {
	Text   string `json:"text"`
	Status string `json:"status"` // "pending" | "in_progress" | "completed"
}

// RequestPermissionParams / Result — agent -> client permission prompt.
type RequestPermissionParams struct {
	SessionID string         `json:"session_id"`
	ToolCall  ToolCallUpdate `json:"tool_call"`
}

type RequestPermissionResult struct {
	OptionID string `json:"option_id"`
}

// Permission option ids returned in RequestPermissionResult.OptionID.
const (
	OptionAllowOnce    = "allow_once"
	OptionAllowAlways  = "allow_always"
	OptionRejectOnce   = "reject_once"
	OptionRejectAlways = "reject_always"
	OptionCancel       = "cancel"
)
