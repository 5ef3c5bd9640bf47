// Package types provides the core data types shared across the runtime.
package types

// Session is an isolated conversational session identified by an opaque id.
type Session struct {
	ID       string         `json:"id"`
	WorkDir  string         `json:"workDir"`
	ParentID *string        `json:"parentID,omitempty"`
	Title    string         `json:"title"`
	Summary  SessionSummary `json:"summary"`
	Time     SessionTime    `json:"time"`
}

// SessionSummary tracks aggregate statistics about a session's tool activity.
type SessionSummary struct {
	ToolCalls int `json:"toolCalls"`
	Turns     int `json:"turns"`
}

// SessionTime contains lifecycle timestamps for a session.
type SessionTime struct {
	Created    int64  `json:"created"`
	Updated    int64  `json:"updated"`
	Compacting *int64 `json:"compacting,omitempty"`
}
