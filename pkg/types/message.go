package types

// Message is one entry in a session's conversation.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionID"`
	Role      string      `json:"role"` // "user" | "assistant" | "system" | "tool"
	Time      MessageTime `json:"time"`

	ParentID string `json:"parentID,omitempty"`

	// AgentVisible, when true on a message the model would otherwise skip,
	// forces inclusion in model context (used for compaction summaries).
	// When false on an ordinary status note, the message is kept in
	// transport history but excluded from model context.
	AgentVisible bool `json:"agentVisible,omitempty"`

	// CompactionBoundary marks this message as the summary produced by
	// a compaction pass; messages before it are no longer sent verbatim.
	CompactionBoundary bool `json:"compactionBoundary,omitempty"`

	Model      *ModelRef     `json:"model,omitempty"`
	ModelID    string        `json:"modelID,omitempty"`
	ProviderID string        `json:"providerID,omitempty"`
	Finish     string        `json:"finish,omitempty"`
	Tokens     *TokenUsage   `json:"tokens,omitempty"`
	Error      *MessageError `json:"error,omitempty"`
}

// MessageTime contains timestamps for a message.
type MessageTime struct {
	Created int64  `json:"created"`
	Updated *int64 `json:"updated,omitempty"`
}

// ModelRef references a specific model from a provider.
type ModelRef struct {
	ProviderID string `json:"providerID"`
	ModelID    string `json:"modelID"`
}

// TokenUsage contains token usage statistics for a message.
type TokenUsage struct {
	Input     int        `json:"input"`
	Output    int        `json:"output"`
	Reasoning int        `json:"reasoning,omitempty"`
	Cache     CacheUsage `json:"cache,omitempty"`
}

// CacheUsage contains cache hit/write statistics.
type CacheUsage struct {
	Read  int `json:"read"`
	Write int `json:"write"`
}

// MessageError represents an error that occurred during message processing.
type MessageError struct {
	Type    string `json:"type"` // "authentication" | "rate_limit" | "context_length" | "server" | "request" | "execution" | "usage" | "not_implemented"
	Message string `json:"message"`
}
