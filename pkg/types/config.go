package types

// Config is the process-wide configuration store. It is loaded once at
// startup (global then per-project JSONC, then environment overrides),
// mutated only through explicit admin operations thereafter, and never
// torn down for the life of the process.
type Config struct {
	Schema string `json:"$schema,omitempty"`

	Model      string `json:"model,omitempty"` // "provider/model"
	SmallModel string `json:"small_model,omitempty"`

	PermissionMode string `json:"permission_mode,omitempty"` // "auto" | "approve" | "smart_approve"

	// Permission is the process-wide bash-pattern/external-directory policy
	// every session's Gate is built from; distinct from the per-persona
	// Permission on AgentConfig, which tunes subagent invocations.
	Permission *PermissionConfig `json:"permission,omitempty"`

	Provider map[string]ProviderConfig `json:"provider,omitempty"`
	Agent    map[string]AgentConfig    `json:"agent,omitempty"`
	MCP      map[string]MCPConfig      `json:"mcp,omitempty"`

	MaxTurns       int `json:"max_turns,omitempty"`
	SessionCap     int `json:"session_cap,omitempty"`
	ToolCallClipBytes int `json:"tool_call_clip_bytes,omitempty"`
}

// ProviderConfig holds configuration for a specific LLM provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
	Model   string `json:"model,omitempty"`
	Npm     string `json:"npm,omitempty"`

	Options *ProviderOptions `json:"options,omitempty"`

	Whitelist []string `json:"whitelist,omitempty"`
	Blacklist []string `json:"blacklist,omitempty"`
	Disable   bool     `json:"disable,omitempty"`
}

// ProviderOptions holds nested provider options.
type ProviderOptions struct {
	APIKey        string `json:"apiKey,omitempty"`
	BaseURL       string `json:"baseURL,omitempty"`
	EnterpriseURL string `json:"enterpriseUrl,omitempty"`
	Timeout       *int   `json:"timeout,omitempty"` // ms
}

// AgentConfig holds per-agent-persona configuration (subagent type tuning).
type AgentConfig struct {
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`

	Tools      map[string]bool   `json:"tools,omitempty"`
	Permission *PermissionConfig `json:"permission,omitempty"`

	Description string `json:"description,omitempty"`
	Mode        string `json:"mode,omitempty"` // "subagent" | "primary" | "all"

	MaxTurns int  `json:"max_turns,omitempty"`
	Disable  bool `json:"disable,omitempty"`
}

// PermissionConfig holds the static permission policy (auto/ask/deny) per
// category, distinct from the runtime per-tool AllowOnce/.../Cancel
// decisions recorded by internal/permission.
type PermissionConfig struct {
	Edit        string      `json:"edit,omitempty"`
	Bash        interface{} `json:"bash,omitempty"` // string or map[pattern]action
	WebFetch    string      `json:"webfetch,omitempty"`
	ExternalDir string      `json:"external_directory,omitempty"`
	DoomLoop    string      `json:"doom_loop,omitempty"`
}

// MCPConfig holds MCP server configuration as parsed from the config file;
// internal/extension.Config is built from this at add_extension time.
type MCPConfig struct {
	Type        string            `json:"type,omitempty"` // "stdio" | "sse" | "streamable_http"
	Command     []string          `json:"command,omitempty"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`
	Enabled     *bool             `json:"enabled,omitempty"`
	Timeout     int               `json:"timeout,omitempty"` // ms
	AvailableTools []string       `json:"available_tools,omitempty"`
}

// Model describes one model offered by a provider.
type Model struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ProviderID        string       `json:"providerID"`
	ContextLength     int          `json:"contextLength"`
	MaxOutputTokens   int          `json:"maxOutputTokens,omitempty"`
	SupportsTools     bool         `json:"supportsTools"`
	SupportsVision    bool         `json:"supportsVision"`
	SupportsReasoning bool         `json:"supportsReasoning,omitempty"`
	InputPrice        float64      `json:"inputPrice,omitempty"`  // per 1M tokens
	OutputPrice       float64      `json:"outputPrice,omitempty"` // per 1M tokens
	Options           ModelOptions `json:"options,omitempty"`
}

// ModelOptions contains model-specific generation options.
type ModelOptions struct {
	Temperature    *float64 `json:"temperature,omitempty"`
	TopP           *float64 `json:"topP,omitempty"`
	PromptCaching  bool     `json:"promptCaching,omitempty"`
	ExtendedOutput bool     `json:"extendedOutput,omitempty"`
}
