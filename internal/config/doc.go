// Package config provides configuration loading, merging, and path
// management for the agent runtime.
//
// # Configuration Loading
//
// Load searches for and merges configuration from multiple sources in
// priority order:
//
//  1. Global config (GetPaths().Config/config.json[c])
//  2. Project config (directory/.acp/config.json[c])
//  3. ACPD_CONFIG file, if set
//  4. ACPD_CONFIG_CONTENT inline JSON, if set
//  5. Environment variable overrides
//
// Later sources override earlier ones for scalar fields; map fields
// (Provider, Agent, MCP) are merged key by key, with later sources
// winning on conflict. The one exception is provider API keys from the
// environment, which only fill in a key that no file source set.
//
// # Supported Formats
//
// Both config.json and config.jsonc (JSON with // and /* */ comments)
// are accepted; comments are stripped before unmarshaling.
//
// # Path Management
//
// Paths follows the XDG Base Directory Specification:
//   - Data: ~/.local/share/acpd (XDG_DATA_HOME)
//   - Config: ~/.config/acpd (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/acpd (XDG_CACHE_HOME)
//   - State: ~/.local/state/acpd (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA.
package config
