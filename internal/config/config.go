// Package config loads the process-wide configuration store described in
// the runtime spec: a config is read once from global + project JSONC
// files plus environment overrides, then mutated only via explicit admin
// operations and never destroyed for the life of the process.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/agentcore-run/acpcore/pkg/types"
)

// EnvPrefix is the environment variable prefix for direct overrides.
const EnvPrefix = "ACPD"

// Load loads configuration from multiple sources, in priority order:
//  1. Global config (GetPaths().Config/config.json[c])
//  2. Project config (directory/.acp/config.json[c])
//  3. ACPD_CONFIG file, if set
//  4. ACPD_CONFIG_CONTENT inline JSON, if set
//  5. Environment variable overrides
func Load(directory string) (*types.Config, error) {
	cfg := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		Agent:    make(map[string]types.AgentConfig),
		MCP:      make(map[string]types.MCPConfig),
	}

	globalDir := GetPaths().Config
	loadConfigFile(filepath.Join(globalDir, "config.json"), cfg)
	loadConfigFile(filepath.Join(globalDir, "config.jsonc"), cfg)

	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".acp", "config.json"), cfg)
		loadConfigFile(filepath.Join(directory, ".acp", "config.jsonc"), cfg)
	}

	if path := os.Getenv(EnvPrefix + "_CONFIG"); path != "" {
		loadConfigFile(path, cfg)
	}

	if content := os.Getenv(EnvPrefix + "_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		if err := json.Unmarshal(stripJSONComments([]byte(content)), &inline); err == nil {
			mergeConfig(cfg, &inline)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadConfigFile(path string, cfg *types.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = stripJSONComments(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

var (
	singleLineComment = regexp.MustCompile(`//.*$`)
	multiLineComment  = regexp.MustCompile(`/\*[\s\S]*?\*/`)
)

// stripJSONComments removes // and /* */ comments from JSONC.
func stripJSONComments(data []byte) []byte {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLineComment.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))
	return multiLineComment.ReplaceAll(data, nil)
}

// mergeConfig merges source into target: scalars overwrite, maps merge
// key by key with source winning on conflict.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.SmallModel != "" {
		target.SmallModel = source.SmallModel
	}
	if source.PermissionMode != "" {
		target.PermissionMode = source.PermissionMode
	}
	if source.Permission != nil {
		target.Permission = source.Permission
	}
	if source.MaxTurns != 0 {
		target.MaxTurns = source.MaxTurns
	}
	if source.SessionCap != 0 {
		target.SessionCap = source.SessionCap
	}
	if source.ToolCallClipBytes != 0 {
		target.ToolCallClipBytes = source.ToolCallClipBytes
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.Agent != nil {
		if target.Agent == nil {
			target.Agent = make(map[string]types.AgentConfig)
		}
		for k, v := range source.Agent {
			target.Agent[k] = v
		}
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.MCPConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}
}

// applyEnvOverrides applies provider API-key and model environment
// variables. The model, small-model and permission-mode variables take
// precedence over every file source; a provider API-key variable only
// fills in a key that no file source set.
func applyEnvOverrides(cfg *types.Config) {
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"ark":       "ARK_API_KEY",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if cfg.Provider == nil {
				cfg.Provider = make(map[string]types.ProviderConfig)
			}
			p := cfg.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				cfg.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv(EnvPrefix + "_MODEL"); model != "" {
		cfg.Model = model
	}
	if smallModel := os.Getenv(EnvPrefix + "_SMALL_MODEL"); smallModel != "" {
		cfg.SmallModel = smallModel
	}
	if mode := os.Getenv(EnvPrefix + "_PERMISSION_MODE"); mode != "" {
		cfg.PermissionMode = mode
	}
}

// Save writes the configuration to path, creating parent directories as
// needed. Used by admin operations that mutate the running config.
func Save(cfg *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
