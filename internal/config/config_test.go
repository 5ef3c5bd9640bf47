package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/agentcore-run/acpcore/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withIsolatedHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	oldHome := os.Getenv("HOME")
	os.Setenv("HOME", tmpDir)
	os.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	t.Cleanup(func() {
		os.Setenv("HOME", oldHome)
		os.Unsetenv("XDG_CONFIG_HOME")
	})
	return tmpDir
}

func TestLoadProjectConfig(t *testing.T) {
	tmpDir := withIsolatedHome(t)

	cfg := `{
		"$schema": "https://acpd.dev/config.json",
		"model": "anthropic/claude-sonnet-4-5",
		"small_model": "anthropic/claude-3-5-haiku-20241022",
		"permission_mode": "smart_approve",
		"provider": {
			"anthropic": {
				"apiKey": "sk-ant-test123"
			}
		},
		"agent": {
			"coder": {
				"temperature": 0.7,
				"top_p": 0.9,
				"tools": {
					"bash": true,
					"edit": true
				},
				"permission": {
					"edit": "allow",
					"bash": "ask"
				}
			}
		}
	}`

	configPath := filepath.Join(tmpDir, ".acp", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0644))

	loaded, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "https://acpd.dev/config.json", loaded.Schema)
	assert.Equal(t, "anthropic/claude-sonnet-4-5", loaded.Model)
	assert.Equal(t, "anthropic/claude-3-5-haiku-20241022", loaded.SmallModel)
	assert.Equal(t, "smart_approve", loaded.PermissionMode)

	anthropic := loaded.Provider["anthropic"]
	assert.Equal(t, "sk-ant-test123", anthropic.APIKey)

	coder := loaded.Agent["coder"]
	require.NotNil(t, coder.Temperature)
	assert.Equal(t, 0.7, *coder.Temperature)
	require.NotNil(t, coder.TopP)
	assert.Equal(t, 0.9, *coder.TopP)
	assert.True(t, coder.Tools["bash"])
	assert.True(t, coder.Tools["edit"])
}

func TestJSONCComments(t *testing.T) {
	tmpDir := withIsolatedHome(t)

	jsoncConfig := `{
		// this is a single-line comment
		"model": "anthropic/claude-sonnet-4-5",
		/* this is a
		   multi-line comment */
		"provider": {
			"anthropic": {
				"apiKey": "test-key" // inline comment
			}
		}
	}`

	configPath := filepath.Join(tmpDir, ".acp", "config.jsonc")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(jsoncConfig), 0644))

	loaded, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4-5", loaded.Model)
	assert.Equal(t, "test-key", loaded.Provider["anthropic"].APIKey)
}

func TestConfigMerge(t *testing.T) {
	tmpHome := withIsolatedHome(t)
	tmpProject := t.TempDir()

	globalConfig := `{
		"model": "anthropic/claude-sonnet-4-5",
		"provider": {
			"anthropic": {
				"apiKey": "global-key"
			}
		},
		"agent": {
			"coder": {
				"tools": {"bash": true}
			}
		}
	}`
	globalDir := GetPaths().Config
	require.NoError(t, os.MkdirAll(globalDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(globalDir, "config.json"), []byte(globalConfig), 0644))
	_ = tmpHome

	projectConfig := `{
		"model": "openai/gpt-5",
		"agent": {
			"coder": {
				"tools": {"edit": true}
			}
		}
	}`
	require.NoError(t, os.MkdirAll(filepath.Join(tmpProject, ".acp"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpProject, ".acp", "config.json"), []byte(projectConfig), 0644))

	loaded, err := Load(tmpProject)
	require.NoError(t, err)

	assert.Equal(t, "openai/gpt-5", loaded.Model)
	assert.Equal(t, "global-key", loaded.Provider["anthropic"].APIKey)
	assert.True(t, loaded.Agent["coder"].Tools["edit"])
}

func TestEnvVarOverride(t *testing.T) {
	withIsolatedHome(t)

	os.Setenv(EnvPrefix+"_MODEL", "env-model")
	defer os.Unsetenv(EnvPrefix + "_MODEL")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.Model)
}

func TestConfigContentEnv(t *testing.T) {
	withIsolatedHome(t)

	os.Setenv(EnvPrefix+"_CONFIG_CONTENT", `{"model": "inline-model"}`)
	defer os.Unsetenv(EnvPrefix + "_CONFIG_CONTENT")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "inline-model", cfg.Model)
}

func TestMCPConfig(t *testing.T) {
	tmpDir := withIsolatedHome(t)

	cfg := `{
		"model": "anthropic/claude-sonnet-4-5",
		"mcp": {
			"filesystem": {
				"type": "stdio",
				"command": ["npx", "-y", "@modelcontextprotocol/server-filesystem"],
				"environment": {
					"MCP_ROOT": "/home/user"
				},
				"enabled": true,
				"timeout": 5000
			},
			"remote-server": {
				"type": "sse",
				"url": "https://mcp.example.com",
				"headers": {
					"Authorization": "Bearer token"
				}
			}
		}
	}`

	configPath := filepath.Join(tmpDir, ".acp", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0644))

	loaded, err := Load(tmpDir)
	require.NoError(t, err)

	fs := loaded.MCP["filesystem"]
	assert.Equal(t, "stdio", fs.Type)
	assert.Equal(t, []string{"npx", "-y", "@modelcontextprotocol/server-filesystem"}, fs.Command)
	assert.Equal(t, "/home/user", fs.Environment["MCP_ROOT"])
	require.NotNil(t, fs.Enabled)
	assert.True(t, *fs.Enabled)
	assert.Equal(t, 5000, fs.Timeout)

	remote := loaded.MCP["remote-server"]
	assert.Equal(t, "sse", remote.Type)
	assert.Equal(t, "https://mcp.example.com", remote.URL)
	assert.Equal(t, "Bearer token", remote.Headers["Authorization"])
}

func TestPermissionConfig(t *testing.T) {
	tmpDir := withIsolatedHome(t)

	cfg := `{
		"model": "anthropic/claude-sonnet-4-5",
		"agent": {
			"coder": {
				"permission": {
					"edit": "allow",
					"bash": {
						"rm": "deny",
						"chmod": "ask",
						"git push": "deny"
					},
					"webfetch": "allow",
					"external_directory": "ask",
					"doom_loop": "ask"
				}
			}
		}
	}`

	configPath := filepath.Join(tmpDir, ".acp", "config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(configPath), 0755))
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0644))

	loaded, err := Load(tmpDir)
	require.NoError(t, err)

	perm := loaded.Agent["coder"].Permission
	require.NotNil(t, perm)
	assert.Equal(t, "allow", perm.Edit)
	assert.Equal(t, "allow", perm.WebFetch)
	assert.Equal(t, "ask", perm.ExternalDir)
	assert.Equal(t, "ask", perm.DoomLoop)

	bashPerm, ok := perm.Bash.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "deny", bashPerm["rm"])
	assert.Equal(t, "ask", bashPerm["chmod"])
}

func TestConfigSerialization(t *testing.T) {
	cfg := &types.Config{
		Schema:     "https://acpd.dev/config.json",
		Model:      "anthropic/claude-sonnet-4-5",
		SmallModel: "anthropic/claude-3-5-haiku",
		Provider: map[string]types.ProviderConfig{
			"anthropic": {
				APIKey:  "test-key",
				BaseURL: "https://api.anthropic.com",
			},
		},
		Agent: map[string]types.AgentConfig{
			"coder": {
				Temperature: func() *float64 { v := 0.7; return &v }(),
				TopP:        func() *float64 { v := 0.9; return &v }(),
				Tools:       map[string]bool{"bash": true},
			},
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)

	var loaded types.Config
	require.NoError(t, json.Unmarshal(data, &loaded))

	assert.Equal(t, cfg.Schema, loaded.Schema)
	assert.Equal(t, cfg.Model, loaded.Model)
	assert.Equal(t, cfg.SmallModel, loaded.SmallModel)
	assert.Equal(t, "test-key", loaded.Provider["anthropic"].APIKey)
	assert.Equal(t, *cfg.Agent["coder"].Temperature, *loaded.Agent["coder"].Temperature)
	assert.Equal(t, *cfg.Agent["coder"].TopP, *loaded.Agent["coder"].TopP)
}

func TestMergeConfigFunction(t *testing.T) {
	t.Run("merges providers", func(t *testing.T) {
		target := &types.Config{
			Provider: map[string]types.ProviderConfig{
				"anthropic": {APIKey: "a"},
			},
		}
		source := &types.Config{
			Provider: map[string]types.ProviderConfig{
				"openai": {APIKey: "b"},
			},
		}

		mergeConfig(target, source)

		assert.Len(t, target.Provider, 2)
		assert.Equal(t, "a", target.Provider["anthropic"].APIKey)
		assert.Equal(t, "b", target.Provider["openai"].APIKey)
	})

	t.Run("source overrides target for same key", func(t *testing.T) {
		target := &types.Config{
			Provider: map[string]types.ProviderConfig{
				"openai": {APIKey: "old-key"},
			},
		}
		source := &types.Config{
			Provider: map[string]types.ProviderConfig{
				"openai": {APIKey: "new-key", BaseURL: "https://custom.example.com"},
			},
		}

		mergeConfig(target, source)

		openai := target.Provider["openai"]
		assert.Equal(t, "new-key", openai.APIKey)
		assert.Equal(t, "https://custom.example.com", openai.BaseURL)
	})

	t.Run("does not overwrite with empty model", func(t *testing.T) {
		target := &types.Config{Model: "anthropic/claude-sonnet-4-5"}
		source := &types.Config{SmallModel: "anthropic/claude-3-5-haiku"}

		mergeConfig(target, source)

		assert.Equal(t, "anthropic/claude-sonnet-4-5", target.Model)
		assert.Equal(t, "anthropic/claude-3-5-haiku", target.SmallModel)
	})
}

func TestApplyEnvOverridesFunction(t *testing.T) {
	t.Run("ACPD_MODEL overrides config", func(t *testing.T) {
		os.Setenv(EnvPrefix+"_MODEL", "env-override-model")
		defer os.Unsetenv(EnvPrefix + "_MODEL")

		cfg := &types.Config{Model: "config-model", Provider: make(map[string]types.ProviderConfig)}
		applyEnvOverrides(cfg)

		assert.Equal(t, "env-override-model", cfg.Model)
	})

	t.Run("ACPD_SMALL_MODEL overrides config", func(t *testing.T) {
		os.Setenv(EnvPrefix+"_SMALL_MODEL", "env-small-model")
		defer os.Unsetenv(EnvPrefix + "_SMALL_MODEL")

		cfg := &types.Config{SmallModel: "config-small-model", Provider: make(map[string]types.ProviderConfig)}
		applyEnvOverrides(cfg)

		assert.Equal(t, "env-small-model", cfg.SmallModel)
	})
}
