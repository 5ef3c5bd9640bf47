package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemPrompt_Build_IncludesProviderHeader(t *testing.T) {
	sp := &SystemPrompt{WorkDir: t.TempDir(), ProviderID: "anthropic", ModelID: "claude-3"}
	out := sp.Build()
	assert.Contains(t, out, "Claude, an AI assistant made by Anthropic")
}

func TestSystemPrompt_Build_UnknownProviderOmitsHeader(t *testing.T) {
	sp := &SystemPrompt{WorkDir: t.TempDir(), ProviderID: "acme", ModelID: "widget"}
	out := sp.Build()
	assert.NotContains(t, out, "Anthropic")
	assert.NotContains(t, out, "OpenAI")
}

func TestSystemPrompt_Build_IncludesPreambleAheadOfModelGuidance(t *testing.T) {
	sp := &SystemPrompt{WorkDir: t.TempDir(), ModelID: "claude-3", Preamble: "You are house-style bot."}
	out := sp.Build()
	assert.Contains(t, out, "You are house-style bot.")
	assert.Less(t, strings.Index(out, "You are house-style bot."), strings.Index(out, "When using tools, be decisive"))
}

func TestSystemPrompt_Build_IncludesMoimWhenPresent(t *testing.T) {
	sp := &SystemPrompt{WorkDir: t.TempDir(), Moim: "current todos: buy milk"}
	out := sp.Build()
	assert.Contains(t, out, "current todos: buy milk")
}

func TestSystemPrompt_Build_OmitsMoimWhenEmpty(t *testing.T) {
	sp := &SystemPrompt{WorkDir: t.TempDir()}
	out := sp.Build()
	assert.True(t, strings.HasSuffix(out, sp.toolInstructions()), "tool instructions should be the last section when Moim is empty")
}

func TestSystemPrompt_Build_IncludesWorkDirInEnvironment(t *testing.T) {
	dir := t.TempDir()
	sp := &SystemPrompt{WorkDir: dir}
	out := sp.Build()
	assert.Contains(t, out, dir)
}

func TestSystemPrompt_Build_LoadsCustomRulesFromWorkDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("Always write tests."), 0o644))

	sp := &SystemPrompt{WorkDir: dir}
	out := sp.Build()
	assert.Contains(t, out, "Always write tests.")
}

func TestSystemPrompt_Build_DetectsGoProjectType(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/x\n"), 0o644))

	sp := &SystemPrompt{WorkDir: dir}
	out := sp.Build()
	assert.Contains(t, out, "Project Type: Go")
}

func TestSystemPrompt_Build_IncludesToolInstructions(t *testing.T) {
	sp := &SystemPrompt{WorkDir: t.TempDir()}
	out := sp.Build()
	assert.Contains(t, out, "Tool Usage Guidelines")
}
