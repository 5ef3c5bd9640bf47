package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// SystemPrompt builds the system prompt for a Loop's completion requests
// from a plain working-directory string, so it composes independently of
// any persisted session record. Moim carries the extension manager's
// "top-of-mind" text (e.g. the current todo list), appended after the
// tool instructions.
type SystemPrompt struct {
	WorkDir string
	// Preamble is an optional caller-supplied prompt prepended ahead of the
	// model-specific guidance (e.g. a client-configured persona or house style).
	Preamble   string
	ProviderID string
	ModelID    string
	Moim       string
}

// Build constructs the complete system prompt text.
func (s *SystemPrompt) Build() string {
	var parts []string

	if header := s.providerHeader(); header != "" {
		parts = append(parts, header)
	}
	if s.Preamble != "" {
		parts = append(parts, s.Preamble)
	}
	if modelPrompt := s.modelPrompt(); modelPrompt != "" {
		parts = append(parts, modelPrompt)
	}
	parts = append(parts, s.environmentContext())
	if rules := s.loadCustomRules(); rules != "" {
		parts = append(parts, rules)
	}
	parts = append(parts, s.toolInstructions())
	if s.Moim != "" {
		parts = append(parts, s.Moim)
	}

	return strings.Join(parts, "\n\n")
}

func (s *SystemPrompt) providerHeader() string {
	switch s.ProviderID {
	case "anthropic":
		return `You are Claude, an AI assistant made by Anthropic. You are helpful, harmless, and honest.

IMPORTANT: You have access to tools that can read, write, and execute commands on the user's computer. Use them responsibly.`
	case "openai":
		return `You are a helpful AI assistant with access to tools for reading, writing, and executing commands.

Use tools responsibly and follow user instructions carefully.`
	case "google":
		return `You are a helpful AI assistant with tool access.

You can read files, write code, and execute commands to help the user.`
	default:
		return ""
	}
}

func (s *SystemPrompt) modelPrompt() string {
	switch {
	case strings.Contains(s.ModelID, "claude"):
		return `When using tools, be decisive and take action. Don't ask for confirmation unless absolutely necessary.

For file operations:
- Read files before editing to understand context
- Make minimal, focused changes
- Preserve existing code style and formatting`
	case strings.Contains(s.ModelID, "gpt"):
		return `When working with files:
- Always read files before making changes
- Make precise, targeted edits
- Follow existing code conventions`
	case strings.Contains(s.ModelID, "gemini"):
		return `For code tasks:
- Examine existing code structure first
- Make minimal necessary changes
- Maintain code style consistency`
	default:
		return ""
	}
}

func (s *SystemPrompt) environmentContext() string {
	var env strings.Builder
	env.WriteString("# Environment Information\n\n")

	workDir := s.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}
	env.WriteString(fmt.Sprintf("Working Directory: %s\n", workDir))
	env.WriteString(fmt.Sprintf("Current Date: %s\n", time.Now().Format("2006-01-02")))
	env.WriteString(fmt.Sprintf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH))

	if branch := gitBranch(workDir); branch != "" {
		env.WriteString(fmt.Sprintf("Git Branch: %s\n", branch))
	}
	if projectType := detectProjectType(workDir); projectType != "" {
		env.WriteString(fmt.Sprintf("Project Type: %s\n", projectType))
	}
	return env.String()
}

func (s *SystemPrompt) loadCustomRules() string {
	workDir := s.WorkDir
	if workDir == "" {
		workDir, _ = os.Getwd()
	}

	locations := []string{
		filepath.Join(workDir, "AGENTS.md"),
		filepath.Join(workDir, "CLAUDE.md"),
		filepath.Join(workDir, ".acpcore", "rules.md"),
	}
	if home, err := os.UserHomeDir(); err == nil {
		locations = append(locations, filepath.Join(home, ".config", "acpcore", "rules.md"))
	}

	for _, loc := range locations {
		if content, err := os.ReadFile(loc); err == nil && len(content) > 0 {
			return fmt.Sprintf("# Custom Rules\n\n%s", string(content))
		}
	}
	return ""
}

func (s *SystemPrompt) toolInstructions() string {
	return `# Tool Usage Guidelines

1. **File Operations**
   - Use the Read tool before editing files
   - Use Edit for surgical changes, Write for new files
   - Always provide absolute paths

2. **Bash Commands**
   - Prefer built-in tools over bash when possible
   - Include a description for every bash command
   - Handle errors gracefully

3. **Search**
   - Use Glob for file discovery
   - Use Grep for content search
   - Be specific with patterns to avoid noise

4. **Best Practices**
   - Work iteratively, verify changes work
   - Don't modify files you haven't read
   - Explain your reasoning before acting`
}

func gitBranch(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "branch", "--show-current")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

func detectProjectType(dir string) string {
	if dir == "" {
		return ""
	}
	indicators := map[string][]string{
		"Node.js": {"package.json"},
		"Python":  {"pyproject.toml", "setup.py", "requirements.txt"},
		"Go":      {"go.mod"},
		"Rust":    {"Cargo.toml"},
		"Java":    {"pom.xml", "build.gradle"},
		"Ruby":    {"Gemfile"},
		"PHP":     {"composer.json"},
	}
	for projectType, files := range indicators {
		for _, pattern := range files {
			matches, _ := filepath.Glob(filepath.Join(dir, pattern))
			if len(matches) > 0 {
				return projectType
			}
		}
	}
	return ""
}
