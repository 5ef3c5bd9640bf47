package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/agentcore-run/acpcore/internal/event"
	"github.com/agentcore-run/acpcore/internal/storage"
)

// Decision is the five-way outcome of a tool-call permission prompt,
// generalizing a simpler three-way allow/deny/ask model to distinguish
// once-vs-always on both the allow and deny side, plus explicit cancel.
type Decision string

const (
	DecisionAllowOnce   Decision = "allow_once"
	DecisionAllowAlways Decision = "allow_always"
	DecisionDenyOnce    Decision = "deny_once"
	DecisionDenyAlways  Decision = "deny_always"
	DecisionCancel      Decision = "cancel"
)

// Grant is the persisted row for one qualified tool name: at most one of
// AlwaysAllow, AskBefore, NeverAllow is true at a time.
type Grant struct {
	AlwaysAllow bool `json:"always_allow"`
	AskBefore   bool `json:"ask_before"`
	NeverAllow  bool `json:"never_allow"`
}

// ToolRequest describes one pending tool-call permission check.
type ToolRequest struct {
	SessionID     string
	QualifiedName string
	Args          json.RawMessage
	ReadOnlyHint  bool
}

// Mode is the session-wide approval policy.
type Mode string

const (
	ModeAuto    Mode = "auto"    // tools dispatch without prompting, subject to explicit deny grants
	ModeApprove Mode = "approve" // every un-granted tool prompts
	ModeSmart   Mode = "smart_approve"
)

// ErrCancelled is returned when the user answers "cancel" to a prompt.
var ErrCancelled = fmt.Errorf("permission: cancelled by user")

// DeniedError surfaces a deny decision back to the agent loop as a tool error.
type DeniedError struct {
	QualifiedName string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("denied by policy: %s", e.QualifiedName)
}

// Store is the per-runtime permission grant table, keyed by qualified tool
// name, persisted through internal/storage and guarded by a single
// RWMutex over the whole table: concurrent Gets share the read lock, and
// a Record or Clear for any tool name takes the write lock for all names.
type Store struct {
	mu     sync.RWMutex
	grants map[string]Grant
	db     *storage.Storage
}

// NewStore constructs a Store backed by db (nil means in-memory only, used
// in tests).
func NewStore(db *storage.Storage) *Store {
	return &Store{grants: make(map[string]Grant), db: db}
}

// Load hydrates the in-memory table from persisted storage.
func (s *Store) Load(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	var grants map[string]Grant
	if err := s.db.Get(ctx, []string{"permissions", "grants"}, &grants); err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}
	s.mu.Lock()
	s.grants = grants
	s.mu.Unlock()
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	s.mu.RLock()
	snapshot := make(map[string]Grant, len(s.grants))
	for k, v := range s.grants {
		snapshot[k] = v
	}
	s.mu.RUnlock()
	return s.db.Put(ctx, []string{"permissions", "grants"}, snapshot)
}

// Get returns the grant row for a qualified tool name, zero-value if none.
func (s *Store) Get(qualifiedName string) Grant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.grants[qualifiedName]
}

// Record stores the effect of an Always decision.
func (s *Store) Record(ctx context.Context, qualifiedName string, d Decision) error {
	s.mu.Lock()
	switch d {
	case DecisionAllowAlways:
		s.grants[qualifiedName] = Grant{AlwaysAllow: true}
	case DecisionDenyAlways:
		s.grants[qualifiedName] = Grant{NeverAllow: true}
	}
	s.mu.Unlock()
	return s.persist(ctx)
}

// Clear removes any grant for a qualified tool name.
func (s *Store) Clear(ctx context.Context, qualifiedName string) error {
	s.mu.Lock()
	delete(s.grants, qualifiedName)
	s.mu.Unlock()
	return s.persist(ctx)
}

// Prompter asks the user a permission question and blocks for the answer,
// returning ErrCancelled or ctx.Err() if the wait is abandoned.
type Prompter interface {
	RequestPermission(ctx context.Context, req ToolRequest) (Decision, error)
}

// Gate combines the grant Store, the session Mode, and a Prompter into the
// single call the agent loop's step 4.a-d needs. Bash and ExternalDir add
// fine-grained scrutiny for the bash tool specifically: Bash maps command
// patterns ("git *", "rm *") to an action, ExternalDir governs paths a
// dangerous command resolves outside WorkDir, and DoomLoop flags a model
// stuck repeating the same call. All three are optional: a nil/zero value
// leaves the corresponding check disabled and Check falls through to the
// Mode-based logic below.
type Gate struct {
	Store    *Store
	Mode     Mode
	Prompter Prompter

	Bash        map[string]PermissionAction
	ExternalDir PermissionAction
	WorkDir     string
	DoomLoop    *DoomLoopDetector
}

// Check resolves the effective decision for one tool call: the doom-loop
// detector runs first and forces a prompt (or a deny, absent a Prompter) on
// a repeating call; cached grants short-circuit; the bash policy applies
// pattern and external-directory scrutiny to the bash tool specifically;
// smart_approve auto-allows read-only tools; otherwise the Prompter is
// consulted and an Always answer is recorded.
func (g *Gate) Check(ctx context.Context, req ToolRequest) (Decision, error) {
	if g.DoomLoop != nil && g.DoomLoop.Check(req.SessionID, req.QualifiedName, req.Args) {
		if g.Prompter == nil {
			return DecisionDenyOnce, nil
		}
		return g.prompt(ctx, req, fmt.Sprintf("%s has been called repeatedly with the same input. Continue?", req.QualifiedName))
	}

	grant := g.Store.Get(req.QualifiedName)
	if grant.AlwaysAllow {
		return DecisionAllowOnce, nil
	}
	if grant.NeverAllow {
		return DecisionDenyOnce, nil
	}

	if req.QualifiedName == "bash" && len(g.Bash) > 0 {
		switch action := g.bashPolicy(ctx, req); action {
		case ActionDeny:
			return DecisionDenyOnce, nil
		case ActionAsk:
			if g.Prompter == nil {
				return DecisionAllowOnce, nil
			}
			return g.prompt(ctx, req, fmt.Sprintf("Run %s?", req.QualifiedName))
		}
		// ActionAllow falls through to the Mode-based logic below.
	}

	if g.Mode == ModeAuto {
		return DecisionAllowOnce, nil
	}
	if g.Mode == ModeSmart && req.ReadOnlyHint {
		return DecisionAllowOnce, nil
	}

	if g.Prompter == nil {
		return DecisionAllowOnce, nil
	}

	return g.prompt(ctx, req, fmt.Sprintf("Run %s?", req.QualifiedName))
}

// bashPolicy parses req.Args as a BashInput payload and resolves the worst
// (most restrictive) action across every parsed sub-command: dangerous
// commands (rm, mv, chmod, ...) whose paths resolve outside WorkDir escalate
// to ExternalDir regardless of the pattern table, then each sub-command is
// matched against Bash. A parse failure defaults to ask: commands the
// parser cannot analyze are never silently allowed.
func (g *Gate) bashPolicy(ctx context.Context, req ToolRequest) PermissionAction {
	var payload struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(req.Args, &payload); err != nil || payload.Command == "" {
		return ActionAsk
	}

	commands, err := ParseBashCommand(payload.Command)
	if err != nil {
		return ActionAsk
	}

	workDir := g.WorkDir
	worst := ActionAllow

	for _, cmd := range commands {
		if IsDangerousCommand(cmd.Name) && workDir != "" {
			for _, p := range ExtractPaths(cmd) {
				resolved, err := ResolvePath(ctx, p, workDir)
				if err != nil {
					continue
				}
				if !IsWithinDir(resolved, workDir) {
					worst = escalate(worst, g.ExternalDir)
				}
			}
		}

		if cmd.Name == "cd" {
			continue
		}

		worst = escalate(worst, MatchBashPermission(cmd, g.Bash))
	}

	return worst
}

// escalate returns the more restrictive of two actions: deny beats ask
// beats allow.
func escalate(a, b PermissionAction) PermissionAction {
	rank := map[PermissionAction]int{ActionAllow: 0, ActionAsk: 1, ActionDeny: 2, "": 0}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

// prompt publishes the permission-required/resolved events around a
// blocking Prompter call and records an Always decision in the Store.
func (g *Gate) prompt(ctx context.Context, req ToolRequest, title string) (Decision, error) {
	event.Publish(event.Event{
		Type: event.PermissionRequired,
		Data: event.PermissionRequiredData{
			SessionID: req.SessionID,
			ToolName:  req.QualifiedName,
			Kind:      "tool_call",
			Title:     title,
		},
	})

	decision, err := g.Prompter.RequestPermission(ctx, req)
	if err != nil {
		return DecisionCancel, err
	}

	switch decision {
	case DecisionAllowAlways, DecisionDenyAlways:
		if err := g.Store.Record(ctx, req.QualifiedName, decision); err != nil {
			return decision, err
		}
	}

	event.Publish(event.Event{
		Type: event.PermissionResolved,
		Data: event.PermissionResolvedData{
			SessionID: req.SessionID,
			Outcome:   string(decision),
		},
	})

	return decision, nil
}

// IsAllow reports whether a decision permits dispatch.
func IsAllow(d Decision) bool {
	return d == DecisionAllowOnce || d == DecisionAllowAlways
}
