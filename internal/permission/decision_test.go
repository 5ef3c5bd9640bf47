package permission

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-run/acpcore/internal/storage"
)

type fakePrompter struct {
	decision Decision
	err      error
	calls    []ToolRequest
}

func (f *fakePrompter) RequestPermission(ctx context.Context, req ToolRequest) (Decision, error) {
	f.calls = append(f.calls, req)
	return f.decision, f.err
}

func bashReq(sessionID, command string) ToolRequest {
	args, _ := json.Marshal(map[string]string{"command": command})
	return ToolRequest{SessionID: sessionID, QualifiedName: "bash", Args: args}
}

func TestGate_BashPolicy_Allow(t *testing.T) {
	gate := &Gate{
		Store: NewStore(nil),
		Mode:  ModeApprove,
		Bash:  map[string]PermissionAction{"git *": ActionAllow, "*": ActionAsk},
	}

	decision, err := gate.Check(context.Background(), bashReq("s1", "git status"))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllowOnce, decision)
}

func TestGate_BashPolicy_Deny(t *testing.T) {
	gate := &Gate{
		Store: NewStore(nil),
		Mode:  ModeApprove,
		Bash:  map[string]PermissionAction{"rm *": ActionDeny, "*": ActionAllow},
	}

	decision, err := gate.Check(context.Background(), bashReq("s1", "rm -rf dir"))
	require.NoError(t, err)
	assert.Equal(t, DecisionDenyOnce, decision)
}

func TestGate_BashPolicy_AskPromptsAndRecordsAlways(t *testing.T) {
	prompter := &fakePrompter{decision: DecisionAllowAlways}
	gate := &Gate{
		Store:    NewStore(nil),
		Mode:     ModeApprove,
		Prompter: prompter,
		Bash:     map[string]PermissionAction{"npm install *": ActionAsk, "*": ActionAllow},
	}

	decision, err := gate.Check(context.Background(), bashReq("s1", "npm install express"))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllowAlways, decision)
	assert.Len(t, prompter.calls, 1)

	grant := gate.Store.Get("bash")
	assert.True(t, grant.AlwaysAllow)
}

func TestGate_BashPolicy_ExternalDirEscalates(t *testing.T) {
	prompter := &fakePrompter{decision: DecisionDenyOnce}
	gate := &Gate{
		Store:       NewStore(nil),
		Mode:        ModeApprove,
		Prompter:    prompter,
		Bash:        map[string]PermissionAction{"*": ActionAllow},
		ExternalDir: ActionAsk,
		WorkDir:     "/workspace/project",
	}

	decision, err := gate.Check(context.Background(), bashReq("s1", "rm /etc/passwd"))
	require.NoError(t, err)
	assert.Equal(t, DecisionDenyOnce, decision)
	assert.Len(t, prompter.calls, 1)
}

func TestGate_BashPolicy_NoBashMapFallsThroughToMode(t *testing.T) {
	gate := &Gate{Store: NewStore(nil), Mode: ModeAuto}

	decision, err := gate.Check(context.Background(), bashReq("s1", "rm -rf /"))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllowOnce, decision)
}

func TestGate_DoomLoop_ForcesPromptOnRepeat(t *testing.T) {
	prompter := &fakePrompter{decision: DecisionDenyOnce}
	gate := &Gate{
		Store:    NewStore(nil),
		Mode:     ModeAuto,
		Prompter: prompter,
		DoomLoop: NewDoomLoopDetector(),
	}

	req := ToolRequest{SessionID: "s1", QualifiedName: "read", Args: json.RawMessage(`{"file":"a.txt"}`)}

	for i := 0; i < 2; i++ {
		decision, err := gate.Check(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, DecisionAllowOnce, decision)
	}

	decision, err := gate.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenyOnce, decision)
	assert.Len(t, prompter.calls, 1)
}

func TestGate_DoomLoop_DeniesWithoutPrompter(t *testing.T) {
	gate := &Gate{
		Store:    NewStore(nil),
		Mode:     ModeAuto,
		DoomLoop: NewDoomLoopDetector(),
	}

	req := ToolRequest{SessionID: "s1", QualifiedName: "read", Args: json.RawMessage(`{"file":"a.txt"}`)}
	for i := 0; i < 2; i++ {
		_, err := gate.Check(context.Background(), req)
		require.NoError(t, err)
	}

	decision, err := gate.Check(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, DecisionDenyOnce, decision)
}

func TestGate_AlwaysGrantShortCircuitsBashPolicy(t *testing.T) {
	store := NewStore(nil)
	require.NoError(t, store.Record(context.Background(), "bash", DecisionAllowAlways))

	gate := &Gate{
		Store: store,
		Mode:  ModeApprove,
		Bash:  map[string]PermissionAction{"*": ActionDeny},
	}

	decision, err := gate.Check(context.Background(), bashReq("s1", "rm -rf /"))
	require.NoError(t, err)
	assert.Equal(t, DecisionAllowOnce, decision)
}

func TestEscalate(t *testing.T) {
	assert.Equal(t, ActionDeny, escalate(ActionAllow, ActionDeny))
	assert.Equal(t, ActionAsk, escalate(ActionAllow, ActionAsk))
	assert.Equal(t, ActionDeny, escalate(ActionDeny, ActionAsk))
	assert.Equal(t, ActionAllow, escalate(ActionAllow, ActionAllow))
}

func TestStore_RoundTripThroughStorage(t *testing.T) {
	db := storage.New(t.TempDir())
	ctx := context.Background()

	s1 := NewStore(db)
	require.NoError(t, s1.Record(ctx, "mcp-fixture__get_code", DecisionAllowAlways))
	require.NoError(t, s1.Record(ctx, "builtin__bash", DecisionDenyAlways))

	s2 := NewStore(db)
	require.NoError(t, s2.Load(ctx))

	assert.True(t, s2.Get("mcp-fixture__get_code").AlwaysAllow)
	assert.True(t, s2.Get("builtin__bash").NeverAllow)
	assert.False(t, s2.Get("builtin__bash").AlwaysAllow)
	assert.Equal(t, Grant{}, s2.Get("never_recorded"))
}

func TestStore_ClearRemovesGrant(t *testing.T) {
	db := storage.New(t.TempDir())
	ctx := context.Background()

	s := NewStore(db)
	require.NoError(t, s.Record(ctx, "builtin__edit", DecisionAllowAlways))
	require.NoError(t, s.Clear(ctx, "builtin__edit"))

	reloaded := NewStore(db)
	require.NoError(t, reloaded.Load(ctx))
	assert.Equal(t, Grant{}, reloaded.Get("builtin__edit"))
}
