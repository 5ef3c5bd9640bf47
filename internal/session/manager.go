package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"

	"github.com/agentcore-run/acpcore/internal/acp"
	"github.com/agentcore-run/acpcore/internal/agent"
	"github.com/agentcore-run/acpcore/internal/builtin"
	"github.com/agentcore-run/acpcore/internal/event"
	"github.com/agentcore-run/acpcore/internal/extension"
	"github.com/agentcore-run/acpcore/internal/logging"
	"github.com/agentcore-run/acpcore/internal/mcpclient"
	"github.com/agentcore-run/acpcore/internal/permission"
	"github.com/agentcore-run/acpcore/internal/provider"
	"github.com/agentcore-run/acpcore/internal/storage"
	"github.com/agentcore-run/acpcore/internal/tool"
	"github.com/agentcore-run/acpcore/internal/transport"
	"github.com/agentcore-run/acpcore/pkg/types"
)

// DefaultCapacity is the Session Manager's default LRU capacity.
const DefaultCapacity = 100

// Manager owns every live session's runningSession, bounded by an LRU
// cache so the process never accumulates unbounded idle sessions. It
// wraps hashicorp/golang-lru/v2 and holds the single process-wide
// permission grant Store, loaded once at construction and shared by every
// running session rather than reloaded per session.
type Manager struct {
	mu         sync.Mutex
	cache      *lru.Cache[string, *runningSession]
	registry   *provider.Registry
	db         *storage.Storage
	permGrants *permission.Store
	mode       permission.Mode
	bashPolicy *permission.BashPolicy
}

// NewManager constructs a Manager with the given provider registry and
// shared storage (used both for the permission grant store and for each
// session's todo list / tool registry), at the given LRU capacity
// (DefaultCapacity if capacity <= 0). db may be nil, in which case grants
// and todos are in-memory only for the life of the process. bashPolicy may
// be nil, in which case every session's Gate falls through to mode for the
// bash tool too (doom-loop detection still runs regardless).
func NewManager(registry *provider.Registry, db *storage.Storage, mode permission.Mode, capacity int, bashPolicy *permission.BashPolicy) (*Manager, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	store := permission.NewStore(db)
	if err := store.Load(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("session manager: failed to load permission grants")
	}

	m := &Manager{registry: registry, db: db, permGrants: store, mode: mode, bashPolicy: bashPolicy}
	cache, err := lru.NewWithEvict[string, *runningSession](capacity, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.cache = cache
	return m, nil
}

// onEvict fires the evicted session's cancellation token, joins its
// dispatch goroutine, and closes its to_agent queue, in that order so the
// dispatch loop never reads from a closed queue.
func (m *Manager) onEvict(id string, rs *runningSession) {
	rs.shutdown()
}

// GetOrCreate returns the running session for id, constructing one if
// none exists. The whole check-then-construct path runs under a single
// lock rather than a classic RLock-then-Lock double-check: construction's
// only blocking work is the builtin/task platform extensions' in-process
// MCP handshake, which never leaves the process, so holding the lock
// across it is acceptable.
func (m *Manager) GetOrCreate(id string) (*runningSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rs, ok := m.cache.Get(id); ok {
		return rs, nil
	}

	rs, err := m.construct(id)
	if err != nil {
		return nil, err
	}
	m.cache.Add(id, rs)
	rs.start()
	return rs, nil
}

func (m *Manager) construct(id string) (*runningSession, error) {
	model, err := m.registry.DefaultModel()
	if err != nil {
		return nil, fmt.Errorf("session manager: no default model: %w", err)
	}
	prov, err := m.registry.Get(model.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("session manager: provider %s: %w", model.ProviderID, err)
	}

	return newRunningSession(id, prov, model.ID, model.ProviderID, m.permGrants, m.mode, m.bashPolicy, m.db), nil
}

// Has reports whether a session id is currently resident.
func (m *Manager) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Contains(id)
}

// Count returns the number of currently resident sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Len()
}

// Remove tears down a session explicitly.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Remove(id)
}

// --- transport.Router ---

// NewSession allocates a fresh session id and starts its agent task,
// satisfying transport.Router for the "initialize" handshake.
func (m *Manager) NewSession() (transport.AgentSession, error) {
	id := ulid.Make().String()
	rs, err := m.GetOrCreate(id)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// Session looks up a previously created session without creating one.
func (m *Manager) Session(id string) (transport.AgentSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.cache.Get(id)
	if !ok {
		return nil, false
	}
	return rs, true
}

// CloseSession tears down a session and aborts its task.
func (m *Manager) CloseSession(id string) {
	m.Remove(id)
}

// runningSession pairs one internal/agent.Loop with the bounded to_agent/
// from_agent queues transport.AgentSession exposes, and a dispatch
// goroutine translating ACP envelopes into Loop calls.
type runningSession struct {
	id string

	toAgent   chan *acp.Envelope
	fromAgent chan *acp.Envelope

	loop     *agent.Loop
	ext      *extension.Manager
	gate     *permission.Gate
	prompter *wirePrompter
	db       *storage.Storage

	// Conversation persistence bookkeeping; see history.go.
	persisted int
	turns     int
	created   int64

	// turnMu serializes Turn calls: Loop.Turn is not safe for concurrent
	// use on the same Loop, but a client may send a second "prompt" before
	// the first resolves, so each prompt's Turn call runs in its own
	// goroutine guarded by this lock rather than blocking dispatch itself
	// (which must stay free to observe a "cancel" notification).
	turnMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func newRunningSession(id string, prov provider.Provider, modelID, providerID string, store *permission.Store, mode permission.Mode, bashPolicy *permission.BashPolicy, db *storage.Storage) *runningSession {
	fromAgent := make(chan *acp.Envelope, transport.QueueSize)
	ext := extension.New()
	prompter := newWirePrompter(id, fromAgent)
	gate := &permission.Gate{Store: store, Mode: mode, Prompter: prompter, DoomLoop: permission.NewDoomLoopDetector()}
	if bashPolicy != nil {
		gate.Bash = bashPolicy.Patterns
		gate.ExternalDir = bashPolicy.ExternalDir
	}

	loop := agent.NewLoop(id, prov, ext, gate, fromAgent)
	loop.ModelID = modelID
	loop.ProviderID = providerID

	ctx, cancel := context.WithCancel(context.Background())
	rs := &runningSession{
		id:        id,
		toAgent:   make(chan *acp.Envelope, transport.QueueSize),
		fromAgent: fromAgent,
		loop:      loop,
		ext:       ext,
		gate:      gate,
		prompter:  prompter,
		db:        db,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	rs.registerPlatformExtensions(db)
	rs.restore(ctx)
	return rs
}

// registerPlatformExtensions wires the always-on "builtin" (filesystem/
// shell/search) and "task" (subagent recursion) in-process MCP servers,
// the two extensions every session gets without an explicit
// new_session MCP server entry. Failures are logged, not fatal: a
// session missing these still runs, just without local tools.
func (rs *runningSession) registerPlatformExtensions(db *storage.Storage) {
	toolReg := tool.DefaultRegistry("", db)

	builtinSrv := builtin.NewFilesystemServer(toolReg, rs.id)
	builtinCfg := extension.Config{
		Name:       "builtin",
		Kind:       mcpclient.KindBuiltin,
		Unprefixed: true,
		InProcess:  mcpclient.Config{Name: "builtin", Kind: mcpclient.KindBuiltin, InProcessServer: builtinSrv},
	}
	if err := rs.ext.AddExtension(rs.ctx, builtinCfg); err != nil {
		logging.Warn().Err(err).Msg("session manager: failed to register builtin extension")
	}

	taskSrv := builtin.NewSubagentServer(rs.loop, rs.fromAgent)
	taskCfg := extension.Config{
		Name:       "task",
		Kind:       mcpclient.KindPlatform,
		Unprefixed: true,
		InProcess:  mcpclient.Config{Name: "task", Kind: mcpclient.KindPlatform, InProcessServer: taskSrv},
	}
	if err := rs.ext.AddExtension(rs.ctx, taskCfg); err != nil {
		logging.Warn().Err(err).Msg("session manager: failed to register task extension")
	}

	rs.ext.RegisterMoimSource("todo", &todoMoim{store: db})
}

func (rs *runningSession) ID() string                      { return rs.id }
func (rs *runningSession) ToAgent() chan<- *acp.Envelope   { return rs.toAgent }
func (rs *runningSession) FromAgent() <-chan *acp.Envelope { return rs.fromAgent }

func (rs *runningSession) start() {
	go rs.dispatch()
}

// Close implements transport.AgentSession: stops accepting new traffic.
// Full teardown (cancellation + queue close) happens in shutdown, called
// by the Manager on eviction/explicit removal, since the transport layer
// and the Manager both hold a reference and only the Manager owns the
// session's lifetime.
func (rs *runningSession) Close() {}

func (rs *runningSession) shutdown() {
	rs.loop.Cancel.Fire()
	rs.cancel()
	<-rs.done
	close(rs.toAgent)
	event.Publish(event.Event{
		Type: event.SessionDeleted,
		Data: event.SessionDeletedData{Info: &types.Session{ID: rs.id}},
	})
}

// dispatch is the session's sole goroutine driving ACP method calls into
// the Loop; prompt turns run in their own sub-goroutine so a cancel
// notification can still be observed and fired while a turn is in flight.
func (rs *runningSession) dispatch() {
	defer close(rs.done)
	for {
		select {
		case <-rs.ctx.Done():
			return
		case env, ok := <-rs.toAgent:
			if !ok {
				return
			}
			rs.handle(env)
		}
	}
}

func (rs *runningSession) handle(env *acp.Envelope) {
	if env.IsResponse() {
		rs.prompter.resolve(env)
		return
	}

	switch env.Method {
	case acp.MethodInitialize:
		rs.reply(env, acp.InitializeResult{ProtocolVersion: acp.Version})

	case acp.MethodNewSession:
		var params acp.NewSessionParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			rs.replyErr(env, acp.CodeInvalidParams, err.Error())
			return
		}
		rs.loop.WorkDir = params.WorkingDir
		rs.gate.WorkDir = params.WorkingDir
		for _, srv := range params.MCPServers {
			cfg := extension.Config{
				Name:    srv.Name,
				Kind:    extension.Kind(srv.Kind),
				Command: srv.Command,
				Env:     srv.Env,
				URI:     srv.URI,
				Headers: srv.Headers,
			}
			if err := rs.ext.AddExtension(rs.ctx, cfg); err != nil {
				logging.Warn().Err(err).Str("extension", srv.Name).Msg("session manager: add_extension failed")
			}
		}
		rs.reply(env, acp.NewSessionResult{SessionID: rs.id, Models: []string{rs.loop.ModelID}})

	case acp.MethodPrompt:
		var params acp.PromptParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			rs.replyErr(env, acp.CodeInvalidParams, err.Error())
			return
		}
		id := env.ID
		go func() {
			rs.turnMu.Lock()
			defer rs.turnMu.Unlock()
			reason, err := rs.loop.Turn(rs.ctx, params.Content)
			// Persist with a fresh context: a cancelled turn still gets
			// its partial conversation written.
			rs.persistConversation(context.Background(), reason)
			if err != nil && reason == acp.StopError {
				rs.replyErrID(id, acp.CodeInternalError, err.Error())
				return
			}
			rs.replyID(id, acp.PromptResult{StopReason: reason})
		}()

	case acp.MethodCancel:
		rs.loop.Cancel.Fire()

	case acp.MethodSetModel:
		var params acp.SetModelParams
		if err := json.Unmarshal(env.Params, &params); err != nil {
			rs.replyErr(env, acp.CodeInvalidParams, err.Error())
			return
		}
		rs.loop.ModelID = params.ModelID
		if env.IsRequest() {
			rs.reply(env, struct{}{})
		}

	default:
		if env.IsRequest() {
			rs.replyErr(env, acp.CodeMethodNotFound, "unknown method: "+env.Method)
		}
	}
}

func (rs *runningSession) reply(env *acp.Envelope, result any) {
	if env.ID == nil {
		return
	}
	rs.replyID(env.ID, result)
}

func (rs *runningSession) replyID(id *json.RawMessage, result any) {
	if id == nil {
		return
	}
	out, err := acp.NewResult(*id, result)
	if err != nil {
		logging.Error().Err(err).Msg("session manager: failed to encode result")
		return
	}
	rs.send(out)
}

func (rs *runningSession) replyErr(env *acp.Envelope, code int, msg string) {
	if env.ID == nil {
		return
	}
	rs.replyErrID(env.ID, code, msg)
}

func (rs *runningSession) replyErrID(id *json.RawMessage, code int, msg string) {
	if id == nil {
		return
	}
	rs.send(acp.NewError(*id, code, msg))
}

func (rs *runningSession) send(env *acp.Envelope) {
	select {
	case rs.fromAgent <- env:
	default:
		logging.Warn().Str("session_id", rs.id).Msg("session manager: from_agent queue full, dropping reply")
	}
}

// wirePrompter implements permission.Prompter by round-tripping a
// request_permission request over the session's own fromAgent/toAgent
// envelope pair: it sends the request downstream and blocks until the
// matching response envelope arrives back through dispatch's IsResponse
// branch above.
type wirePrompter struct {
	sessionID string
	out       chan<- *acp.Envelope

	mu      sync.Mutex
	pending map[string]chan acp.RequestPermissionResult
	nextID  int64
}

func newWirePrompter(sessionID string, out chan<- *acp.Envelope) *wirePrompter {
	return &wirePrompter{sessionID: sessionID, out: out, pending: make(map[string]chan acp.RequestPermissionResult)}
}

func (p *wirePrompter) RequestPermission(ctx context.Context, req permission.ToolRequest) (permission.Decision, error) {
	reqID := fmt.Sprintf("perm-%d", atomic.AddInt64(&p.nextID, 1))
	idJSON, _ := json.Marshal(reqID)

	ch := make(chan acp.RequestPermissionResult, 1)
	p.mu.Lock()
	p.pending[reqID] = ch
	p.mu.Unlock()

	params := acp.RequestPermissionParams{
		SessionID: p.sessionID,
		ToolCall: acp.ToolCallUpdate{
			Type:   "tool_call",
			ID:     req.QualifiedName,
			Name:   req.QualifiedName,
			Args:   req.Args,
			Status: "pending",
		},
	}
	env, err := acp.NewRequest(idJSON, acp.MethodRequestPerm, params)
	if err != nil {
		p.drop(reqID)
		return permission.DecisionCancel, err
	}

	select {
	case p.out <- env:
	default:
		p.drop(reqID)
		return permission.DecisionCancel, fmt.Errorf("permission: from_agent queue full")
	}

	select {
	case result := <-ch:
		return decisionFromOption(result.OptionID), nil
	case <-ctx.Done():
		p.drop(reqID)
		return permission.DecisionCancel, ctx.Err()
	}
}

func (p *wirePrompter) drop(reqID string) {
	p.mu.Lock()
	delete(p.pending, reqID)
	p.mu.Unlock()
}

func (p *wirePrompter) resolve(env *acp.Envelope) {
	if env.ID == nil {
		return
	}
	var reqID string
	if err := json.Unmarshal(*env.ID, &reqID); err != nil {
		return
	}
	p.mu.Lock()
	ch, ok := p.pending[reqID]
	if ok {
		delete(p.pending, reqID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	var result acp.RequestPermissionResult
	if env.Error != nil {
		result.OptionID = acp.OptionCancel
	} else if err := json.Unmarshal(env.Result, &result); err != nil {
		result.OptionID = acp.OptionCancel
	}
	ch <- result
}

func decisionFromOption(optionID string) permission.Decision {
	switch optionID {
	case acp.OptionAllowOnce:
		return permission.DecisionAllowOnce
	case acp.OptionAllowAlways:
		return permission.DecisionAllowAlways
	case acp.OptionRejectOnce:
		return permission.DecisionDenyOnce
	case acp.OptionRejectAlways:
		return permission.DecisionDenyAlways
	default:
		return permission.DecisionCancel
	}
}
