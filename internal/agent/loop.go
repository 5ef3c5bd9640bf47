// Package agent implements the per-session reasoning loop: it drives the
// provider's streaming completion, gates every tool call through the
// permission Gate, dispatches allowed calls through the Extension Manager,
// and emits ACP session/update notifications as the turn progresses.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/agentcore-run/acpcore/internal/acp"
	"github.com/agentcore-run/acpcore/internal/event"
	"github.com/agentcore-run/acpcore/internal/extension"
	"github.com/agentcore-run/acpcore/internal/logging"
	"github.com/agentcore-run/acpcore/internal/permission"
	"github.com/agentcore-run/acpcore/internal/provider"
	"github.com/agentcore-run/acpcore/pkg/types"
)

// DefaultMaxTurns bounds a single Turn call's tool-use round trips.
const DefaultMaxTurns = 25

// maxToolResultBytes bounds how much of a single tool result gets fed back
// to the model, matching internal/tool/bash.go's MaxOutputLength convention
// of clipping with a trailing marker rather than dropping the result.
const maxToolResultBytes = 30000

// Loop runs one session's conversation: one Loop per session, one Turn
// call per user prompt. Not safe for concurrent Turn calls on the same
// Loop; the session manager serializes prompts per session.
type Loop struct {
	SessionID  string
	ProviderID string
	ModelID    string
	WorkDir    string

	// Preamble optionally overrides the system prompt's persona/house-style
	// text; see SystemPrompt.Preamble.
	Preamble string

	Provider provider.Provider
	Ext      *extension.Manager
	Gate     *permission.Gate
	Cancel   *CancelToken

	MaxTurns int

	// Out receives every ACP session/update notification this Loop emits.
	// Matches transport.AgentSession.FromAgent()'s direction; non-blocking
	// sends, dropping with a warning if the consumer has fallen behind,
	// since session/update notifications are advisory progress, not the
	// JSON-RPC request/reply stream itself.
	Out chan<- *acp.Envelope

	mu           sync.Mutex
	messages     []*schema.Message
	systemPrompt string
}

// NewLoop constructs a Loop with the default turn budget.
func NewLoop(sessionID string, prov provider.Provider, ext *extension.Manager, gate *permission.Gate, out chan<- *acp.Envelope) *Loop {
	return &Loop{
		SessionID: sessionID,
		Provider:  prov,
		Ext:       ext,
		Gate:      gate,
		Cancel:    NewCancelToken(),
		MaxTurns:  DefaultMaxTurns,
		Out:       out,
	}
}

// SetSystemPrompt installs the static system prompt used at the head of
// every completion request; callers rebuild it per turn to fold in
// extension "top-of-mind" text (todo list state, etc).
func (l *Loop) SetSystemPrompt(prompt string) {
	l.mu.Lock()
	l.systemPrompt = prompt
	l.mu.Unlock()
}

// rebuildSystemPrompt regenerates the system prompt ahead of every
// provider call, folding in the extension manager's current "top-of-mind"
// text (e.g. the todo platform extension's task list).
func (l *Loop) rebuildSystemPrompt(ctx context.Context) {
	moim, _ := l.Ext.GetMoim(ctx, l.SessionID)
	sp := &SystemPrompt{
		WorkDir:    l.WorkDir,
		Preamble:   l.Preamble,
		ProviderID: l.ProviderID,
		ModelID:    l.ModelID,
		Moim:       moim,
	}
	l.SetSystemPrompt(sp.Build())
}

// Turn runs the turn algorithm for one user prompt: append the prompt,
// loop provider calls and tool dispatches until the model ends the turn,
// hits the turn budget, is cancelled, or errors out.
func (l *Loop) Turn(ctx context.Context, content []acp.ContentBlock) (string, error) {
	l.appendUser(content)

	turns := 0
	compacted := false

	for {
		if l.Cancel.Fired() {
			l.emitStop(acp.StopCancelled)
			return acp.StopCancelled, nil
		}
		select {
		case <-ctx.Done():
			l.emitStop(acp.StopCancelled)
			return acp.StopCancelled, ctx.Err()
		default:
		}

		turns++
		if turns > l.MaxTurns {
			l.emitStop(acp.StopMaxTurns)
			return acp.StopMaxTurns, nil
		}

		l.rebuildSystemPrompt(ctx)

		l.mu.Lock()
		snapshot := append([]*schema.Message{{Role: schema.System, Content: l.systemPrompt}}, l.messages...)
		l.mu.Unlock()

		if shouldCompact(snapshot) && !compacted {
			compacted = true
			if err := l.compact(ctx); err != nil {
				logging.Warn().Err(err).Str("session_id", l.SessionID).Msg("agent loop: compaction failed, continuing uncompacted")
			}
			l.mu.Lock()
			snapshot = append([]*schema.Message{{Role: schema.System, Content: l.systemPrompt}}, l.messages...)
			l.mu.Unlock()
		}

		req := &provider.CompletionRequest{
			Model:    l.ModelID,
			Messages: snapshot,
			Tools:    l.resolveTools(),
		}

		stream, err := l.completeWithRetry(ctx, req)
		if err != nil {
			var cle *provider.ContextLengthError
			if errors.As(err, &cle) && !compacted {
				compacted = true
				if cerr := l.compact(ctx); cerr == nil {
					continue
				}
			}
			l.emitStopError(err)
			return acp.StopError, err
		}

		assistantMsg, toolCalls, finishReason, err := l.consumeStream(ctx, stream)
		stream.Close()
		if err != nil {
			l.emitStopError(err)
			return acp.StopError, err
		}
		if assistantMsg == nil {
			// Cancellation fired mid-stream; nothing to append.
			l.emitStop(acp.StopCancelled)
			return acp.StopCancelled, nil
		}

		l.mu.Lock()
		l.messages = append(l.messages, assistantMsg)
		l.mu.Unlock()

		switch normalizeFinishReason(finishReason) {
		case "tool_calls":
			cancelled := l.runToolCalls(ctx, toolCalls)
			if cancelled {
				l.emitStop(acp.StopCancelled)
				return acp.StopCancelled, nil
			}
			continue
		default:
			l.emitStop(acp.StopEndTurn)
			return acp.StopEndTurn, nil
		}
	}
}

func normalizeFinishReason(r string) string {
	switch r {
	case "tool_use", "tool_calls":
		return "tool_calls"
	default:
		return "end_turn"
	}
}

func (l *Loop) appendUser(content []acp.ContentBlock) {
	var text strings.Builder
	for _, b := range content {
		if b.Type == "text" {
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(b.Text)
		}
	}
	l.mu.Lock()
	l.messages = append(l.messages, &schema.Message{Role: schema.User, Content: text.String()})
	l.mu.Unlock()
}

// newRetryBackoff is the provider retry policy: 3 attempts, 1s initial
// delay doubling to a 30s cap, jitter band 0.8x-1.2x.
func newRetryBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0.2
	// WithMaxRetries counts retries after the first call: 2 retries, 3 attempts.
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)
}

func (l *Loop) completeWithRetry(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	var stream *provider.CompletionStream
	op := func() error {
		s, err := l.Provider.CreateCompletion(ctx, req)
		if err != nil {
			if !provider.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			// A server-supplied retry delay is waited out here; the computed
			// backoff interval still runs after it before the next attempt.
			var rl *provider.RateLimitError
			if errors.As(err, &rl) && rl.RetryDelay > 0 {
				select {
				case <-time.After(rl.RetryDelay):
				case <-ctx.Done():
					return backoff.Permanent(ctx.Err())
				}
			}
			return err
		}
		stream = s
		return nil
	}
	if err := backoff.Retry(op, newRetryBackoff(ctx)); err != nil {
		return nil, err
	}
	return stream, nil
}

func (l *Loop) resolveTools() []*schema.ToolInfo {
	var infos []provider.ToolInfo
	for _, t := range l.Ext.ListTools() {
		infos = append(infos, provider.ToolInfo{
			Name:        t.QualifiedName,
			Description: t.Description,
			Parameters:  t.Schema,
		})
	}
	return provider.ConvertToEinoTools(infos)
}

// pendingCall tracks an in-flight streamed tool call's accumulated
// arguments, keyed by the stream delta's Index when present, falling back
// to its ID.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (l *Loop) consumeStream(ctx context.Context, stream *provider.CompletionStream) (*schema.Message, []schema.ToolCall, string, error) {
	var text strings.Builder
	var reasoning strings.Builder
	calls := make(map[string]*pendingCall)
	var order []string
	finishReason := "stop"

	for {
		if l.Cancel.Fired() {
			return nil, nil, acp.StopCancelled, nil
		}
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, "", err
		}

		if msg.Content != "" {
			text.WriteString(msg.Content)
			l.emit(acp.AgentMessageChunk{Type: "agent_message_chunk", Content: acp.ContentBlock{Type: "text", Text: msg.Content}})
		}
		if msg.ReasoningContent != "" {
			reasoning.WriteString(msg.ReasoningContent)
			l.emit(acp.ThoughtChunk{Type: "thought", Text: msg.ReasoningContent})
		}
		for _, tc := range msg.ToolCalls {
			key := tc.ID
			if tc.Index != nil {
				key = fmt.Sprintf("idx:%d", *tc.Index)
			}
			pc, ok := calls[key]
			if !ok {
				pc = &pendingCall{id: tc.ID, name: tc.Function.Name}
				calls[key] = pc
				order = append(order, key)
				l.emit(acp.ToolCallUpdate{Type: "tool_call", ID: pc.id, Name: pc.name, Status: "pending"})
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
		if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
			finishReason = msg.ResponseMeta.FinishReason
		}
	}

	toolCalls := make([]schema.ToolCall, 0, len(order))
	for _, key := range order {
		pc := calls[key]
		toolCalls = append(toolCalls, schema.ToolCall{
			ID: pc.id,
			Function: schema.FunctionCall{
				Name:      pc.name,
				Arguments: pc.args.String(),
			},
		})
	}

	assistant := &schema.Message{Role: schema.Assistant, Content: text.String(), ToolCalls: toolCalls}
	return assistant, toolCalls, finishReason, nil
}

// runToolCalls dispatches every accumulated tool call, gating each through
// the permission Gate first. The model's calls are treated as independent
// (and dispatched concurrently via errgroup) when there is more than one
// and every one of them targets a tool the extension catalog annotates
// read-only: a batch of reads/searches/listings races safely, while a
// batch containing any mutating call runs sequentially to preserve any
// ordering the model intended. Returns true if a cancel decision (or a
// cancelled context) aborted the turn early.
func (l *Loop) runToolCalls(ctx context.Context, calls []schema.ToolCall) bool {
	if len(calls) > 1 && l.callsAreIndependent(calls) {
		return l.runToolCallsParallel(ctx, calls)
	}
	return l.runToolCallsSequential(ctx, calls)
}

func (l *Loop) callsAreIndependent(calls []schema.ToolCall) bool {
	for _, tc := range calls {
		if !l.toolIsReadOnly(tc.Function.Name) {
			return false
		}
	}
	return true
}

func (l *Loop) runToolCallsSequential(ctx context.Context, calls []schema.ToolCall) bool {
	for _, tc := range calls {
		if l.Cancel.Fired() {
			return true
		}
		if l.dispatchOne(ctx, tc) {
			return true
		}
	}
	return false
}

// runToolCallsParallel fans every call out through errgroup, the same
// bounded-concurrency primitive internal/tool/batch.go uses for its own
// sub-invocations. A cancel decision on any one call marks the turn
// cancelled once every goroutine has finished; it does not forcibly abort
// calls already in flight.
func (l *Loop) runToolCallsParallel(ctx context.Context, calls []schema.ToolCall) bool {
	var g errgroup.Group
	var cancelled atomic.Bool
	for _, tc := range calls {
		tc := tc
		g.Go(func() error {
			if l.Cancel.Fired() {
				cancelled.Store(true)
				return nil
			}
			if l.dispatchOne(ctx, tc) {
				cancelled.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return cancelled.Load()
}

// dispatchOne gates and executes a single tool call, emitting its
// tool_call update triple and appending its result message. Returns true
// if the turn should be cancelled (a cancel decision or gate error).
func (l *Loop) dispatchOne(ctx context.Context, tc schema.ToolCall) bool {
	l.emit(acp.ToolCallUpdate{Type: "tool_call", ID: tc.ID, Name: tc.Function.Name, Args: json.RawMessage(tc.Function.Arguments), Status: "in_progress"})
	l.publishToolEvent(event.ToolCallStarted, tc, "pending", nil, nil)

	req := permission.ToolRequest{
		SessionID:     l.SessionID,
		QualifiedName: tc.Function.Name,
		Args:          json.RawMessage(tc.Function.Arguments),
		ReadOnlyHint:  l.toolIsReadOnly(tc.Function.Name),
	}
	decision, err := l.Gate.Check(ctx, req)
	if err != nil || decision == permission.DecisionCancel {
		cancelText := "cancelled by user"
		l.emit(acp.ToolCallUpdate{
			Type: "tool_call", ID: tc.ID, Status: "failed",
			Output: &acp.ToolCallOutput{Text: cancelText, IsError: true},
		})
		l.publishToolEvent(event.ToolCallEnded, tc, "error", nil, &cancelText)
		l.appendToolResult(tc.ID, cancelText, true)
		return true
	}

	if !permission.IsAllow(decision) {
		denyErr := &permission.DeniedError{QualifiedName: tc.Function.Name}
		denyText := denyErr.Error()
		l.emit(acp.ToolCallUpdate{
			Type: "tool_call", ID: tc.ID, Status: "failed",
			Output: &acp.ToolCallOutput{Text: denyText, IsError: true},
		})
		l.publishToolEvent(event.ToolCallEnded, tc, "denied", nil, &denyText)
		l.appendToolResult(tc.ID, denyText, true)
		return false
	}

	l.publishToolEvent(event.ToolCallUpdated, tc, "running", nil, nil)
	result, err := l.Ext.DispatchToolCall(ctx, tc.Function.Name, []byte(tc.Function.Arguments))
	if err != nil {
		errText := err.Error()
		l.emit(acp.ToolCallUpdate{
			Type: "tool_call", ID: tc.ID, Status: "failed",
			Output: &acp.ToolCallOutput{Text: errText, IsError: true},
		})
		l.publishToolEvent(event.ToolCallEnded, tc, "error", nil, &errText)
		l.appendToolResult(tc.ID, errText, true)
		return false
	}

	status := "completed"
	state := "completed"
	if result.IsError {
		status = "failed"
		state = "error"
	}
	l.emit(acp.ToolCallUpdate{
		Type: "tool_call", ID: tc.ID, Status: status,
		Output: &acp.ToolCallOutput{Text: result.Text, IsError: result.IsError},
	})
	l.publishToolEvent(event.ToolCallEnded, tc, state, &result.Text, nil)
	l.appendToolResult(tc.ID, result.Text, result.IsError)
	return false
}

// publishToolEvent mirrors a tool call's dispatch lifecycle onto the
// process event bus, so in-process subscribers observe it without
// parsing the ACP wire stream.
func (l *Loop) publishToolEvent(typ event.EventType, tc schema.ToolCall, state string, output, errText *string) {
	var input map[string]any
	if tc.Function.Arguments != "" {
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
	}
	event.Publish(event.Event{Type: typ, Data: event.ToolCallData{
		SessionID: l.SessionID,
		Part: &types.ToolPart{
			SessionID:  l.SessionID,
			Type:       "tool",
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
			Input:      input,
			State:      state,
			Output:     output,
			Error:      errText,
		},
	}})
}

func (l *Loop) toolIsReadOnly(qualifiedName string) bool {
	for _, t := range l.Ext.ListTools() {
		if t.QualifiedName == qualifiedName {
			return t.ReadOnlyHint
		}
	}
	return false
}

func (l *Loop) appendToolResult(toolCallID, text string, isError bool) {
	if isError {
		text = "error: " + text
	}
	if len(text) > maxToolResultBytes {
		text = text[:maxToolResultBytes] + "\n\n(tool output truncated)"
	}
	l.mu.Lock()
	l.messages = append(l.messages, &schema.Message{Role: schema.Tool, Content: text, ToolCallID: toolCallID})
	l.mu.Unlock()
}

func (l *Loop) emit(update any) {
	params := acp.SessionUpdateParams{SessionID: l.SessionID, Update: update}
	env, err := acp.NewNotification(acp.MethodSessionUpdate, params)
	if err != nil {
		logging.Error().Err(err).Str("session_id", l.SessionID).Msg("agent loop: failed to encode session/update")
		return
	}
	select {
	case l.Out <- env:
	default:
		logging.Warn().Str("session_id", l.SessionID).Msg("agent loop: from_agent queue full, dropping session/update")
	}
}

// emitStop only logs: the stop reason itself is carried back to the caller
// as Turn's return value, which the session manager wraps into the
// "prompt" request's PromptResult. No session/update notification exists
// for turn completion in the ACP method set (see internal/acp/types.go).
func (l *Loop) emitStop(reason string) {
	logging.Debug().Str("session_id", l.SessionID).Str("reason", reason).Msg("agent loop: turn stopped")
}

func (l *Loop) emitStopError(err error) {
	l.emit(acp.AgentMessageChunk{Type: "agent_message_chunk", Content: acp.ContentBlock{Type: "text", Text: "error: " + err.Error()}})
}

// Messages returns a snapshot of the conversation, used by the session
// manager to persist history after each turn.
func (l *Loop) Messages() []*schema.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*schema.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// SeedMessages installs a previously persisted conversation into a fresh
// Loop, before any Turn runs. It replaces the history wholesale; callers
// only use it at session construction.
func (l *Loop) SeedMessages(msgs []*schema.Message) {
	l.mu.Lock()
	l.messages = append([]*schema.Message(nil), msgs...)
	l.mu.Unlock()
}

// LastAssistantText returns the most recent assistant message's text,
// used by subagent_execute_task when the caller sets return_last_only.
func (l *Loop) LastAssistantText() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].Role == schema.Assistant {
			return l.messages[i].Content
		}
	}
	return ""
}

// AssistantTranscript returns every assistant message's text in order,
// joined by blank lines: the full narration of a spawned child Loop's
// work, which subagent_execute_task returns by default.
func (l *Loop) AssistantTranscript() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sb strings.Builder
	for _, m := range l.messages {
		if m.Role != schema.Assistant || m.Content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}

// Spawn creates a child Loop for subagent_execute_task recursion: it shares
// the provider, extension manager, and permission gate, but gets its own
// cancel token (fired when either it or its parent fires) and its own turn
// budget, read from ACPD_SUBAGENT_MAX_TURNS (default 25).
func (l *Loop) Spawn(sessionID string, out chan<- *acp.Envelope) *Loop {
	child := NewLoop(sessionID, l.Provider, l.Ext, l.Gate, out)
	child.Cancel = l.Cancel.Child()
	child.ModelID = l.ModelID
	child.ProviderID = l.ProviderID
	child.MaxTurns = subagentMaxTurns()
	return child
}

func subagentMaxTurns() int {
	if v := os.Getenv("ACPD_SUBAGENT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return DefaultMaxTurns
}
