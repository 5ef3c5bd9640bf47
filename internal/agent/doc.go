// Package agent implements the per-session reasoning loop: the turn
// algorithm that drives a streaming provider call, intercepts tool-call
// blocks, gates them through the permission system, dispatches them via
// the Extension Manager, and feeds results back until the turn ends.
//
// # Loop
//
// [Loop] owns one session's conversation, cancellation token, and
// system prompt. [Loop.Turn] runs the core agent algorithm: build
// the tool catalog, stream a completion, accumulate tool-call deltas,
// dispatch complete calls, append results, and loop until the model
// stops emitting tool calls or the turn counter exceeds max_turns.
// Dispatch runs sequentially unless the model emitted more than one
// call in the same turn and every one of them targets a tool the
// extension catalog annotates read-only, in which case runToolCalls
// fans them out concurrently via errgroup: that annotation is the
// closest signal the provider API surfaces to "the model thinks these
// are independent", since a read-only tool cannot observe another
// call's side effects to depend on.
//
// # Sub-agents
//
// [Loop.Spawn] creates a child Loop sharing the parent's provider,
// extension set, and permission gate but with its own conversation and
// cancellation token, hierarchically parented to the caller's (see
// [CancelToken]). internal/builtin's subagent_execute_task tool drives a
// spawned child through one complete Turn and returns its concatenated
// assistant text, or only its last assistant message when the caller
// sets return_last_only.
//
// # Compaction and token accounting
//
// estimateTokens feeds a process-wide LRU cache (see tokens.go); when a
// provider call returns ContextLengthExceeded, compact.go replaces all
// but the last [CompactRetainCount] messages with a model-generated
// summary and the turn retries once.
package agent
