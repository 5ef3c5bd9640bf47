// Package permission implements the tool-call permission gate: the
// allow/deny/ask decision the agent reasoning loop consults before
// dispatching a model-requested tool call.
//
// # Overview
//
// Every tool call proposed by the model passes through a Gate before
// dispatch. The Gate combines three things:
//
//   - a Store of persisted grants, keyed by the tool's qualified name,
//     recording "always allow" and "never allow" decisions so the user
//     is not re-asked every turn
//   - a session Mode (auto, approve, smart_approve) that governs how
//     aggressively un-granted calls are allowed without a prompt
//   - a Prompter that surfaces a pending decision to the client and
//     blocks for the five-way answer: allow once, allow always, deny
//     once, deny always, or cancel
//
// # Bash policy
//
// The bash tool gets additional scrutiny because a single shell
// command can encode arbitrary sub-operations. ParseBashCommand uses
// mvdan.cc/sh's shell AST to split a command line into its constituent
// BashCommand invocations (name, subcommand, arguments), and
// MatchBashPermission resolves each one against a pattern table
// ("git commit *" is more specific than "git *", which is more
// specific than "*"). IsDangerousCommand flags file-mutating verbs
// (rm, mv, chmod, ...) whose paths are checked against the session's
// working directory via ResolvePath/IsWithinDir, so a command that
// reaches outside the workspace escalates regardless of the pattern
// table's verdict.
//
// # Doom loop detection
//
// DoomLoopDetector guards against a model stuck repeating the same
// tool call with the same arguments: it hashes (tool, input) pairs per
// session and flags three consecutive identical calls, forcing a
// decision instead of letting the loop spin silently.
//
// # Concurrency
//
// Store and DoomLoopDetector are safe for concurrent use; a Gate may
// be shared across goroutines dispatching tool calls from the same
// session in parallel.
package permission
