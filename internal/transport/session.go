package transport

import "github.com/agentcore-run/acpcore/internal/acp"

// AgentSession is the transport-facing view of one running agent: a pair of
// bounded queues carrying envelopes wire->agent (ToAgent) and agent->wire
// (FromAgent), letting reads and writes proceed concurrently without
// sharing a lock.
type AgentSession interface {
	ID() string
	ToAgent() chan<- *acp.Envelope
	FromAgent() <-chan *acp.Envelope
	Close()
}

// Router bootstraps and looks up AgentSessions for the transport layer. It
// is implemented by the process's Session Manager (internal/session).
type Router interface {
	// NewSession allocates a session (on "initialize" over HTTP, or at
	// process start for stdio) and starts its agent task.
	NewSession() (AgentSession, error)
	// Session looks up a previously created session by id.
	Session(id string) (AgentSession, bool)
	// CloseSession tears down a session and aborts its task.
	CloseSession(id string)
}
