// Package session implements the Session Manager: it owns the LRU-bounded
// map from session id to a running internal/agent.Loop, constructing new
// sessions on first use and evicting the least-recently-used ones once the
// configured capacity is exceeded. Conversation processing itself lives in
// internal/agent; this package is purely the registry and lifecycle layer
// the transport layer's Router interface needs.
package session
