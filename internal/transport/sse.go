package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/agentcore-run/acpcore/internal/acp"
)

// SSEHeartbeatInterval is the keepalive cadence; proxies with tight idle
// timeouts drop quiet streams, so a comment frame goes out every 15s.
const SSEHeartbeatInterval = 15 * time.Second

// sseWriter streams a session's outbound envelopes as SSE events, flushing
// through middleware via http.ResponseController, each data frame carrying
// one bare JSON-RPC envelope.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) writeEnvelope(env *acp.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	return s.flush()
}

func (s *sseWriter) writeHeartbeat() {
	fmt.Fprint(s.w, ": heartbeat\n\n")
	_ = s.flush()
}

func (s *sseWriter) flush() error {
	if err := s.rc.Flush(); err != nil {
		s.flusher.Flush()
	}
	return nil
}

// streamSession copies sess.FromAgent() onto the SSE response until the
// client disconnects (ctx.Done) or the session closes (channel closed).
func streamSession(w http.ResponseWriter, r *http.Request, sess AgentSession) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sse, err := newSSEWriter(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = sse.flush()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			sse.writeHeartbeat()
		case env, ok := <-sess.FromAgent():
			if !ok {
				return
			}
			if err := sse.writeEnvelope(env); err != nil {
				return
			}
		}
	}
}
