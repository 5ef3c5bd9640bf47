package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/agentcore-run/acpcore/internal/acp"
	"github.com/agentcore-run/acpcore/internal/logging"
)

// SessionHeader names the session id on HTTP requests/responses.
const SessionHeader = "Acp-Session-Id"

// HTTPTransport serves the ACP method set over POST/GET/DELETE /acp plus
// WebSocket upgrade and a liveness probe.
type HTTPTransport struct {
	router   Router
	upgrader websocket.Upgrader
}

// NewHTTPTransport builds the chi handler for the ACP HTTP+WS surface.
func NewHTTPTransport(router Router) http.Handler {
	t := &HTTPTransport{
		router:   router,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type", "Accept", SessionHeader},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Post("/acp", t.handlePost)
	r.Get("/acp", t.handleGet)
	r.Delete("/acp", t.handleDelete)

	return r
}

func (t *HTTPTransport) handlePost(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}
	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "application/json") || !strings.Contains(accept, "text/event-stream") {
		http.Error(w, "Accept must include application/json and text/event-stream", http.StatusNotAcceptable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if looksLikeBatch(body) {
		http.Error(w, "batched JSON-RPC not implemented", http.StatusNotImplemented)
		return
	}

	env, err := acp.Unmarshal(body)
	if err != nil {
		http.Error(w, "invalid JSON-RPC envelope", http.StatusBadRequest)
		return
	}

	if env.Method == acp.MethodInitialize {
		sess, err := t.router.NewSession()
		if err != nil {
			http.Error(w, "failed to initialize session", http.StatusInternalServerError)
			return
		}
		sess.ToAgent() <- env
		w.Header().Set(SessionHeader, sess.ID())
		streamSession(w, r, sess)
		return
	}

	sessID := r.Header.Get(SessionHeader)
	if sessID == "" {
		http.Error(w, "missing "+SessionHeader, http.StatusBadRequest)
		return
	}
	sess, ok := t.router.Session(sessID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	select {
	case sess.ToAgent() <- env:
	default:
		logging.Warn().Str("session_id", sessID).Msg("http transport: to_agent queue full, dropping message")
	}

	if env.IsRequest() {
		streamSession(w, r, sess)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (t *HTTPTransport) handleGet(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(strings.ToLower(r.Header.Get("Upgrade")), "websocket") {
		t.handleUpgrade(w, r)
		return
	}

	accept := r.Header.Get("Accept")
	if !strings.Contains(accept, "text/event-stream") {
		http.Error(w, "Accept must include text/event-stream", http.StatusNotAcceptable)
		return
	}
	sessID := r.Header.Get(SessionHeader)
	if sessID == "" {
		http.Error(w, "missing "+SessionHeader, http.StatusBadRequest)
		return
	}
	sess, ok := t.router.Session(sessID)
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	streamSession(w, r, sess)
}

func (t *HTTPTransport) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessID := r.Header.Get(SessionHeader)
	if sessID == "" {
		http.Error(w, "missing "+SessionHeader, http.StatusBadRequest)
		return
	}
	if _, ok := t.router.Session(sessID); !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	t.router.CloseSession(sessID)
	w.WriteHeader(http.StatusOK)
}

func looksLikeBatch(body []byte) bool {
	for _, b := range body {
		if b == ' ' || b == '\n' || b == '\t' || b == '\r' {
			continue
		}
		return b == '['
	}
	return false
}

func (t *HTTPTransport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	sess, err := t.router.NewSession()
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	header := http.Header{}
	header.Set(SessionHeader, sess.ID())
	conn, err := t.upgrader.Upgrade(w, r, header)
	if err != nil {
		t.router.CloseSession(sess.ID())
		return
	}
	runWebSocketSession(conn, sess, t.router)
}

// runWebSocketSession pumps envelopes in both directions over a single
// WebSocket connection. Text frames only; binary frames are ignored with a
// warning.
func runWebSocketSession(conn *websocket.Conn, sess AgentSession, router Router) {
	defer func() {
		conn.Close()
		router.CloseSession(sess.ID())
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for env := range sess.FromAgent() {
			b, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.BinaryMessage {
			logging.Warn().Str("session_id", sess.ID()).Msg("ws transport: binary frame ignored")
			continue
		}
		env, err := acp.Unmarshal(data)
		if err != nil {
			logging.Warn().Err(err).Msg("ws transport: invalid JSON-RPC frame, skipping")
			continue
		}
		select {
		case sess.ToAgent() <- env:
		default:
			logging.Warn().Str("session_id", sess.ID()).Msg("ws transport: to_agent queue full, dropping message")
		}
	}
	<-writerDone
}
