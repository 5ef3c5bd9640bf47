package transport

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-run/acpcore/internal/acp"
)

// parityScript builds the same outbound envelope sequence for each
// transport under test: two session/update notifications followed by a
// prompt response.
func parityScript(t *testing.T) []*acp.Envelope {
	t.Helper()
	u1, err := acp.NewNotification(acp.MethodSessionUpdate, map[string]any{"seq": 1})
	require.NoError(t, err)
	u2, err := acp.NewNotification(acp.MethodSessionUpdate, map[string]any{"seq": 2})
	require.NoError(t, err)
	done, err := acp.NewResult(json.RawMessage(`1`), map[string]string{"stop_reason": "end_turn"})
	require.NoError(t, err)
	return []*acp.Envelope{u1, u2, done}
}

func normalize(t *testing.T, raw []byte) string {
	t.Helper()
	var env acp.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	b, err := json.Marshal(&env)
	require.NoError(t, err)
	return string(b)
}

func collectStdio(t *testing.T, script []*acp.Envelope) []string {
	sess := newScriptedSession("parity-stdio", script...)
	router := newFakeRouter(sess)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	tr := &StdioTransport{router: router, in: inR, out: outW}
	go tr.Run()
	defer inW.Close()

	scanner := bufio.NewScanner(outR)
	var got []string
	for len(got) < len(script) {
		require.True(t, scanner.Scan())
		got = append(got, normalize(t, scanner.Bytes()))
	}
	return got
}

func collectSSE(t *testing.T, script []*acp.Envelope) []string {
	sess := newScriptedSession("parity-sse", script...)
	router := newFakeRouter()
	router.install(sess)
	srv := httptest.NewServer(NewHTTPTransport(router))
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL+"/acp", nil)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set(SessionHeader, "parity-sse")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	frames := readSSEData(t, bufio.NewReader(resp.Body), len(script))
	var got []string
	for _, f := range frames {
		got = append(got, normalize(t, []byte(f)))
	}
	return got
}

func collectWS(t *testing.T, script []*acp.Envelope) []string {
	sess := newScriptedSession("parity-ws", script...)
	router := newFakeRouter(sess)
	srv := httptest.NewServer(NewHTTPTransport(router))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/acp"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []string
	for len(got) < len(script) {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		got = append(got, normalize(t, data))
	}
	return got
}

// The same ordered sequence of ACP messages must come through stdio,
// HTTP+SSE, and WebSocket identically.
func TestTransportParity(t *testing.T) {
	stdio := collectStdio(t, parityScript(t))
	sse := collectSSE(t, parityScript(t))
	ws := collectWS(t, parityScript(t))

	assert.Equal(t, stdio, sse)
	assert.Equal(t, stdio, ws)
}
