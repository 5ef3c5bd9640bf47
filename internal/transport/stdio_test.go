package transport

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-run/acpcore/internal/acp"
)

func TestStdio_RoundTrip(t *testing.T) {
	sess := newEchoSession("sess-stdio")
	router := newFakeRouter(sess)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	tr := &StdioTransport{router: router, in: inR, out: outW}

	runDone := make(chan error, 1)
	go func() { runDone <- tr.Run() }()

	_, err := inW.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocol_version":1}}` + "\n"))
	require.NoError(t, err)

	scanner := bufio.NewScanner(outR)
	require.True(t, scanner.Scan())
	var env acp.Envelope
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
	assert.True(t, env.IsResponse())
	assert.JSONEq(t, `{"echo":"initialize"}`, string(env.Result))

	require.NoError(t, inW.Close())
	assert.NoError(t, <-runDone)
	assert.Contains(t, router.closed, "sess-stdio")
}

func TestStdio_SkipsMalformedLines(t *testing.T) {
	sess := newEchoSession("sess-stdio-bad")
	router := newFakeRouter(sess)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	tr := &StdioTransport{router: router, in: inR, out: outW}

	runDone := make(chan error, 1)
	go func() { runDone <- tr.Run() }()

	_, err := inW.Write([]byte("this is not json\n" +
		`{"jsonrpc":"2.0","id":2,"method":"prompt","params":{}}` + "\n"))
	require.NoError(t, err)

	scanner := bufio.NewScanner(outR)
	require.True(t, scanner.Scan())
	var env acp.Envelope
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
	assert.JSONEq(t, `{"echo":"prompt"}`, string(env.Result))

	require.NoError(t, inW.Close())
	assert.NoError(t, <-runDone)
}

func TestStdio_PreservesOutputOrder(t *testing.T) {
	sess := newEchoSession("sess-stdio-order")
	router := newFakeRouter(sess)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	tr := &StdioTransport{router: router, in: inR, out: outW}
	go tr.Run()

	for i := 1; i <= 5; i++ {
		line, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": i, "method": "prompt"})
		require.NoError(t, err)
		_, err = inW.Write(append(line, '\n'))
		require.NoError(t, err)
	}

	scanner := bufio.NewScanner(outR)
	for i := 1; i <= 5; i++ {
		require.True(t, scanner.Scan())
		var env acp.Envelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
		var id int
		require.NoError(t, json.Unmarshal(*env.ID, &id))
		assert.Equal(t, i, id)
	}
	inW.Close()
}
