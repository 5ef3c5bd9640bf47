package transport

import (
	"bufio"
	"io"
	"os"

	"github.com/agentcore-run/acpcore/internal/acp"
	"github.com/agentcore-run/acpcore/internal/logging"
)

// StdioTransport reads newline-delimited JSON-RPC from stdin and writes
// replies to stdout; diagnostics go to stderr only, keeping the stdout
// stream pure JSON-RPC for the client to parse.
type StdioTransport struct {
	router Router
	in     io.Reader
	out    io.Writer
}

// NewStdioTransport wires stdin/stdout by default; tests may override.
func NewStdioTransport(router Router) *StdioTransport {
	return &StdioTransport{router: router, in: os.Stdin, out: os.Stdout}
}

// Run blocks, driving exactly one session for the lifetime of the process
// (stdio has no concept of multiple concurrent connections).
func (t *StdioTransport) Run() error {
	sess, err := t.router.NewSession()
	if err != nil {
		return err
	}
	defer t.router.CloseSession(sess.ID())

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		t.writeLoop(sess, done)
		close(writerDone)
	}()
	t.readLoop(sess)
	close(done)
	<-writerDone
	return nil
}

func (t *StdioTransport) readLoop(sess AgentSession) {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		env, err := acp.Unmarshal(line)
		if err != nil {
			logging.Warn().Err(err).Msg("stdio transport: invalid JSON-RPC line, skipping")
			continue
		}
		select {
		case sess.ToAgent() <- env:
		default:
			logging.Warn().Msg("stdio transport: to_agent queue full, dropping message")
		}
	}
}

func (t *StdioTransport) writeLoop(sess AgentSession, done <-chan struct{}) {
	for {
		select {
		case env, ok := <-sess.FromAgent():
			if !ok {
				return
			}
			b, err := acp.Marshal(env)
			if err != nil {
				logging.Warn().Err(err).Msg("stdio transport: failed to marshal outbound envelope")
				continue
			}
			if _, err := t.out.Write(b); err != nil {
				logging.Error().Err(err).Msg("stdio transport: write failed")
				return
			}
		case <-done:
			return
		}
	}
}
