// Package transport adapts JSON-RPC envelopes (internal/acp) to three wire
// formats (stdio, HTTP+SSE, WebSocket) while preserving message order.
//
// The duplex bridge types expose in-process message queues as byte
// streams: buffer-and-spill on the read side, split-on-newline on the
// write side with drop-oldest-with-warning backpressure (dropping the
// newest would reorder the JSON-RPC stream).
package transport

import (
	"bytes"
	"io"
	"sync"

	"github.com/agentcore-run/acpcore/internal/logging"
)

// QueueSize is the bounded capacity of the to_agent/from_agent
// in-process queues.
const QueueSize = 256

// ReceiverToReader exposes a queue of newline-framed strings as a readable
// byte stream: each dequeued string is emitted followed by "\n"; partial
// reads spill into a holdover buffer; queue closure produces EOF.
type ReceiverToReader struct {
	in        <-chan string
	holdover  bytes.Buffer
	closed    bool
}

// NewReceiverToReader wraps ch as an io.Reader.
func NewReceiverToReader(ch <-chan string) *ReceiverToReader {
	return &ReceiverToReader{in: ch}
}

func (r *ReceiverToReader) Read(p []byte) (int, error) {
	if r.holdover.Len() > 0 {
		return r.holdover.Read(p)
	}
	if r.closed {
		return 0, io.EOF
	}
	line, ok := <-r.in
	if !ok {
		r.closed = true
		return 0, io.EOF
	}
	r.holdover.WriteString(line)
	r.holdover.WriteByte('\n')
	return r.holdover.Read(p)
}

// WriterToSender buffers writes and, on each write, dequeues every complete
// newline-terminated segment onto a bounded send channel. On channel
// fullness the oldest segment is dropped with a warning: drop-newest is
// forbidden because JSON-RPC ordering must hold, so a full channel sheds
// from the front to make room for the newest (most time-relevant) segment.
type WriterToSender struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	out    chan string
	sessID string
}

// NewWriterToSender creates a sender-to-writer adapter over a channel of
// the given capacity (normally QueueSize).
func NewWriterToSender(sessionID string, capacity int) *WriterToSender {
	return &WriterToSender{out: make(chan string, capacity), sessID: sessionID}
}

// Out is the bounded channel of complete, newline-stripped segments.
func (w *WriterToSender) Out() <-chan string {
	return w.out
}

func (w *WriterToSender) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		segment := string(data[:idx])
		w.buf.Next(idx + 1)
		w.enqueue(segment)
	}
	return len(p), nil
}

func (w *WriterToSender) enqueue(segment string) {
	select {
	case w.out <- segment:
		return
	default:
	}
	// Channel full: drop the oldest queued segment, never the newest.
	select {
	case dropped := <-w.out:
		logging.Warn().Str("session_id", w.sessID).Int("dropped_len", len(dropped)).
			Msg("transport: send queue full, dropping oldest message")
	default:
	}
	select {
	case w.out <- segment:
	default:
		// Still full (concurrent writer raced us); give up on this segment
		// rather than block the caller indefinitely.
		logging.Warn().Str("session_id", w.sessID).
			Msg("transport: send queue still full after eviction, dropping newest")
	}
}

// Close closes the output channel; no more segments will be delivered.
func (w *WriterToSender) Close() {
	close(w.out)
}
