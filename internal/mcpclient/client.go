// Package mcpclient implements the per-extension MCP client state machine:
// Unconnected -> Initializing -> Ready -> Closing -> Closed. State is
// explicit rather than implied by whether the session pointer is nil, so
// callers can distinguish "never connected" from "closed after failure".
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// State is a position in the per-extension connection state machine.
type State string

const (
	StateUnconnected  State = "unconnected"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

// Kind discriminates how the client reaches its server.
type Kind string

const (
	KindStdio          Kind = "stdio"
	KindSSE            Kind = "sse"
	KindStreamableHTTP Kind = "streamable_http"
	KindBuiltin        Kind = "builtin"
	KindPlatform       Kind = "platform"
)

// Config describes how to launch or reach one MCP server.
type Config struct {
	Name           string
	Kind           Kind
	Command        []string
	Env            map[string]string
	URI            string
	Headers        map[string]string
	Timeout        time.Duration // per-call timeout, default 300s
	InitTimeout    time.Duration // handshake timeout, default 10s
	AvailableTools []string      // allow-list; empty = all
	// InProcessServer, when set (Builtin/Platform kinds), is wired into the
	// client over an io.Pipe pair instead of spawning a process, mirroring
	// pkg/mcpserver/calculator's own stdio integration test.
	InProcessServer *mcpserver.MCPServer
}

// Tool is the catalog shape returned by ListTools, independent of the SDK.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	ReadOnly    bool
	Destructive bool
}

// Resource mirrors an MCP resource listing entry.
type Resource struct {
	URI         string
	Name        string
	Description string
	MimeType    string
}

// CallResult is the outcome of a tools/call dispatch.
type CallResult struct {
	Text    string
	IsError bool
}

// ErrNotReady is returned by any operation attempted outside StateReady.
var ErrNotReady = fmt.Errorf("mcpclient: not ready")

// Client is one MCP client bound to one extension.
type Client struct {
	cfg Config

	mu      sync.RWMutex
	state   State
	session *sdkmcp.ClientSession
	tools   []Tool
	lastErr error

	sdk *sdkmcp.Client
}

// New constructs a client in StateUnconnected. It does not connect.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.InitTimeout == 0 {
		cfg.InitTimeout = 10 * time.Second
	}
	return &Client{
		cfg:   cfg,
		state: StateUnconnected,
		sdk: sdkmcp.NewClient(&sdkmcp.Implementation{
			Name:    "acpcore",
			Version: "1.0.0",
		}, nil),
	}
}

// State returns the current machine state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Connect drives Unconnected -> Initializing -> Ready, performing the MCP
// initialize handshake and caching the tool list.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateUnconnected {
		c.mu.Unlock()
		return fmt.Errorf("mcpclient %s: connect called in state %s", c.cfg.Name, c.state)
	}
	c.state = StateInitializing
	c.mu.Unlock()

	ictx, cancel := context.WithTimeout(ctx, c.cfg.InitTimeout)
	defer cancel()

	transport, err := c.buildTransport()
	if err != nil {
		c.fail(err)
		return err
	}

	session, err := c.sdk.Connect(ictx, transport, nil)
	if err != nil {
		c.fail(fmt.Errorf("handshake failed: %w", err))
		return err
	}

	tools, err := c.fetchTools(ictx, session)
	if err != nil {
		// Non-fatal: server may not implement tools/list.
		tools = nil
	}

	c.mu.Lock()
	c.session = session
	c.tools = tools
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.state = StateClosed
	c.mu.Unlock()
}

func (c *Client) buildTransport() (sdkmcp.Transport, error) {
	switch c.cfg.Kind {
	case KindSSE:
		httpClient := &http.Client{Timeout: c.cfg.InitTimeout}
		return &sdkmcp.SSEClientTransport{Endpoint: c.cfg.URI, HTTPClient: httpClient}, nil
	case KindStreamableHTTP:
		httpClient := &http.Client{Timeout: c.cfg.InitTimeout}
		return &sdkmcp.StreamableClientTransport{Endpoint: c.cfg.URI, HTTPClient: httpClient}, nil
	case KindStdio:
		if len(c.cfg.Command) == 0 {
			return nil, fmt.Errorf("stdio extension %s: empty command", c.cfg.Name)
		}
		cmd := exec.Command(c.cfg.Command[0], c.cfg.Command[1:]...)
		cmd.Env = os.Environ()
		for k, v := range c.cfg.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
		return &sdkmcp.CommandTransport{Command: cmd}, nil
	case KindBuiltin, KindPlatform:
		if c.cfg.InProcessServer == nil {
			return nil, fmt.Errorf("%s extension %s: no in-process server wired", c.cfg.Kind, c.cfg.Name)
		}
		// Bridge the mark3labs/mcp-go server over an io.Pipe pair instead of
		// spawning a process, the same stdio wiring pkg/mcpserver/calculator's
		// own integration test uses to drive it from an sdk client.
		stdioServer := mcpserver.NewStdioServer(c.cfg.InProcessServer)
		serverReader, clientWriter := io.Pipe()
		clientReader, serverWriter := io.Pipe()
		go func() {
			_ = stdioServer.Listen(context.Background(), serverReader, serverWriter)
		}()
		return &sdkmcp.IOTransport{Reader: clientReader, Writer: clientWriter}, nil
	default:
		return nil, fmt.Errorf("unknown extension kind: %s", c.cfg.Kind)
	}
}

func (c *Client) fetchTools(ctx context.Context, session *sdkmcp.ClientSession) ([]Tool, error) {
	result, err := session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		if len(c.cfg.AvailableTools) > 0 && !contains(c.cfg.AvailableTools, t.Name) {
			continue
		}
		var schema json.RawMessage
		if t.InputSchema != nil {
			schema, _ = json.Marshal(t.InputSchema)
		}
		tool := Tool{Name: t.Name, Description: t.Description, InputSchema: schema}
		if t.Annotations != nil {
			tool.ReadOnly = t.Annotations.ReadOnlyHint
			tool.Destructive = t.Annotations.DestructiveHint == nil || *t.Annotations.DestructiveHint
		}
		out = append(out, tool)
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Tools returns the cached, allow-list-filtered tool catalog for this
// extension. Empty outside StateReady.
func (c *Client) Tools() []Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady {
		return nil
	}
	out := make([]Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Call dispatches a tools/call against the live session, bounded by ctx and
// the extension's configured per-call timeout.
func (c *Client) Call(ctx context.Context, toolName string, args json.RawMessage) (CallResult, error) {
	c.mu.RLock()
	state := c.state
	session := c.session
	c.mu.RUnlock()

	if state != StateReady || session == nil {
		return CallResult{}, ErrNotReady
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var argsMap map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &argsMap); err != nil {
			return CallResult{}, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}

	result, err := session.CallTool(cctx, &sdkmcp.CallToolParams{Name: toolName, Arguments: argsMap})
	if err != nil {
		if cctx.Err() != nil {
			return CallResult{}, fmt.Errorf("tool dispatch timed out: %w", cctx.Err())
		}
		return CallResult{}, fmt.Errorf("transport closed: %w", err)
	}

	var sb strings.Builder
	for _, content := range result.Content {
		if tc, ok := content.(*sdkmcp.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return CallResult{Text: sb.String(), IsError: result.IsError}, nil
}

// ListResources returns the server's resource catalog.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	c.mu.RLock()
	state, session := c.state, c.session
	c.mu.RUnlock()
	if state != StateReady || session == nil {
		return nil, ErrNotReady
	}
	result, err := session.ListResources(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Resource, len(result.Resources))
	for i, r := range result.Resources {
		out[i] = Resource{URI: r.URI, Name: r.Name, Description: r.Description, MimeType: r.MIMEType}
	}
	return out, nil
}

// ReadResource reads one resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (string, string, error) {
	c.mu.RLock()
	state, session := c.state, c.session
	c.mu.RUnlock()
	if state != StateReady || session == nil {
		return "", "", ErrNotReady
	}
	result, err := session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
	if err != nil {
		return "", "", err
	}
	var sb strings.Builder
	var mime string
	for _, content := range result.Contents {
		sb.WriteString(content.Text)
		if content.MIMEType != "" {
			mime = content.MIMEType
		}
	}
	return sb.String(), mime, nil
}

// Close drives Ready -> Closing -> Closed, tearing down the session.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	session := c.session
	c.mu.Unlock()

	var err error
	if session != nil {
		err = session.Close()
	}

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return err
}
