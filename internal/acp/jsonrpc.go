// Package acp defines the JSON-RPC 2.0 envelope and the Agent Client
// Protocol method/type set carried over it (stdio, HTTP+SSE, WebSocket).
//
// The MCP SDK already frames JSON-RPC internally for MCP traffic, but a
// second, independent protocol needs its own standalone envelope type, so
// it is hand-rolled on top of encoding/json (see DESIGN.md's stdlib-only
// section for why no library covers this).
package acp

import "encoding/json"

// Version is the ACP protocol_version this runtime implements.
const Version = 1

// Envelope is one line of the line-delimited JSON-RPC substrate shared by
// all three transports. Exactly one of Method (request/notification) or
// neither Method and one of Result/Error (response) is set.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// IsRequest reports whether the envelope expects a response.
func (e *Envelope) IsRequest() bool {
	return e.Method != "" && e.ID != nil
}

// IsNotification reports whether the envelope is a one-way method call.
func (e *Envelope) IsNotification() bool {
	return e.Method != "" && e.ID == nil
}

// IsResponse reports whether the envelope is a reply to a prior request.
func (e *Envelope) IsResponse() bool {
	return e.Method == "" && e.ID != nil
}

// NewRequest builds a request envelope with the given id and params.
func NewRequest(id json.RawMessage, method string, params any) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{JSONRPC: "2.0", ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification envelope (no id).
func NewNotification(method string, params any) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{JSONRPC: "2.0", Method: method, Params: raw}, nil
}

// NewResult builds a successful response envelope.
func NewResult(id json.RawMessage, result any) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Envelope{JSONRPC: "2.0", ID: &id, Result: raw}, nil
}

// NewError builds an error response envelope.
func NewError(id json.RawMessage, code int, message string) *Envelope {
	return &Envelope{JSONRPC: "2.0", ID: &id, Error: &Error{Code: code, Message: message}}
}

// Marshal serializes an envelope to a single newline-terminated JSON line.
func Marshal(e *Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Unmarshal parses one line of the substrate into an envelope.
func Unmarshal(line []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
