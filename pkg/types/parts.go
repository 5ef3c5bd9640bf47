package types

import "encoding/json"

// Part represents one component of a message: a span of text, a tool
// call and its eventual result, a reasoning block, or an attached file.
type Part interface {
	PartType() string
	PartID() string
	PartSessionID() string
	PartMessageID() string
}

// PartTime contains timing information for a message part.
type PartTime struct {
	Start *int64 `json:"start,omitempty"`
	End   *int64 `json:"end,omitempty"`
}

// TextPart represents a text content part. It maps directly onto an ACP
// ContentBlock of kind "text".
type TextPart struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID"`
	Type      string         `json:"type"` // always "text"
	Text      string         `json:"text"`
	Time      PartTime       `json:"time,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (p *TextPart) PartType() string      { return "text" }
func (p *TextPart) PartID() string        { return p.ID }
func (p *TextPart) PartSessionID() string { return p.SessionID }
func (p *TextPart) PartMessageID() string { return p.MessageID }

// ReasoningPart represents extended thinking/reasoning content, surfaced
// to a connected client as an ACP "thought" chunk rather than a content
// block of its own.
type ReasoningPart struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionID"`
	MessageID string   `json:"messageID"`
	Type      string   `json:"type"` // always "reasoning"
	Text      string   `json:"text"`
	Time      PartTime `json:"time,omitempty"`
}

func (p *ReasoningPart) PartType() string      { return "reasoning" }
func (p *ReasoningPart) PartID() string        { return p.ID }
func (p *ReasoningPart) PartSessionID() string { return p.SessionID }
func (p *ReasoningPart) PartMessageID() string { return p.MessageID }

// ToolPart represents one tool call and its eventual result: the single
// place that tracks a tool invocation's lifecycle from request through
// a permission gate to completion or failure.
type ToolPart struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionID"`
	MessageID  string         `json:"messageID"`
	Type       string         `json:"type"` // always "tool"
	ToolCallID string         `json:"toolCallID"`
	ToolName   string         `json:"toolName"` // qualified: extension__tool
	Input      map[string]any `json:"input"`
	State      string         `json:"state"` // "pending" | "running" | "completed" | "error" | "denied"
	Output     *string        `json:"output,omitempty"`
	Error      *string        `json:"error,omitempty"`
	Title      *string        `json:"title,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Time       PartTime       `json:"time,omitempty"`
}

func (p *ToolPart) PartType() string      { return "tool" }
func (p *ToolPart) PartID() string        { return p.ID }
func (p *ToolPart) PartSessionID() string { return p.SessionID }
func (p *ToolPart) PartMessageID() string { return p.MessageID }

// FilePart represents a file attachment: an ACP "image" block when
// MediaType is an image/* type, otherwise an embedded "resource" block.
type FilePart struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionID"`
	MessageID string `json:"messageID"`
	Type      string `json:"type"` // always "file"
	Filename  string `json:"filename"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
}

func (p *FilePart) PartType() string      { return "file" }
func (p *FilePart) PartID() string        { return p.ID }
func (p *FilePart) PartSessionID() string { return p.SessionID }
func (p *FilePart) PartMessageID() string { return p.MessageID }

// RawPart is used for JSON unmarshaling of parts of unknown concrete type.
type RawPart struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// UnmarshalPart unmarshals a JSON part into its concrete type.
func UnmarshalPart(data []byte) (Part, error) {
	var raw RawPart
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	switch raw.Type {
	case "text":
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "reasoning":
		var p ReasoningPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "tool":
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case "file":
		var p FilePart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		var p TextPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	}
}

// ContentBlock is the wire shape of one ACP content block, as sent in
// prompt requests and session/update notifications. Exactly one of
// Text/Data/URI is populated, selected by Kind.
type ContentBlock struct {
	Kind     string `json:"kind"` // "text" | "image" | "resource"
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"` // base64, when Kind == "image"
	URI      string `json:"uri,omitempty"`  // when Kind == "resource"
	MimeType string `json:"mimeType,omitempty"`
}

// ToContentBlock renders a part as the ACP content block a client would
// receive in a session/update notification. ToolPart has no content
// block representation of its own; callers emit a dedicated tool-call
// update instead.
func ToContentBlock(p Part) *ContentBlock {
	switch v := p.(type) {
	case *TextPart:
		return &ContentBlock{Kind: "text", Text: v.Text}
	case *FilePart:
		if len(v.MediaType) >= 6 && v.MediaType[:6] == "image/" {
			return &ContentBlock{Kind: "image", Data: v.URL, MimeType: v.MediaType}
		}
		return &ContentBlock{Kind: "resource", URI: v.URL, MimeType: v.MediaType}
	default:
		return nil
	}
}
