// Package provider provides LLM provider abstraction using Eino framework.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/agentcore-run/acpcore/pkg/types"
)

// Provider represents an LLM provider with Eino ChatModel.
type Provider interface {
	// ID returns the provider identifier.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the list of available models.
	Models() []types.Model

	// ChatModel returns the Eino ChatModel for this provider.
	ChatModel() model.ToolCallingChatModel

	// CreateCompletion creates a streaming completion.
	CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error)

	// Metadata returns the provider's static description: display name,
	// default model, known model list, and required configuration keys.
	Metadata() Metadata
}

// Metadata statically describes a provider for configuration surfaces.
type Metadata struct {
	Name         string
	DefaultModel string
	KnownModels  []string
	ConfigKeys   []ConfigKey
}

// ConfigKey names one configuration value a provider reads at construction.
type ConfigKey struct {
	Name     string
	Secret   bool
	Required bool
	Default  string
}

// Usage is the token tally emitted at stream end, used for context-window
// accounting.
type Usage struct {
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
	Model        string `json:"model"`
}

// Complete runs a single-shot completion by draining a stream into one
// assistant message plus its usage tally, for callers that want the whole
// answer rather than individual deltas.
func Complete(ctx context.Context, p Provider, req *CompletionRequest) (*schema.Message, *Usage, error) {
	stream, err := p.CreateCompletion(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	defer stream.Close()

	var content strings.Builder
	var toolCalls []schema.ToolCall
	usage := &Usage{Model: req.Model}
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		content.WriteString(msg.Content)
		toolCalls = append(toolCalls, msg.ToolCalls...)
		if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
			usage.InputTokens = msg.ResponseMeta.Usage.PromptTokens
			usage.OutputTokens = msg.ResponseMeta.Usage.CompletionTokens
			usage.TotalTokens = msg.ResponseMeta.Usage.TotalTokens
		}
	}
	return &schema.Message{Role: schema.Assistant, Content: content.String(), ToolCalls: toolCalls}, usage, nil
}

// CompletionRequest represents a request to generate a completion.
type CompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	Tools       []*schema.ToolInfo `json:"tools,omitempty"`
	MaxTokens   int               `json:"maxTokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	TopP        float64           `json:"topP,omitempty"`
	StopWords   []string          `json:"stopWords,omitempty"`
}

// CompletionStream wraps an Eino stream reader.
type CompletionStream struct {
	reader *schema.StreamReader[*schema.Message]
}

// NewCompletionStream creates a new completion stream.
func NewCompletionStream(reader *schema.StreamReader[*schema.Message]) *CompletionStream {
	return &CompletionStream{reader: reader}
}

// Recv receives the next message chunk from the stream.
func (s *CompletionStream) Recv() (*schema.Message, error) {
	return s.reader.Recv()
}

// Close closes the stream.
func (s *CompletionStream) Close() {
	s.reader.Close()
}

// ToolInfo represents a tool definition for the LLM.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// ConvertToEinoTools converts internal tool definitions to Eino format.
func ConvertToEinoTools(tools []ToolInfo) []*schema.ToolInfo {
	result := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		// Parse parameters from JSON schema
		var params map[string]*schema.ParameterInfo
		if len(t.Parameters) > 0 {
			params = parseJSONSchemaToParams(t.Parameters)
		}

		result[i] = &schema.ToolInfo{
			Name: t.Name,
			Desc: t.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		}
	}
	return result
}

// parseJSONSchemaToParams converts JSON Schema to Eino ParameterInfo.
func parseJSONSchemaToParams(schemaJSON json.RawMessage) map[string]*schema.ParameterInfo {
	var jsonSchema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}

	if err := json.Unmarshal(schemaJSON, &jsonSchema); err != nil {
		return nil
	}

	requiredSet := make(map[string]bool)
	for _, r := range jsonSchema.Required {
		requiredSet[r] = true
	}

	params := make(map[string]*schema.ParameterInfo)
	for name, prop := range jsonSchema.Properties {
		paramType := schema.String
		switch prop.Type {
		case "integer":
			paramType = schema.Integer
		case "number":
			paramType = schema.Number
		case "boolean":
			paramType = schema.Boolean
		case "array":
			paramType = schema.Array
		case "object":
			paramType = schema.Object
		}

		params[name] = &schema.ParameterInfo{
			Type:     paramType,
			Desc:     prop.Description,
			Required: requiredSet[name],
		}
	}

	return params
}

// ConvertFromEinoMessage converts one Eino message into the persisted
// Message/Part representation: the envelope row plus one part per content
// span, reasoning block, or tool call. Part ids are derived from messageID
// so re-persisting the same conversation stays stable.
func ConvertFromEinoMessage(msg *schema.Message, sessionID, messageID string) (*types.Message, []types.Part) {
	role := "assistant"
	if msg.Role == schema.User {
		role = "user"
	} else if msg.Role == schema.System {
		role = "system"
	} else if msg.Role == schema.Tool {
		role = "tool"
	}

	m := &types.Message{
		ID:        messageID,
		SessionID: sessionID,
		Role:      role,
		Time:      types.MessageTime{Created: time.Now().UnixMilli()},
	}

	var parts []types.Part
	n := 0
	nextID := func() string {
		n++
		return fmt.Sprintf("%s-p%d", messageID, n)
	}

	if msg.ReasoningContent != "" {
		parts = append(parts, &types.ReasoningPart{
			ID:        nextID(),
			SessionID: sessionID,
			MessageID: messageID,
			Type:      "reasoning",
			Text:      msg.ReasoningContent,
		})
	}

	if msg.Role == schema.Tool {
		// A tool-role message is the result half of a call: its content is
		// the tool output, keyed back to the request by ToolCallID.
		output := msg.Content
		parts = append(parts, &types.ToolPart{
			ID:         nextID(),
			SessionID:  sessionID,
			MessageID:  messageID,
			Type:       "tool",
			ToolCallID: msg.ToolCallID,
			State:      "completed",
			Output:     &output,
		})
		return m, parts
	}

	if msg.Content != "" {
		parts = append(parts, &types.TextPart{
			ID:        nextID(),
			SessionID: sessionID,
			MessageID: messageID,
			Type:      "text",
			Text:      msg.Content,
		})
	}
	for _, tc := range msg.ToolCalls {
		var input map[string]any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		parts = append(parts, &types.ToolPart{
			ID:         nextID(),
			SessionID:  sessionID,
			MessageID:  messageID,
			Type:       "tool",
			ToolCallID: tc.ID,
			ToolName:   tc.Function.Name,
			Input:      input,
			State:      "completed",
		})
	}
	return m, parts
}

// ConvertToEinoMessages converts persisted messages back to Eino format,
// the inverse of ConvertFromEinoMessage: text parts concatenate into
// content, tool parts on an assistant message become tool calls, and the
// tool part on a tool-role message restores the result's ToolCallID.
func ConvertToEinoMessages(messages []*types.Message, parts map[string][]types.Part) []*schema.Message {
	result := make([]*schema.Message, 0, len(messages))

	for _, msg := range messages {
		role := schema.Assistant
		switch msg.Role {
		case "user":
			role = schema.User
		case "system":
			role = schema.System
		case "tool":
			role = schema.Tool
		}

		content := ""
		reasoning := ""
		toolCallID := ""
		var toolCalls []schema.ToolCall

		if msgParts, ok := parts[msg.ID]; ok {
			for _, part := range msgParts {
				switch p := part.(type) {
				case *types.TextPart:
					content += p.Text
				case *types.ReasoningPart:
					reasoning += p.Text
				case *types.ToolPart:
					if role == schema.Tool {
						toolCallID = p.ToolCallID
						if p.Output != nil {
							content += *p.Output
						}
						continue
					}
					inputJSON, _ := json.Marshal(p.Input)
					toolCalls = append(toolCalls, schema.ToolCall{
						ID: p.ToolCallID,
						Function: schema.FunctionCall{
							Name:      p.ToolName,
							Arguments: string(inputJSON),
						},
					})
				}
			}
		}

		result = append(result, &schema.Message{
			Role:             role,
			Content:          content,
			ReasoningContent: reasoning,
			ToolCallID:       toolCallID,
			ToolCalls:        toolCalls,
		})
	}

	return result
}
