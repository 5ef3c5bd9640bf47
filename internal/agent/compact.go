package agent

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/agentcore-run/acpcore/internal/event"
	"github.com/agentcore-run/acpcore/internal/provider"
)

// MaxContextTokens triggers compaction once the running estimate of the
// conversation exceeds it.
const MaxContextTokens = 150000

// CompactRetainCount is the number of most recent non-system messages kept
// verbatim after compaction (see DESIGN.md for why 10 was chosen).
const CompactRetainCount = 10

const compactionSystemPrompt = `You are a conversation summarizer. Create a concise summary of the conversation that preserves key context for continuing the discussion.

Focus on:
1. What was accomplished
2. Current work in progress
3. Files involved
4. Next steps
5. Any key user requests or constraints

Be concise but detailed enough that work can continue seamlessly.`

func shouldCompact(messages []*schema.Message) bool {
	total := 0
	for _, m := range messages {
		total += estimateTokens(m.Content)
	}
	return total > MaxContextTokens
}

// compact summarizes every message but the leading system prompt and the
// last CompactRetainCount messages into a single model-generated summary,
// then replaces the Loop's history with the system prompt, a system-role
// summary message, and the retained messages. The summarized messages are
// removed from the history; they are not kept alongside the summary.
func (l *Loop) compact(ctx context.Context) error {
	l.mu.Lock()
	messages := l.messages
	l.mu.Unlock()

	var system *schema.Message
	rest := messages
	if len(messages) > 0 && messages[0].Role == schema.System {
		system = messages[0]
		rest = messages[1:]
	}
	if len(rest) <= CompactRetainCount {
		return nil
	}

	cut := len(rest) - CompactRetainCount
	toCompact := rest[:cut]
	retained := rest[cut:]

	event.Publish(event.Event{
		Type: event.CompactionStarted,
		Data: event.CompactionData{SessionID: l.SessionID},
	})

	summary, err := l.summarize(ctx, toCompact)
	if err != nil {
		event.Publish(event.Event{
			Type: event.CompactionEnded,
			Data: event.CompactionData{SessionID: l.SessionID},
		})
		return fmt.Errorf("compact: %w", err)
	}

	summaryMsg := &schema.Message{
		Role:    schema.System,
		Content: "Earlier conversation summary:\n" + summary,
	}

	out := make([]*schema.Message, 0, len(retained)+2)
	if system != nil {
		out = append(out, system)
	}
	out = append(out, summaryMsg)
	out = append(out, retained...)

	l.mu.Lock()
	l.messages = out
	l.mu.Unlock()

	event.Publish(event.Event{
		Type: event.CompactionEnded,
		Data: event.CompactionData{SessionID: l.SessionID, RetainedCount: len(retained)},
	})
	return nil
}

func (l *Loop) summarize(ctx context.Context, messages []*schema.Message) (string, error) {
	var prompt strings.Builder
	prompt.WriteString("Please summarize the following conversation, focusing on:\n")
	prompt.WriteString("1. Key decisions and outcomes\n")
	prompt.WriteString("2. Tools invoked and their results\n")
	prompt.WriteString("3. Important context for continuing the work\n\n---\n\n")
	for _, m := range messages {
		switch m.Role {
		case schema.User:
			prompt.WriteString("USER:\n")
		case schema.Tool:
			prompt.WriteString("TOOL:\n")
		default:
			prompt.WriteString("ASSISTANT:\n")
		}
		prompt.WriteString(m.Content)
		prompt.WriteString("\n\n")
	}

	stream, err := l.Provider.CreateCompletion(ctx, &provider.CompletionRequest{
		Model: l.ModelID,
		Messages: []*schema.Message{
			{Role: schema.System, Content: compactionSystemPrompt},
			{Role: schema.User, Content: prompt.String()},
		},
		MaxTokens: 2000,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var summary strings.Builder
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		summary.WriteString(msg.Content)
	}
	return summary.String(), nil
}
