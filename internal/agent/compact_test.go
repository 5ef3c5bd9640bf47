package agent

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
)

func TestShouldCompact_BelowThresholdIsFalse(t *testing.T) {
	messages := []*schema.Message{
		{Role: schema.User, Content: "hello"},
		{Role: schema.Assistant, Content: "hi there"},
	}
	assert.False(t, shouldCompact(messages))
}

func TestShouldCompact_AboveThresholdIsTrue(t *testing.T) {
	// MaxContextTokens is 150000 at ~4 chars/token, so one message well
	// past that character count must trip compaction.
	big := strings.Repeat("x", (MaxContextTokens+1)*4)
	messages := []*schema.Message{{Role: schema.User, Content: big}}
	assert.True(t, shouldCompact(messages))
}

func TestShouldCompact_EmptyConversationIsFalse(t *testing.T) {
	assert.False(t, shouldCompact(nil))
}
