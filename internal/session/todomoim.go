package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentcore-run/acpcore/internal/storage"
)

// todoMoim implements extension.MoimSource: it surfaces a session's
// current todo list as top-of-mind text injected into every turn's
// system prompt, so the model sees its own plan without needing to call
// a tool to re-read it.
type todoMoim struct {
	store *storage.Storage
}

func (t *todoMoim) TopOfMind(ctx context.Context, sessionID string) (string, error) {
	if t.store == nil {
		return "", nil
	}
	todos, err := GetTodos(ctx, t.store, sessionID)
	if err != nil || len(todos) == 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString("Current todo list:\n")
	for _, item := range todos {
		sb.WriteString(fmt.Sprintf("- [%s] %s\n", item.Status, item.Content))
	}
	return sb.String(), nil
}
