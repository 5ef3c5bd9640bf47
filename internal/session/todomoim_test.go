package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore-run/acpcore/internal/storage"
	"github.com/agentcore-run/acpcore/pkg/types"
)

func TestTodoMoim_TopOfMind_Empty(t *testing.T) {
	store := storage.New(t.TempDir())
	m := &todoMoim{store: store}

	text, err := m.TopOfMind(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestTodoMoim_TopOfMind_NilStore(t *testing.T) {
	m := &todoMoim{}
	text, err := m.TopOfMind(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestTodoMoim_TopOfMind_ListsTodos(t *testing.T) {
	store := storage.New(t.TempDir())
	ctx := context.Background()
	require.NoError(t, UpdateTodos(ctx, store, "sess-1", []types.TodoInfo{
		{ID: "1", Content: "write tests", Status: "in_progress"},
		{ID: "2", Content: "ship it", Status: "pending"},
	}))

	m := &todoMoim{store: store}
	text, err := m.TopOfMind(ctx, "sess-1")
	require.NoError(t, err)
	assert.Contains(t, text, "write tests")
	assert.Contains(t, text, "ship it")
	assert.Contains(t, text, "in_progress")
}
