// ABOUTME: Tests for the SQLite registry
// ABOUTME: Verifies idempotency, subset unregister, and durability across reopen

package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRegistry(t *testing.T) (*SQLiteRegistry, string) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	r, err := NewSQLiteRegistry(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, dbPath
}

func TestRegistry_RegisterAndList(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "conv-1", []string{"agent-a", "agent-b"}))
	require.NoError(t, r.Register(ctx, "conv-2", []string{"agent-c"}))

	regs, err := r.ListRegistered(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.Equal(t, "conv-1", regs[0].ConversationID)
	assert.Equal(t, []string{"agent-a", "agent-b"}, regs[0].AgentIDs)
	assert.Equal(t, []string{"agent-c"}, regs[1].AgentIDs)
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "conv-1", []string{"agent-a"}))
	require.NoError(t, r.Register(ctx, "conv-1", []string{"agent-a"}))

	agents, err := r.ListConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a"}, agents)
}

func TestRegistry_UnregisterSubset(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "conv-1", []string{"agent-a", "agent-b", "agent-c"}))
	require.NoError(t, r.Unregister(ctx, "conv-1", "agent-b"))

	agents, err := r.ListConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent-a", "agent-c"}, agents)
}

func TestRegistry_UnregisterAll(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, "conv-1", []string{"agent-a", "agent-b"}))
	require.NoError(t, r.Unregister(ctx, "conv-1"))

	agents, err := r.ListConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestRegistry_UnregisterMissingIsSilent(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	assert.NoError(t, r.Unregister(ctx, "conv-never-seen"))
	assert.NoError(t, r.Unregister(ctx, "conv-never-seen", "agent-x"))
}

func TestRegistry_SurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "registry.db")
	ctx := context.Background()

	r1, err := NewSQLiteRegistry(dbPath, nil)
	require.NoError(t, err)
	require.NoError(t, r1.Register(ctx, "conv-1", []string{"agent-a", "agent-b"}))
	require.NoError(t, r1.Close())

	r2, err := NewSQLiteRegistry(dbPath, nil)
	require.NoError(t, err)
	defer r2.Close()

	regs, err := r2.ListRegistered(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, []string{"agent-a", "agent-b"}, regs[0].AgentIDs)
}

func TestRegistry_RejectsEmptyIDs(t *testing.T) {
	r, _ := createTestRegistry(t)
	ctx := context.Background()

	assert.Error(t, r.Register(ctx, "", []string{"agent-a"}))
	assert.Error(t, r.Register(ctx, "conv-1", []string{""}))
	assert.Error(t, r.Unregister(ctx, ""))
}
