// ABOUTME: Tests for the worker host
// ABOUTME: Verifies ensure-only-missing, all-or-nothing stop, and listing

package host

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner blocks until its context is cancelled and records starts.
type blockingRunner struct {
	mu     sync.Mutex
	starts []string
}

func (r *blockingRunner) Run(ctx context.Context, conversationID, agentID string) error {
	r.mu.Lock()
	r.starts = append(r.starts, conversationID+"/"+agentID)
	r.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (r *blockingRunner) started() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.starts...)
	sort.Strings(out)
	return out
}

func TestHost_EnsureStartsOnlyMissing(t *testing.T) {
	runner := &blockingRunner{}
	h := New(runner, nil)
	defer h.Close()

	ctx := context.Background()
	infos, err := h.Ensure(ctx, "conv-1", []string{"agent-a", "agent-b"})
	require.NoError(t, err)
	assert.Len(t, infos, 2)

	// Re-ensuring with an overlap starts only the new worker.
	infos, err = h.Ensure(ctx, "conv-1", []string{"agent-a", "agent-c"})
	require.NoError(t, err)
	assert.Len(t, infos, 3)

	assert.Equal(t, []string{"conv-1/agent-a", "conv-1/agent-b", "conv-1/agent-c"}, runner.started())
}

func TestHost_StopStopsWholeConversation(t *testing.T) {
	runner := &blockingRunner{}
	h := New(runner, nil)
	defer h.Close()

	ctx := context.Background()
	_, err := h.Ensure(ctx, "conv-1", []string{"agent-a", "agent-b"})
	require.NoError(t, err)
	_, err = h.Ensure(ctx, "conv-2", []string{"agent-c"})
	require.NoError(t, err)

	require.NoError(t, h.Stop("conv-1"))

	assert.Empty(t, h.List("conv-1"))
	assert.Len(t, h.List("conv-2"), 1, "other conversations untouched")
}

func TestHost_StopUnknownConversationIsSilent(t *testing.T) {
	h := New(&blockingRunner{}, nil)
	defer h.Close()

	assert.NoError(t, h.Stop("conv-never-seen"))
}

func TestHost_ListReflectsExitedWorkers(t *testing.T) {
	exit := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, conversationID, agentID string) error {
		<-exit
		return nil
	})
	h := New(runner, nil)
	defer h.Close()

	_, err := h.Ensure(context.Background(), "conv-1", []string{"agent-a"})
	require.NoError(t, err)

	infos := h.List("conv-1")
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Running)

	close(exit)
	assert.Eventually(t, func() bool {
		infos := h.List("conv-1")
		return len(infos) == 1 && !infos[0].Running
	}, time.Second, 10*time.Millisecond)
}

func TestHost_EnsureRestartsExitedWorker(t *testing.T) {
	var mu sync.Mutex
	starts := 0
	runner := RunnerFunc(func(ctx context.Context, conversationID, agentID string) error {
		mu.Lock()
		starts++
		mu.Unlock()
		return nil
	})
	h := New(runner, nil)
	defer h.Close()

	ctx := context.Background()
	_, err := h.Ensure(ctx, "conv-1", []string{"agent-a"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		infos := h.List("conv-1")
		return len(infos) == 1 && !infos[0].Running
	}, time.Second, 10*time.Millisecond)

	infos, err := h.Ensure(ctx, "conv-1", []string{"agent-a"})
	require.NoError(t, err)
	require.Len(t, infos, 1)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return starts == 2
	}, time.Second, 10*time.Millisecond, "exited worker should be started again")
}

func TestHost_StopIgnoresWorkerRunErrors(t *testing.T) {
	runner := RunnerFunc(func(ctx context.Context, conversationID, agentID string) error {
		return errors.New("agent endpoint unreachable")
	})
	h := New(runner, nil)
	defer h.Close()

	_, err := h.Ensure(context.Background(), "conv-1", []string{"agent-a"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		infos := h.List("conv-1")
		return len(infos) == 1 && !infos[0].Running
	}, time.Second, 10*time.Millisecond)

	assert.NoError(t, h.Stop("conv-1"), "run errors are logged, not returned by Stop")
}

func TestHost_CloseRejectsFurtherEnsures(t *testing.T) {
	h := New(&blockingRunner{}, nil)
	_, err := h.Ensure(context.Background(), "conv-1", []string{"agent-a"})
	require.NoError(t, err)

	require.NoError(t, h.Close())

	_, err = h.Ensure(context.Background(), "conv-1", []string{"agent-b"})
	assert.ErrorIs(t, err, ErrClosed)
}
