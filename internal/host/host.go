// ABOUTME: In-memory supervisor for agent workers bound to conversations
// ABOUTME: Holds no durable state - rebuilt from the registry after restart

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrClosed indicates the host has been shut down.
var ErrClosed = errors.New("host closed")

// Runner runs one agent worker. Run blocks until the worker finishes or
// ctx is cancelled; the host cancels ctx to stop the worker.
type Runner interface {
	Run(ctx context.Context, conversationID, agentID string) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, conversationID, agentID string) error

func (f RunnerFunc) Run(ctx context.Context, conversationID, agentID string) error {
	return f(ctx, conversationID, agentID)
}

// WorkerInfo describes one supervised worker.
type WorkerInfo struct {
	AgentID   string
	StartedAt time.Time
	Running   bool
}

// worker tracks a single running agent goroutine.
type worker struct {
	agentID   string
	startedAt time.Time
	exited    atomic.Bool
}

// group holds every worker for one conversation. Stopping is
// all-or-nothing: the group context is shared, so cancelling it stops the
// whole conversation's workers at once.
type group struct {
	cancel  context.CancelFunc
	eg      *errgroup.Group
	workers map[string]*worker
	start   func(*worker)
}

// Host starts, lists, and stops agent workers per conversation.
type Host struct {
	runner Runner
	logger *slog.Logger

	mu            sync.Mutex
	conversations map[string]*group
	closed        bool
}

// New creates a host that starts workers with the given runner.
func New(runner Runner, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		runner:        runner,
		logger:        logger.With("component", "host"),
		conversations: make(map[string]*group),
	}
}

// Ensure starts whichever of agentIDs are not already running for the
// conversation. Already-running workers are left alone. Returns the
// conversation's runtime listing after the starts.
func (h *Host) Ensure(ctx context.Context, conversationID string, agentIDs []string) ([]WorkerInfo, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("conversation_id is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	g, ok := h.conversations[conversationID]
	if !ok {
		// Workers outlive the Ensure call, so the group context derives
		// from the background context, not from ctx.
		gctx, cancel := context.WithCancel(context.Background())
		g = &group{
			cancel:  cancel,
			eg:      &errgroup.Group{},
			workers: make(map[string]*worker),
		}
		h.conversations[conversationID] = g
		// Keep gctx reachable for the workers started below. Run errors
		// are logged here, not surfaced through the group: a worker that
		// crashed is a fact for List and a later Ensure, not a Stop
		// failure.
		g.start = func(w *worker) {
			g.eg.Go(func() error {
				err := h.runner.Run(gctx, conversationID, w.agentID)
				w.exited.Store(true)
				if err != nil && !errors.Is(err, context.Canceled) {
					h.logger.Error("worker exited with error",
						"conversation_id", conversationID,
						"agent_id", w.agentID,
						"error", err)
					return nil
				}
				h.logger.Debug("worker exited",
					"conversation_id", conversationID,
					"agent_id", w.agentID)
				return nil
			})
		}
	}

	for _, agentID := range agentIDs {
		if agentID == "" {
			return nil, fmt.Errorf("agent_id is required")
		}
		// An exited worker counts as not running: replace it so a crashed
		// agent can be revived without restarting the whole conversation.
		if existing, ok := g.workers[agentID]; ok && !existing.exited.Load() {
			continue
		}
		w := &worker{agentID: agentID, startedAt: time.Now()}
		g.workers[agentID] = w
		g.start(w)
		h.logger.Info("worker started",
			"conversation_id", conversationID,
			"agent_id", agentID)
	}

	return g.listLocked(), nil
}

// Stop stops every worker for the conversation and waits for them to exit.
// There is no partial stop: the group shares one context. Worker run
// errors were already logged when the worker exited and do not fail Stop.
func (h *Host) Stop(conversationID string) error {
	h.mu.Lock()
	g, ok := h.conversations[conversationID]
	if ok {
		delete(h.conversations, conversationID)
	}
	h.mu.Unlock()

	if !ok {
		return nil
	}

	g.cancel()
	_ = g.eg.Wait()
	h.logger.Info("workers stopped", "conversation_id", conversationID)
	return nil
}

// List returns runtime info for the conversation's workers, ordered by
// agent start time.
func (h *Host) List(conversationID string) []WorkerInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.conversations[conversationID]
	if !ok {
		return nil
	}
	return g.listLocked()
}

// Conversations returns the IDs of every conversation with workers.
func (h *Host) Conversations() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.conversations))
	for id := range h.conversations {
		ids = append(ids, id)
	}
	return ids
}

// Close stops every conversation's workers and marks the host closed.
func (h *Host) Close() error {
	h.mu.Lock()
	h.closed = true
	groups := make(map[string]*group, len(h.conversations))
	for id, g := range h.conversations {
		groups[id] = g
		delete(h.conversations, id)
	}
	h.mu.Unlock()

	for _, g := range groups {
		g.cancel()
		_ = g.eg.Wait()
	}
	return nil
}

func (g *group) listLocked() []WorkerInfo {
	infos := make([]WorkerInfo, 0, len(g.workers))
	for _, w := range g.workers {
		infos = append(infos, WorkerInfo{
			AgentID:   w.agentID,
			StartedAt: w.startedAt,
			Running:   !w.exited.Load(),
		})
	}
	return infos
}
