// ABOUTME: Orchestrates the durable registry and the in-memory host
// ABOUTME: Registry mutations always precede host actions so intent is never understated

package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmandel/banterop-bridge/internal/convo"
	"github.com/jmandel/banterop-bridge/internal/events"
	"github.com/jmandel/banterop-bridge/internal/host"
	"github.com/jmandel/banterop-bridge/internal/registry"
)

// Host is what the manager needs from the worker supervisor.
type Host interface {
	Ensure(ctx context.Context, conversationID string, agentIDs []string) ([]host.WorkerInfo, error)
	Stop(conversationID string) error
	List(conversationID string) []host.WorkerInfo
	Conversations() []string
}

// EventSource is the conversation feed the auto-shutdown rule subscribes to.
type EventSource interface {
	SubscribeAll(ctx context.Context) (<-chan events.Event, string)
	Unsubscribe(subID string)
}

// Manager composes the registry (authoritative intent) and the host
// (runtime cache). Every mutation is register-then-start or
// unregister-then-stop, so a registry observer always sees an upper bound
// on what should be running.
type Manager struct {
	registry registry.Registry
	host     Host
	logger   *slog.Logger

	mu      sync.Mutex
	source  EventSource
	subID   string
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// New creates a lifecycle manager. Pass nil logger for default.
func New(reg registry.Registry, h Host, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: reg,
		host:     h,
		logger:   logger.With("component", "lifecycle"),
	}
}

// Ensure durably registers the agent IDs, then asks the host to start any
// that are not already running. Idempotent at both layers. Returns the
// host's runtime listing for the conversation.
func (m *Manager) Ensure(ctx context.Context, conversationID string, agentIDs []string) ([]host.WorkerInfo, error) {
	if len(agentIDs) == 0 {
		return nil, fmt.Errorf("at least one agent_id is required")
	}

	if err := m.registry.Register(ctx, conversationID, agentIDs); err != nil {
		return nil, fmt.Errorf("registering agents: %w", err)
	}

	infos, err := m.host.Ensure(ctx, conversationID, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("starting agents: %w", err)
	}

	m.logger.Info("agents ensured",
		"conversation_id", conversationID,
		"agent_ids", agentIDs)
	return infos, nil
}

// Stop unregisters the given agent IDs (or all, when none are supplied)
// and stops their workers. The host can only stop a conversation's workers
// wholesale, so a partial stop is implemented as: unregister the removed
// IDs, stop everything, then re-ensure whatever remains registered. The
// ordering matters - unregistering first means a removed agent can never
// be restarted by the re-ensure, at the cost of briefly interrupting the
// survivors.
func (m *Manager) Stop(ctx context.Context, conversationID string, agentIDs ...string) error {
	if err := m.registry.Unregister(ctx, conversationID, agentIDs...); err != nil {
		return fmt.Errorf("unregistering agents: %w", err)
	}

	if err := m.host.Stop(conversationID); err != nil {
		return fmt.Errorf("stopping workers: %w", err)
	}

	if len(agentIDs) == 0 {
		m.logger.Info("conversation stopped", "conversation_id", conversationID)
		return nil
	}

	remaining, err := m.registry.ListConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("listing remaining agents: %w", err)
	}
	if len(remaining) > 0 {
		if _, err := m.host.Ensure(ctx, conversationID, remaining); err != nil {
			return fmt.Errorf("restarting remaining agents: %w", err)
		}
	}

	m.logger.Info("agents stopped",
		"conversation_id", conversationID,
		"agent_ids", agentIDs,
		"remaining", remaining)
	return nil
}

// ResumeAll reads every registered pair and ensures its workers are
// running. Called once at process startup; this is the sole recovery path
// after a crash or redeploy.
func (m *Manager) ResumeAll(ctx context.Context) error {
	regs, err := m.registry.ListRegistered(ctx)
	if err != nil {
		return fmt.Errorf("listing registrations: %w", err)
	}

	for _, reg := range regs {
		if _, err := m.host.Ensure(ctx, reg.ConversationID, reg.AgentIDs); err != nil {
			return fmt.Errorf("resuming %s: %w", reg.ConversationID, err)
		}
		m.logger.Info("conversation resumed",
			"conversation_id", reg.ConversationID,
			"agent_ids", reg.AgentIDs)
	}
	return nil
}

// ClearOthers stops and unregisters every conversation except the one to
// keep. Used to bound local resource usage to a single active conversation.
func (m *Manager) ClearOthers(ctx context.Context, keepConversationID string) error {
	regs, err := m.registry.ListRegistered(ctx)
	if err != nil {
		return fmt.Errorf("listing registrations: %w", err)
	}

	targets := make(map[string]struct{})
	for _, reg := range regs {
		targets[reg.ConversationID] = struct{}{}
	}
	// Workers the host still runs for unregistered conversations go too.
	for _, id := range m.host.Conversations() {
		targets[id] = struct{}{}
	}
	delete(targets, keepConversationID)

	for id := range targets {
		if err := m.Stop(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Initialize subscribes the auto-shutdown rule to the conversation feed:
// any message event with conversation finality stops that conversation's
// agents. Handler errors are logged and swallowed - a failed auto-stop
// degrades to manual cleanup, it never destabilizes the feed.
func (m *Manager) Initialize(source EventSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("lifecycle manager already initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := source.SubscribeAll(ctx)

	m.source = source
	m.subID = subID
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true

	go m.watch(ctx, ch)

	m.logger.Debug("auto-shutdown subscribed", "sub_id", subID)
	return nil
}

// watch consumes the feed until the subscription closes.
func (m *Manager) watch(ctx context.Context, ch <-chan events.Event) {
	defer close(m.done)

	for ev := range ch {
		if ev.Type != events.TypeMessage || ev.Finality != convo.FinalityConversation {
			continue
		}
		if err := m.Stop(ctx, ev.ConversationID); err != nil {
			m.logger.Error("auto-shutdown failed",
				"conversation_id", ev.ConversationID,
				"error", err)
		} else {
			m.logger.Info("auto-shutdown complete",
				"conversation_id", ev.ConversationID)
		}
	}
}

// Shutdown unsubscribes from the feed and releases the handle. Safe to
// call multiple times, and before (or without) Initialize.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	source, subID, cancel, done := m.source, m.subID, m.cancel, m.done
	m.started = false
	m.source = nil
	m.subID = ""
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	cancel()
	source.Unsubscribe(subID)
	<-done

	m.logger.Debug("auto-shutdown unsubscribed")
}
