// ABOUTME: Host runner that drives one transport adapter per (conversation, agent) pair
// ABOUTME: Consumes tick streams, re-fetches snapshots, and republishes status events

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmandel/banterop-bridge/internal/config"
	"github.com/jmandel/banterop-bridge/internal/convo"
	"github.com/jmandel/banterop-bridge/internal/events"
	"github.com/jmandel/banterop-bridge/internal/taskbridge"
	"github.com/jmandel/banterop-bridge/internal/toolbridge"
)

// tickRetryInterval paces re-establishing a tick stream after it ends
// without the conversation being over, or before one can be opened.
const tickRetryInterval = 5 * time.Second

// conversationRunner satisfies the host's Runner contract. Each worker owns
// one adapter, keyed by its (conversation, agent) pair, so a resumed worker
// after restart rebuilds its adapter from the roster.
type conversationRunner struct {
	roster *config.Roster
	bridge config.BridgeConfig
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.Mutex
	adapters map[string]convo.Adapter
}

func newConversationRunner(roster *config.Roster, bridge config.BridgeConfig, bus *events.Bus, logger *slog.Logger) *conversationRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &conversationRunner{
		roster:   roster,
		bridge:   bridge,
		bus:      bus,
		logger:   logger.With("component", "runner"),
		adapters: make(map[string]convo.Adapter),
	}
}

// Run blocks until ctx fires or the conversation reaches a terminal state.
func (r *conversationRunner) Run(ctx context.Context, conversationID, agentID string) error {
	adapter, err := r.adapterFor(conversationID, agentID)
	if err != nil {
		return err
	}

	logger := r.logger.With("conversation_id", conversationID, "agent_id", agentID)
	logger.Info("worker started")
	defer logger.Info("worker stopped")

	for {
		terminal, err := r.watch(ctx, adapter, conversationID, logger)
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}
		// The stream ended without a terminal state. Wait and reopen;
		// a tool-protocol adapter has no stream before its first send.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(tickRetryInterval):
		}
	}
}

// watch consumes one tick stream to exhaustion. Returns true when the
// conversation is terminal and the worker should exit.
func (r *conversationRunner) watch(ctx context.Context, adapter convo.Adapter, conversationID string, logger *slog.Logger) (bool, error) {
	ticks, err := adapter.Ticks(ctx, conversationID)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		logger.Debug("no tick stream yet", "error", err)
		return false, nil
	}

	for {
		select {
		case <-ctx.Done():
			return false, nil
		case _, ok := <-ticks:
			if !ok {
				snap, err := adapter.Snapshot(ctx, conversationID)
				if err != nil || snap == nil {
					return false, nil
				}
				return snap.Terminal(), nil
			}
		}

		snap, err := adapter.Snapshot(ctx, conversationID)
		if err != nil {
			logger.Warn("snapshot fetch failed", "error", err)
			continue
		}
		if snap == nil {
			continue
		}

		logger.Debug("conversation advanced",
			"state", snap.Status.State,
			"messages", len(snap.History)+1)

		r.bus.Publish(events.Event{
			Type:           events.TypeStatus,
			ConversationID: conversationID,
			State:          snap.Status.State,
		})

		if snap.Terminal() {
			return true, nil
		}
	}
}

// adapterFor returns the pair's adapter, building it from the roster on
// first use.
func (r *conversationRunner) adapterFor(conversationID, agentID string) (convo.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := conversationID + "/" + agentID
	if adapter, ok := r.adapters[key]; ok {
		return adapter, nil
	}

	entry := r.roster.Lookup(agentID)
	if entry == nil {
		return nil, fmt.Errorf("agent %q not in roster", agentID)
	}

	var adapter convo.Adapter
	switch entry.Protocol {
	case config.ProtocolTask:
		client := taskbridge.NewHTTPClient(taskbridge.HTTPConfig{
			Endpoint:     entry.Endpoint,
			PollInterval: r.bridge.TaskPollInterval,
		}, r.logger)
		adapter = taskbridge.New(client, r.bus, r.logger)
	case config.ProtocolTool:
		client := toolbridge.NewHTTPClient(toolbridge.HTTPConfig{
			Endpoint: entry.Endpoint,
		}, r.logger)
		adapter = toolbridge.New(client, r.bus, toolbridge.Options{
			PollWait:     r.bridge.ToolPollWait,
			ErrorBackoff: r.bridge.ErrorBackoff,
		}, r.logger)
	default:
		return nil, fmt.Errorf("agent %q: unknown protocol %q", agentID, entry.Protocol)
	}

	r.adapters[key] = adapter
	return adapter, nil
}
