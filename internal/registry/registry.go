// ABOUTME: Durable record of which agent workers should be running per conversation
// ABOUTME: The sole source of truth across restarts - the host's memory is just a cache

package registry

import (
	"context"
	"time"
)

// Registration pairs a conversation with the agent identities bound to it.
type Registration struct {
	ConversationID string
	AgentIDs       []string
}

// Entry is one durable (conversation, agent) row.
type Entry struct {
	ConversationID string
	AgentID        string
	CreatedAt      time.Time
}

// Registry records agent bindings durably. All operations are idempotent:
// registering an existing pair or unregistering a missing one is silent.
type Registry interface {
	// Register records each (conversationID, agentID) pair.
	Register(ctx context.Context, conversationID string, agentIDs []string) error

	// Unregister removes the given agent IDs from the conversation, or the
	// whole conversation when no IDs are supplied.
	Unregister(ctx context.Context, conversationID string, agentIDs ...string) error

	// ListRegistered returns every registration grouped by conversation.
	ListRegistered(ctx context.Context) ([]Registration, error)

	// ListConversation returns the agent IDs registered to one conversation.
	ListConversation(ctx context.Context, conversationID string) ([]string, error)
}
