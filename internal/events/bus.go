// ABOUTME: In-memory fan-out bus for conversation events
// ABOUTME: Lifecycle auto-shutdown and other observers subscribe to the whole feed

package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jmandel/banterop-bridge/internal/convo"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Type categorizes a conversation event.
type Type string

const (
	// TypeMessage is emitted for every message posted to a conversation,
	// carrying the send's finality.
	TypeMessage Type = "message"
	// TypeStatus is emitted when a conversation's status changes without
	// an accompanying message (e.g. a tick-driven refresh observed one).
	TypeStatus Type = "status"
)

// Event is one entry on the conversation feed.
type Event struct {
	Type           Type
	Finality       convo.Finality // only meaningful for TypeMessage
	ConversationID string
	State          convo.State // only meaningful for TypeStatus
}

// Bus provides in-process pub/sub over conversation events. Subscribers
// receive every published event; a subscriber whose buffer is full has
// events dropped rather than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	logger      *slog.Logger
}

// NewBus creates a bus. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "events"),
	}
}

// SubscribeAll registers a subscriber for the entire feed. Returns the
// event channel and a subscription ID for Unsubscribe. The subscription is
// cleaned up automatically when ctx is cancelled.
func (b *Bus) SubscribeAll(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers an event to every subscriber. Non-blocking: events are
// dropped for subscribers whose channels are full.
func (b *Bus) Publish(event Event) {
	// Send while holding the read lock. Unsubscribe and Close take the
	// write lock before closing a channel, so no send can race a close.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"conversation_id", event.ConversationID,
				"type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the bus and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("bus closed")
}
