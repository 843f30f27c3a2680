// ABOUTME: The four-method transport adapter contract both protocol bridges satisfy
// ABOUTME: Callers never branch on which wire protocol backs a conversation

package convo

import (
	"context"
	"errors"
)

// ErrConversationEnded is returned by Send once a conversation has reached
// a terminal state. Cancel remains allowed on ended conversations.
var ErrConversationEnded = errors.New("conversation ended")

// SendOptions carries the optional per-send directives.
type SendOptions struct {
	// TaskID continues an existing conversation; empty starts a new one.
	TaskID string
	// MessageID is the caller-supplied ID for the outgoing message. When
	// empty the adapter generates one.
	MessageID string
	// Finality defaults to FinalityNone.
	Finality Finality
}

// SendResult is the outcome of a Send: the conversation identity (newly
// assigned or echoed back) and a fresh snapshot reflecting the send.
type SendResult struct {
	TaskID   string
	Snapshot *Snapshot
}

// Adapter is the uniform surface over one wire protocol for one
// conversation source. Send calls against a single adapter instance must
// not be pipelined concurrently; adapters for different conversations are
// fully independent.
type Adapter interface {
	// Send posts a message and advances the conversation.
	Send(ctx context.Context, parts []Part, opts SendOptions) (*SendResult, error)

	// Snapshot returns the current view of the conversation, or nil when
	// no conversation exists yet for this adapter.
	Snapshot(ctx context.Context, taskID string) (*Snapshot, error)

	// Cancel ends the conversation. It is idempotent and is the only
	// operation permitted once the conversation is terminal.
	Cancel(ctx context.Context, taskID string) error

	// Ticks returns a change-notification stream for the conversation.
	// The channel closes when ctx is cancelled or the stream naturally
	// ends; after ctx fires no further network calls are issued.
	Ticks(ctx context.Context, taskID string) (<-chan struct{}, error)
}
