// ABOUTME: Immutable point-in-time view of one conversation
// ABOUTME: Constructor enforces the status-message/history deduplication invariants

package convo

import "fmt"

// Snapshot identifies one conversation: its ID, current status, and message
// history ordered oldest to newest. The tail of History may be truncated by
// the source protocol. Snapshots are never mutated after construction.
type Snapshot struct {
	ID      string    `json:"id"`
	Status  Status    `json:"status"`
	History []Message `json:"history,omitempty"`
}

// NewSnapshot builds a snapshot, rejecting shapes that violate the model:
// a history entry sharing the status message's ID, or any message ID
// appearing in history twice. The history slice is copied so the snapshot
// does not alias caller-owned storage.
func NewSnapshot(id string, status Status, history []Message) (*Snapshot, error) {
	if id == "" {
		return nil, fmt.Errorf("snapshot requires a conversation id")
	}
	seen := make(map[string]struct{}, len(history))
	for _, msg := range history {
		if msg.MessageID == "" {
			return nil, fmt.Errorf("history message without message ID")
		}
		if _, dup := seen[msg.MessageID]; dup {
			return nil, fmt.Errorf("message %s appears twice in history", msg.MessageID)
		}
		seen[msg.MessageID] = struct{}{}
	}
	if status.Message != nil {
		if _, dup := seen[status.Message.MessageID]; dup {
			return nil, fmt.Errorf("status message %s duplicated in history", status.Message.MessageID)
		}
	}
	snap := &Snapshot{
		ID:     id,
		Status: status,
	}
	if len(history) > 0 {
		snap.History = make([]Message, len(history))
		copy(snap.History, history)
	}
	return snap, nil
}

// Latest returns the status message, or nil if the status carries none.
func (s *Snapshot) Latest() *Message {
	if s == nil {
		return nil
	}
	return s.Status.Message
}

// Terminal reports whether the snapshot's conversation has ended.
func (s *Snapshot) Terminal() bool {
	return s != nil && s.Status.State.Terminal()
}
