// ABOUTME: Narrow client contract for the task-oriented wire protocol
// ABOUTME: The client owns wire encoding, auth, and retries; the adapter only maps shapes

package taskbridge

import (
	"context"
	"errors"

	"github.com/jmandel/banterop-bridge/internal/convo"
)

// ErrTaskNotFound indicates the remote side has no task with the given ID.
var ErrTaskNotFound = errors.New("task not found")

// Task is the protocol's native view of a conversation. Its status and
// history already carry the shared model shapes, so the adapter maps it
// into a snapshot without inference.
type Task struct {
	ID        string
	ContextID string
	Status    convo.Status
	History   []convo.Message
}

// SendParams carries one outgoing message.
type SendParams struct {
	Parts     []convo.Part
	TaskID    string // empty creates a new task
	MessageID string
	Metadata  map[string]any
}

// Client is what the adapter needs from a task-protocol implementation.
type Client interface {
	// SendMessage creates or continues a task. The returned task reflects
	// the send, including updated status and history.
	SendMessage(ctx context.Context, params SendParams) (*Task, error)

	// GetTask fetches the task's current state with up to historyLength
	// history entries. Returns ErrTaskNotFound for unknown IDs.
	GetTask(ctx context.Context, taskID string, historyLength int) (*Task, error)

	// CancelTask cancels the task. Cancelling an already-terminal task is
	// not an error.
	CancelTask(ctx context.Context, taskID string) error

	// Subscribe returns the protocol's native change-notification stream
	// for the task. The channel closes when ctx is cancelled or the
	// stream naturally ends.
	Subscribe(ctx context.Context, taskID string) (<-chan struct{}, error)
}
