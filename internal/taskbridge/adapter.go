// ABOUTME: Transport adapter for the task-oriented protocol ("Protocol T")
// ABOUTME: Status and history map 1:1 from the wire - no synthetic inference

package taskbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jmandel/banterop-bridge/internal/convo"
	"github.com/jmandel/banterop-bridge/internal/events"
)

// finalityMetadataKey is the protocol metadata slot carrying the caller's
// finality directive.
const finalityMetadataKey = "finality"

// Publisher receives a conversation event for every successful send.
type Publisher interface {
	Publish(events.Event)
}

// Adapter implements the transport contract over a task-protocol client.
type Adapter struct {
	client    Client
	publisher Publisher
	logger    *slog.Logger

	mu        sync.Mutex
	lastState map[string]convo.State // taskID -> last observed state
}

// New creates an adapter. publisher may be nil; pass nil logger for default.
func New(client Client, publisher Publisher, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:    client,
		publisher: publisher,
		logger:    logger.With("component", "taskbridge"),
		lastState: make(map[string]convo.State),
	}
}

// Send posts a message, creating a new task when opts.TaskID is empty.
// Finality travels as protocol metadata; the reply's status maps straight
// into the returned snapshot.
func (a *Adapter) Send(ctx context.Context, parts []convo.Part, opts convo.SendOptions) (*convo.SendResult, error) {
	for i, p := range parts {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
	}

	if opts.TaskID != "" && a.knownTerminal(opts.TaskID) {
		return nil, convo.ErrConversationEnded
	}

	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.New().String()
	}
	finality := opts.Finality
	if finality == "" {
		finality = convo.FinalityNone
	}

	task, err := a.client.SendMessage(ctx, SendParams{
		Parts:     parts,
		TaskID:    opts.TaskID,
		MessageID: messageID,
		Metadata:  map[string]any{finalityMetadataKey: string(finality)},
	})
	if err != nil {
		return nil, err
	}

	snap, err := a.taskSnapshot(task)
	if err != nil {
		return nil, err
	}
	a.observe(task.ID, task.Status.State)

	if a.publisher != nil {
		a.publisher.Publish(events.Event{
			Type:           events.TypeMessage,
			Finality:       finality,
			ConversationID: task.ID,
		})
	}

	a.logger.Debug("message sent",
		"task_id", task.ID,
		"message_id", messageID,
		"state", task.Status.State,
		"finality", finality)

	return &convo.SendResult{TaskID: task.ID, Snapshot: snap}, nil
}

// Snapshot fetches the task and maps it. Returns nil for unknown tasks.
func (a *Adapter) Snapshot(ctx context.Context, taskID string) (*convo.Snapshot, error) {
	task, err := a.client.GetTask(ctx, taskID, maxHistoryLength)
	if err == ErrTaskNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	snap, err := a.taskSnapshot(task)
	if err != nil {
		return nil, err
	}
	a.observe(task.ID, task.Status.State)
	return snap, nil
}

// Cancel delegates to the client. Idempotent: cancelling an unknown or
// already-terminal task succeeds.
func (a *Adapter) Cancel(ctx context.Context, taskID string) error {
	err := a.client.CancelTask(ctx, taskID)
	if err == ErrTaskNotFound {
		return nil
	}
	return err
}

// Ticks is a thin pass-through of the client's native notification stream.
func (a *Adapter) Ticks(ctx context.Context, taskID string) (<-chan struct{}, error) {
	return a.client.Subscribe(ctx, taskID)
}

// maxHistoryLength bounds snapshot history fetches.
const maxHistoryLength = 100

// taskSnapshot converts a wire task into a snapshot. History entries that
// repeat the status message are dropped at this boundary so the snapshot
// invariant holds even against a sloppy server.
func (a *Adapter) taskSnapshot(task *Task) (*convo.Snapshot, error) {
	history := task.History
	if task.Status.Message != nil {
		filtered := make([]convo.Message, 0, len(history))
		for _, msg := range history {
			if msg.MessageID == task.Status.Message.MessageID {
				continue
			}
			filtered = append(filtered, msg)
		}
		history = filtered
	}
	return convo.NewSnapshot(task.ID, task.Status, history)
}

// knownTerminal reports whether the task was last observed terminal.
func (a *Adapter) knownTerminal(taskID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastState[taskID].Terminal()
}

// observe records the latest state. Terminal states are sticky: a stale
// non-terminal read never transitions a task back.
func (a *Adapter) observe(taskID string, state convo.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastState[taskID].Terminal() {
		return
	}
	a.lastState[taskID] = state
}

// Ensure Adapter satisfies the transport contract.
var _ convo.Adapter = (*Adapter)(nil)
