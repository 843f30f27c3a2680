// ABOUTME: Transport adapter for the tool-call/long-poll protocol ("Protocol M")
// ABOUTME: No task exists on the wire - conversation, history, and status are synthesized here

package toolbridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmandel/banterop-bridge/internal/convo"
	"github.com/jmandel/banterop-bridge/internal/dedupe"
	"github.com/jmandel/banterop-bridge/internal/events"
)

const (
	defaultPollWait     = 10 * time.Second
	defaultErrorBackoff = 2 * time.Second

	// dedupe bounds for replayed long-poll messages
	dedupeTTL  = 30 * time.Minute
	dedupeSize = 4096
)

// Publisher receives a conversation event for every send and synthesized
// status change.
type Publisher interface {
	Publish(events.Event)
}

// Options tune the adapter's long-poll loop.
type Options struct {
	// PollWait is the wait budget handed to each check-replies round.
	PollWait time.Duration
	// ErrorBackoff is the delay before retrying after a transport error.
	ErrorBackoff time.Duration
}

// Adapter implements the transport contract over a tool-call client. All
// synthetic state is adapter-private; only the owning adapter mutates it.
type Adapter struct {
	client       Client
	publisher    Publisher
	logger       *slog.Logger
	pollWait     time.Duration
	errorBackoff time.Duration

	mu             sync.Mutex
	conversationID string
	messages       []convo.Message
	state          convo.State
	generation     int // bumped by Cancel so stale tick loops stop
	seen           *dedupe.Cache
}

// New creates an adapter. publisher may be nil; pass nil logger for default.
func New(client Client, publisher Publisher, opts Options, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	pollWait := opts.PollWait
	if pollWait <= 0 {
		pollWait = defaultPollWait
	}
	backoff := opts.ErrorBackoff
	if backoff <= 0 {
		backoff = defaultErrorBackoff
	}
	return &Adapter{
		client:       client,
		publisher:    publisher,
		logger:       logger.With("component", "toolbridge"),
		pollWait:     pollWait,
		errorBackoff: backoff,
		state:        convo.StateSubmitted,
		seen:         dedupe.New(dedupeTTL, dedupeSize),
	}
}

// Send posts a message. The first send begins a conversation on the wire;
// later sends reuse it. The outgoing message is appended to the synthetic
// history only after the wire call succeeds.
func (a *Adapter) Send(ctx context.Context, parts []convo.Part, opts convo.SendOptions) (*convo.SendResult, error) {
	for i, p := range parts {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("part %d: %w", i, err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state.Terminal() {
		return nil, convo.ErrConversationEnded
	}

	if a.conversationID == "" {
		id, err := a.client.Begin(ctx)
		if err != nil {
			return nil, err
		}
		a.conversationID = id
		a.state = convo.StateSubmitted
		a.logger.Debug("conversation begun", "conversation_id", id)
	}

	text, attachments := flattenParts(parts)
	if err := a.client.Send(ctx, a.conversationID, text, attachments); err != nil {
		return nil, err
	}

	messageID := opts.MessageID
	if messageID == "" {
		messageID = uuid.New().String()
	}
	finality := opts.Finality
	if finality == "" {
		finality = convo.FinalityNone
	}

	msg := convo.Message{
		Role:      convo.RoleUser,
		Parts:     parts,
		MessageID: messageID,
		TaskID:    a.conversationID,
	}
	a.messages = append(a.messages, msg)

	// Conversation finality ends the synthetic task; anything else means
	// the other side now owes a reply.
	if finality == convo.FinalityConversation {
		a.state = convo.StateCompleted
	} else {
		a.state = convo.StateWorking
	}

	snap, err := a.snapshotLocked()
	if err != nil {
		return nil, err
	}

	if a.publisher != nil {
		a.publisher.Publish(events.Event{
			Type:           events.TypeMessage,
			Finality:       finality,
			ConversationID: a.conversationID,
		})
	}

	a.logger.Debug("message sent",
		"conversation_id", a.conversationID,
		"message_id", messageID,
		"state", a.state,
		"finality", finality)

	return &convo.SendResult{TaskID: a.conversationID, Snapshot: snap}, nil
}

// Snapshot returns nil until a conversation identity exists.
func (a *Adapter) Snapshot(ctx context.Context, taskID string) (*convo.Snapshot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conversationID == "" {
		return nil, nil
	}
	return a.snapshotLocked()
}

// Cancel is local-only: the wire has no cancel primitive. All synthetic
// state resets, leaving the adapter indistinguishable from a fresh one.
func (a *Adapter) Cancel(ctx context.Context, taskID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.conversationID = ""
	a.messages = nil
	a.state = convo.StateSubmitted
	a.generation++
	a.seen = dedupe.New(dedupeTTL, dedupeSize)

	a.logger.Debug("conversation reset")
	return nil
}

// Ticks starts a bounded long-poll loop against check-replies. Each round
// folds new replies into the synthetic history and yields once if anything
// changed. Transport errors back off and retry; the loop ends only on
// cancellation, local reset, or the remote reporting the conversation over.
func (a *Adapter) Ticks(ctx context.Context, taskID string) (<-chan struct{}, error) {
	a.mu.Lock()
	conversationID := a.conversationID
	generation := a.generation
	a.mu.Unlock()

	if conversationID == "" {
		return nil, fmt.Errorf("no conversation to watch")
	}

	ch := make(chan struct{}, 1)
	go a.pollLoop(ctx, conversationID, generation, ch)
	return ch, nil
}

// pollLoop is the adapter's only retry mechanism.
func (a *Adapter) pollLoop(ctx context.Context, conversationID string, generation int, ch chan<- struct{}) {
	defer close(ch)

	for {
		if ctx.Err() != nil {
			return
		}

		replies, err := a.client.CheckReplies(ctx, conversationID, a.pollWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logger.Warn("check-replies failed, backing off",
				"conversation_id", conversationID,
				"error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.errorBackoff):
			}
			continue
		}

		changed, ended := a.fold(conversationID, generation, replies)
		if changed {
			select {
			case ch <- struct{}{}:
			default:
				// a pending tick already forces a re-fetch
			}
		}
		if ended {
			return
		}
	}
}

// fold merges one round of replies into the synthetic state. Returns
// whether anything observable changed and whether the stream should end.
func (a *Adapter) fold(conversationID string, generation int, replies *Replies) (changed, ended bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// A local cancel reset the adapter while the poll was in flight.
	if a.generation != generation || a.conversationID != conversationID {
		return false, true
	}

	appended := 0
	for _, wm := range replies.Messages {
		if a.seen.Seen(replayKey(wm)) {
			continue
		}
		a.messages = append(a.messages, a.decodeWireMessage(wm))
		appended++
	}

	stateChanged := false
	if !a.state.Terminal() {
		if replies.Status != "" {
			next := convo.ParseState(replies.Status)
			if next != a.state {
				a.state = next
				stateChanged = true
			}
		}
		if replies.Ended {
			a.state = convo.StateCompleted
			stateChanged = true
		}
	}

	if stateChanged && a.publisher != nil {
		a.publisher.Publish(events.Event{
			Type:           events.TypeStatus,
			ConversationID: a.conversationID,
			State:          a.state,
		})
	}

	if appended > 0 || stateChanged {
		a.logger.Debug("replies folded",
			"conversation_id", a.conversationID,
			"appended", appended,
			"state", a.state,
			"ended", replies.Ended)
	}

	return appended > 0 || stateChanged, replies.Ended
}

// snapshotLocked builds a snapshot from the synthetic state: latest is the
// newest message, history everything before it. Must hold mu.
func (a *Adapter) snapshotLocked() (*convo.Snapshot, error) {
	status := convo.Status{State: a.state}
	var history []convo.Message
	if n := len(a.messages); n > 0 {
		latest := a.messages[n-1]
		status.Message = &latest
		history = a.messages[:n-1]
	}
	return convo.NewSnapshot(a.conversationID, status, history)
}

// decodeWireMessage converts a flat wire reply into the model shape. A
// malformed attachment degrades to a content-free file part; one bad
// attachment never discards the message or the round.
func (a *Adapter) decodeWireMessage(wm WireMessage) convo.Message {
	var parts []convo.Part
	if wm.Text != "" {
		parts = append(parts, convo.TextPart(wm.Text))
	}
	for _, att := range wm.Attachments {
		data, err := base64.StdEncoding.DecodeString(att.Content)
		if err != nil {
			a.logger.Warn("unparseable attachment content, degrading",
				"conversation_id", a.conversationID,
				"attachment", att.Name,
				"error", err)
			data = nil
		}
		parts = append(parts, convo.FilePart(att.Name, att.ContentType, data))
	}
	return convo.Message{
		Role:      convo.RoleAgent,
		Parts:     parts,
		MessageID: uuid.New().String(),
		TaskID:    a.conversationID,
	}
}

// replayKey identifies a wire message for dedupe purposes.
func replayKey(wm WireMessage) string {
	var b strings.Builder
	b.WriteString(wm.From)
	b.WriteByte('|')
	b.WriteString(wm.At)
	b.WriteByte('|')
	b.WriteString(wm.Text)
	for _, att := range wm.Attachments {
		b.WriteByte('|')
		b.WriteString(att.Name)
	}
	return b.String()
}

// flattenParts folds model parts into the wire's flat text+attachments
// shape. Inline file bytes become base64 attachment content; remote file
// references and data payloads fold into the text body.
func flattenParts(parts []convo.Part) (string, []Attachment) {
	var text strings.Builder
	var attachments []Attachment
	for _, p := range parts {
		switch p.Kind {
		case convo.PartKindText:
			text.WriteString(p.Text)
		case convo.PartKindFile:
			if len(p.File.Bytes) > 0 {
				attachments = append(attachments, Attachment{
					Name:        p.File.Name,
					ContentType: p.File.MimeType,
					Content:     base64.StdEncoding.EncodeToString(p.File.Bytes),
				})
				continue
			}
			if p.File.URI != "" {
				if text.Len() > 0 {
					text.WriteByte('\n')
				}
				fmt.Fprintf(&text, "[file %s: %s]", p.File.Name, p.File.URI)
			}
		case convo.PartKindData:
			encoded, err := json.Marshal(p.Data)
			if err != nil {
				continue
			}
			if text.Len() > 0 {
				text.WriteByte('\n')
			}
			text.Write(encoded)
		}
	}
	return text.String(), attachments
}

// Ensure Adapter satisfies the transport contract.
var _ convo.Adapter = (*Adapter)(nil)
