// ABOUTME: Narrow client contract for the tool-call/long-poll wire protocol
// ABOUTME: Three tool calls - begin, send, check-replies - with flat message shapes

package toolbridge

import (
	"context"
	"time"
)

// Attachment is the protocol's inline file shape. Content is base64.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
	Summary     string `json:"summary,omitempty"`
}

// WireMessage is one reply delivered by a check-replies round.
type WireMessage struct {
	From        string       `json:"from"`
	At          string       `json:"at"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Replies is the result of one check-replies round.
type Replies struct {
	Messages []WireMessage `json:"messages"`
	Status   string        `json:"status"`
	Ended    bool          `json:"conversation_ended"`
}

// Client is what the adapter needs from a tool-call protocol
// implementation. There is no task or cancel primitive on this wire; the
// adapter synthesizes both.
type Client interface {
	// Begin opens a conversation and returns its identity.
	Begin(ctx context.Context) (string, error)

	// Send posts text and attachments to the conversation.
	Send(ctx context.Context, conversationID, text string, attachments []Attachment) error

	// CheckReplies long-polls for new messages, waiting up to wait before
	// returning an empty round.
	CheckReplies(ctx context.Context, conversationID string, wait time.Duration) (*Replies, error)
}
