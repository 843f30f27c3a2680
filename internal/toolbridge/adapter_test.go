// ABOUTME: Tests for the Protocol-M adapter
// ABOUTME: Covers lazy begin, reply folding, local cancel, replay dedupe, and backoff retry

package toolbridge

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmandel/banterop-bridge/internal/convo"
	"github.com/jmandel/banterop-bridge/internal/events"
)

// scriptedClient scripts Client behavior for adapter tests. CheckReplies
// rounds pop from a queue; an exhausted queue blocks until ctx fires.
type scriptedClient struct {
	mu sync.Mutex

	beginID  string
	beginErr error
	begun    int

	sent    []sentCall
	sendErr error

	rounds []roundResult
	checks int

	// gate, when set, holds every CheckReplies round until closed.
	gate chan struct{}
}

type sentCall struct {
	conversationID string
	text           string
	attachments    []Attachment
}

type roundResult struct {
	replies *Replies
	err     error
}

func (s *scriptedClient) Begin(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begun++
	if s.beginErr != nil {
		return "", s.beginErr
	}
	return s.beginID, nil
}

func (s *scriptedClient) Send(ctx context.Context, conversationID, text string, attachments []Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentCall{conversationID, text, attachments})
	return nil
}

func (s *scriptedClient) CheckReplies(ctx context.Context, conversationID string, wait time.Duration) (*Replies, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	if len(s.rounds) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	round := s.rounds[0]
	s.rounds = s.rounds[1:]
	s.checks++
	s.mu.Unlock()
	return round.replies, round.err
}

func (s *scriptedClient) checkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checks
}

func newTestAdapter(client Client) *Adapter {
	return New(client, nil, Options{
		PollWait:     10 * time.Millisecond,
		ErrorBackoff: 5 * time.Millisecond,
	}, nil)
}

func TestAdapter_FirstSendBeginsConversation(t *testing.T) {
	client := &scriptedClient{beginID: "conv-1"}
	a := newTestAdapter(client)

	res, err := a.Send(context.Background(), []convo.Part{convo.TextPart("hi")}, convo.SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, client.begun)
	require.Len(t, client.sent, 1)
	assert.Equal(t, "conv-1", client.sent[0].conversationID)
	assert.Equal(t, "hi", client.sent[0].text)

	assert.Equal(t, "conv-1", res.TaskID)
	assert.Equal(t, convo.StateWorking, res.Snapshot.Status.State)
	require.NotNil(t, res.Snapshot.Status.Message)
	assert.Equal(t, "hi", res.Snapshot.Status.Message.Text())
	assert.Empty(t, res.Snapshot.History, "first send has nothing before the latest message")
}

func TestAdapter_SecondSendReusesConversation(t *testing.T) {
	client := &scriptedClient{beginID: "conv-1"}
	a := newTestAdapter(client)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("one")}, convo.SendOptions{})
	require.NoError(t, err)
	res, err := a.Send(context.Background(), []convo.Part{convo.TextPart("two")}, convo.SendOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, client.begun, "begin issued once")
	require.Len(t, res.Snapshot.History, 1)
	assert.Equal(t, "one", res.Snapshot.History[0].Text())
	assert.Equal(t, "two", res.Snapshot.Status.Message.Text())
}

func TestAdapter_SendEncodesInlineFileAsAttachment(t *testing.T) {
	client := &scriptedClient{beginID: "conv-1"}
	a := newTestAdapter(client)

	parts := []convo.Part{
		convo.TextPart("see attached"),
		convo.FilePart("notes.txt", "text/plain", []byte("contents")),
	}
	_, err := a.Send(context.Background(), parts, convo.SendOptions{})
	require.NoError(t, err)

	require.Len(t, client.sent, 1)
	require.Len(t, client.sent[0].attachments, 1)
	att := client.sent[0].attachments[0]
	assert.Equal(t, "notes.txt", att.Name)
	assert.Equal(t, "text/plain", att.ContentType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("contents")), att.Content)
}

func TestAdapter_ConversationFinalityCompletes(t *testing.T) {
	client := &scriptedClient{beginID: "conv-1"}
	a := newTestAdapter(client)

	res, err := a.Send(context.Background(), []convo.Part{convo.TextPart("bye")}, convo.SendOptions{
		Finality: convo.FinalityConversation,
	})
	require.NoError(t, err)
	assert.Equal(t, convo.StateCompleted, res.Snapshot.Status.State)

	_, err = a.Send(context.Background(), []convo.Part{convo.TextPart("more")}, convo.SendOptions{})
	assert.ErrorIs(t, err, convo.ErrConversationEnded)
}

func TestAdapter_SendFailureLeavesHistoryUntouched(t *testing.T) {
	client := &scriptedClient{beginID: "conv-1", sendErr: errors.New("boom")}
	a := newTestAdapter(client)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("hi")}, convo.SendOptions{})
	require.Error(t, err)

	// The conversation identity sticks, but no message was recorded.
	snap, err := a.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Nil(t, snap.Status.Message)
	assert.Empty(t, snap.History)
}

func TestAdapter_SnapshotNilBeforeFirstSend(t *testing.T) {
	a := newTestAdapter(&scriptedClient{beginID: "conv-1"})

	snap, err := a.Snapshot(context.Background(), "whatever")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestAdapter_CancelResetsState(t *testing.T) {
	client := &scriptedClient{beginID: "conv-1"}
	a := newTestAdapter(client)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("hi")}, convo.SendOptions{})
	require.NoError(t, err)

	require.NoError(t, a.Cancel(context.Background(), "conv-1"))

	snap, err := a.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Nil(t, snap, "cancel makes the adapter indistinguishable from a fresh one")

	// A fresh send begins a new conversation.
	_, err = a.Send(context.Background(), []convo.Part{convo.TextPart("again")}, convo.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, client.begun)
}

func TestAdapter_CancelIdempotent(t *testing.T) {
	a := newTestAdapter(&scriptedClient{beginID: "conv-1"})
	require.NoError(t, a.Cancel(context.Background(), "x"))
	require.NoError(t, a.Cancel(context.Background(), "x"))
}

func TestAdapter_TicksRequireConversation(t *testing.T) {
	a := newTestAdapter(&scriptedClient{beginID: "conv-1"})
	_, err := a.Ticks(context.Background(), "none")
	require.Error(t, err)
}

func TestAdapter_TicksFoldReplies(t *testing.T) {
	client := &scriptedClient{
		beginID: "conv-1",
		rounds: []roundResult{
			{replies: &Replies{
				Messages: []WireMessage{{From: "agent", At: "t1", Text: "hello from agent"}},
				Status:   "working",
			}},
		},
	}
	a := newTestAdapter(client)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("hi")}, convo.SendOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks, err := a.Ticks(ctx, "conv-1")
	require.NoError(t, err)

	select {
	case _, ok := <-ticks:
		require.True(t, ok, "expected a tick, not a closed stream")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}

	snap, err := a.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, snap.History, 1)
	assert.Equal(t, "hello from agent", snap.Status.Message.Text())
	assert.Equal(t, convo.RoleAgent, snap.Status.Message.Role)
	assert.Equal(t, convo.StateWorking, snap.Status.State)
}

func TestAdapter_TicksDecodeAttachments(t *testing.T) {
	good := base64.StdEncoding.EncodeToString([]byte("payload"))
	client := &scriptedClient{
		beginID: "conv-1",
		rounds: []roundResult{
			{replies: &Replies{
				Messages: []WireMessage{{
					From: "agent", At: "t1", Text: "files",
					Attachments: []Attachment{
						{Name: "ok.bin", ContentType: "application/octet-stream", Content: good},
						{Name: "bad.bin", ContentType: "application/octet-stream", Content: "%%%not-base64%%%"},
					},
				}},
			}},
		},
	}
	a := newTestAdapter(client)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("hi")}, convo.SendOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks, err := a.Ticks(ctx, "conv-1")
	require.NoError(t, err)
	<-ticks

	snap, err := a.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	parts := snap.Status.Message.Parts
	require.Len(t, parts, 3)
	assert.Equal(t, []byte("payload"), parts[1].File.Bytes)
	assert.Nil(t, parts[2].File.Bytes, "unparseable content degrades, message survives")
}

func TestAdapter_TicksEndOnConversationEnded(t *testing.T) {
	client := &scriptedClient{
		beginID: "conv-1",
		rounds: []roundResult{
			{replies: &Replies{
				Messages: []WireMessage{{From: "agent", At: "t1", Text: "done"}},
				Ended:    true,
			}},
		},
	}
	a := newTestAdapter(client)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("hi")}, convo.SendOptions{})
	require.NoError(t, err)

	ticks, err := a.Ticks(context.Background(), "conv-1")
	require.NoError(t, err)

	// One tick for the folded round, then the stream closes.
	select {
	case _, ok := <-ticks:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	select {
	case _, ok := <-ticks:
		assert.False(t, ok, "stream closes after the remote ends the conversation")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream close")
	}

	snap, err := a.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, convo.StateCompleted, snap.Status.State)
}

func TestAdapter_TicksRetryAfterTransportError(t *testing.T) {
	client := &scriptedClient{
		beginID: "conv-1",
		rounds: []roundResult{
			{err: errors.New("connection reset")},
			{replies: &Replies{
				Messages: []WireMessage{{From: "agent", At: "t1", Text: "recovered"}},
			}},
		},
	}
	a := newTestAdapter(client)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("hi")}, convo.SendOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks, err := a.Ticks(ctx, "conv-1")
	require.NoError(t, err)

	select {
	case _, ok := <-ticks:
		require.True(t, ok, "loop retries past transport errors")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for post-retry tick")
	}
	assert.GreaterOrEqual(t, client.checkCount(), 2)
}

func TestAdapter_TicksDedupeReplayedMessages(t *testing.T) {
	reply := WireMessage{From: "agent", At: "t1", Text: "once"}
	client := &scriptedClient{
		beginID: "conv-1",
		rounds: []roundResult{
			{replies: &Replies{Messages: []WireMessage{reply}}},
			{replies: &Replies{Messages: []WireMessage{reply}, Ended: true}},
		},
	}
	a := newTestAdapter(client)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("hi")}, convo.SendOptions{})
	require.NoError(t, err)

	ticks, err := a.Ticks(context.Background(), "conv-1")
	require.NoError(t, err)
	for range ticks {
	}

	snap, err := a.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	// The user message plus exactly one copy of the replayed reply.
	assert.Len(t, snap.History, 1)
	assert.Equal(t, "once", snap.Status.Message.Text())
}

func TestAdapter_CancelStopsInflightTickLoop(t *testing.T) {
	client := &scriptedClient{
		beginID: "conv-1",
		rounds: []roundResult{
			{replies: &Replies{Messages: []WireMessage{{From: "agent", At: "t1", Text: "late"}}}},
		},
		gate: make(chan struct{}),
	}
	a := newTestAdapter(client)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("hi")}, convo.SendOptions{})
	require.NoError(t, err)

	ticks, err := a.Ticks(context.Background(), "conv-1")
	require.NoError(t, err)

	// Reset while the poll is held in flight, then release the round.
	require.NoError(t, a.Cancel(context.Background(), "conv-1"))
	close(client.gate)

	select {
	case _, ok := <-ticks:
		assert.False(t, ok, "loop stops once local state has been reset")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream close after cancel")
	}

	snap, err := a.Snapshot(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Nil(t, snap, "folded replies from the stale loop are discarded")
}

func TestAdapter_SendPublishesMessageEvent(t *testing.T) {
	bus := events.NewBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, _ := bus.SubscribeAll(ctx)

	client := &scriptedClient{beginID: "conv-1"}
	a := New(client, bus, Options{PollWait: 10 * time.Millisecond, ErrorBackoff: 5 * time.Millisecond}, nil)

	_, err := a.Send(context.Background(), []convo.Part{convo.TextPart("bye")}, convo.SendOptions{
		Finality: convo.FinalityConversation,
	})
	require.NoError(t, err)

	select {
	case ev := <-sub:
		assert.Equal(t, events.TypeMessage, ev.Type)
		assert.Equal(t, convo.FinalityConversation, ev.Finality)
		assert.Equal(t, "conv-1", ev.ConversationID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}
