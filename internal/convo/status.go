// ABOUTME: Conversation status enumeration and per-send finality directives
// ABOUTME: Terminal states are sticky - no adapter transitions out of them

package convo

// State is the lifecycle state of a conversation.
type State string

const (
	StateSubmitted     State = "submitted"
	StateWorking       State = "working"
	StateInputRequired State = "input-required"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateCanceled      State = "canceled"
	StateRejected      State = "rejected"
	StateAuthRequired  State = "auth-required"
	StateUnknown       State = "unknown"
)

// Terminal reports whether the state ends the conversation. A terminal
// conversation accepts no further sends.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCanceled, StateRejected:
		return true
	}
	return false
}

// ParseState maps a wire status string onto the enumeration, falling back
// to StateUnknown for values this model does not know.
func ParseState(s string) State {
	switch State(s) {
	case StateSubmitted, StateWorking, StateInputRequired, StateCompleted,
		StateFailed, StateCanceled, StateRejected, StateAuthRequired:
		return State(s)
	}
	return StateUnknown
}

// Status pairs a state with the message that most recently advanced it.
type Status struct {
	State   State    `json:"state"`
	Message *Message `json:"message,omitempty"`
}

// Finality is the caller-supplied directive attached to a send: whether the
// conversation continues in the same turn, hands the turn over, or ends.
type Finality string

const (
	FinalityNone         Finality = "none"
	FinalityTurn         Finality = "turn"
	FinalityConversation Finality = "conversation"
)
