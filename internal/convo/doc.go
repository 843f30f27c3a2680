// Package convo defines the shared conversation model both protocol
// adapters produce: messages with tagged parts, a status enumeration with
// terminal states, per-send finality, and immutable conversation snapshots.
//
// # Snapshots
//
// A Snapshot is a point-in-time view of one conversation:
//
//	snap, err := convo.NewSnapshot(id, status, history)
//
// Snapshots are value objects. Adapters build a fresh one per observation
// and never mutate one after construction. The constructor enforces the
// model invariants: the status message, when present, never also appears in
// history, and no message ID repeats within history.
//
// # Tick streams
//
// Both adapters expose externally-originated change as a tick stream: a
// channel of empty struct values meaning "re-fetch the snapshot now".
// Ticks carry no payload so consumers never branch on transport kind.
// Delivery is at-least-once; a tick for an unchanged snapshot is a no-op
// for the consumer, not an error. Cancellation is cooperative through the
// context passed to Ticks: once it fires the stream closes within one
// round-trip of whatever blocking call is in flight.
package convo
