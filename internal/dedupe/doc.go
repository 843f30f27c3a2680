// Package dedupe provides a time-bounded, size-bounded cache for tracking
// already-seen wire message keys, so long-poll replays are folded into a
// conversation history at most once.
package dedupe
