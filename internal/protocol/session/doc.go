// Package session owns the per-session primitives of a channel.
//
// Ownership boundary:
// - outbound write queue with backpressure signaling
// - inflight request table, correlation sequence and result handles
// - retry/backoff schedule and reliability defaults
//
// Nothing in this package locks: a session's queue and table are mutated
// only from the serialized context of the channel that owns them. Result
// handles are the exception and may be read from any goroutine.
package session
