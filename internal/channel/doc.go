// Package channel turns a TCP connection, a TCP listener or a serial port
// into a reconnecting, message-oriented link.
//
// Ownership boundary:
// - each channel runs one actor goroutine that owns the connection state,
//   the live session (write queue, inflight table, decoder) and the retry
//   timers; I/O goroutines post their completions back to it
// - callbacks run on the actor in event order and must not block on a
//   request Result or on Done; Stop never blocks and may be called there
// - a session never outlives its connection: leaving Connected fails every
//   pending request and discards unwritten frames before any retry starts
package channel
