// Package asklimit tracks how many questions each student has asked in a
// rolling time window and temporarily blocks students who exceed the limit.
//
// This is a single-instance, in-memory limiter. State is volatile: a restart
// forgets all history and active blocks. It is not shared or coordinated
// between instances; if the service is ever scaled out, each instance
// enforces the limit independently.
//
// Every submission is answered with a Result carrying an alert level:
//
//   - NORMAL: question accepted, plenty of budget left
//   - WARNING: question accepted, but the student is close to the limit
//   - RATE_LIMITED: question rejected, the student just crossed the limit
//     and a cooldown was started
//   - BLOCKED: question rejected, the student is still inside an active
//     cooldown
//
// Blocks expire lazily: the first submission after the cooldown passes lifts
// the block and is then evaluated as a fresh submission within the same
// critical section, so it may immediately re-block if the window is still
// over the limit.
package asklimit
