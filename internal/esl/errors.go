package esl

import "errors"

// ErrAuthFailed is returned when the server rejects the client's
// password, or sends an unexpected packet type during authentication.
var ErrAuthFailed = errors.New("esl: authentication failed")

// ErrMaxRetriesExceeded is returned when the engine has exhausted its
// bounded reconnect attempts and stopped permanently.
var ErrMaxRetriesExceeded = errors.New("esl: max reconnect attempts exceeded")

// ErrNotConnected is returned by operations issued while the engine
// has no authenticated connection (connecting or reconnecting), and to
// commands still pending when the connection drops.
var ErrNotConnected = errors.New("esl: not connected")

// ErrCommandCancelled is returned to a synchronous caller whose
// context was cancelled while its command was queued or in flight.
// The command's bytes may already be on the wire; the next reply on
// the wire is discarded since it can no longer be unsent.
var ErrCommandCancelled = errors.New("esl: command cancelled")

// ErrStopped is returned by operations issued after the engine has
// stopped, whether through Stop or after exhausting its reconnect
// attempts.
var ErrStopped = errors.New("esl: engine stopped")
