package asyncoro

import (
	"errors"
	"fmt"
)

// Standard errors.
var (
	// ErrSchedulerTerminated is thrown into every coroutine still parked on
	// a suspension point when Scheduler.Terminate is called.
	ErrSchedulerTerminated = errors.New("asyncoro: scheduler terminated")

	// ErrUnknownCoroutine is logged (as the warning's Err) when Resume/Throw
	// name an id the scheduler has no record of; the request is dropped.
	ErrUnknownCoroutine = errors.New("asyncoro: unknown coroutine id")

	// ErrBadState is logged (as the warning's Err) when Resume/Throw is
	// attempted from a state that does not permit the transition (see
	// state.go); the request is dropped.
	ErrBadState = errors.New("asyncoro: coroutine is not in a state that permits this transition")

	// ErrLockHeld is the fatal assertion raised when Lock.Acquire is called
	// while the lock is already held.
	ErrLockHeld = errors.New("asyncoro: lock already held")

	// ErrNotOwner is the fatal assertion raised when Lock.Release,
	// Cond.Release or Cond.Wait is attempted by a non-owner.
	ErrNotOwner = errors.New("asyncoro: caller does not own the lock")

	// ErrPollerClosed is returned by poller operations after Close.
	ErrPollerClosed = errors.New("asyncoro: poller closed")

	// ErrShortFrame is returned by ReadMsg when a frame header declares a
	// zero-length payload. Short reads of the header or payload are not
	// reported with it: ReadMsg turns those into a (0, nil, nil) disconnect.
	ErrShortFrame = errors.New("asyncoro: short read of framed message")

	// ErrAuthMismatch is returned when a peer's one-time auth handshake
	// prefix does not match what was expected.
	ErrAuthMismatch = errors.New("asyncoro: auth prefix mismatch")
)

// TimeoutError is raised into a coroutine's waiting call when the notifier's
// global inactivity sweep finds its socket idle for longer than fd_timeout.
//
// Modeled on the teacher event loop's TimeoutError (errors.go), which wraps
// a Cause for errors.Is/errors.As compatibility.
type TimeoutError struct {
	Cause   error
	Message string
}

func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "asyncoro: i/o inactivity timeout"
	}
	return e.Message
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// DisconnectError signals that AsyncSocket.Read got a zero-byte read (peer
// closed) before gathering the bytes it asked for. It is thrown into the
// waiting coroutine and returned by Read; ReadMsg instead returns
// (0, nil, nil), per spec. Recv does not produce it: a zero-byte Recv
// returns 0.
type DisconnectError struct {
	Cause   error
	Message string
}

func (e *DisconnectError) Error() string {
	if e.Message == "" {
		return "asyncoro: peer disconnected"
	}
	return e.Message
}

func (e *DisconnectError) Unwrap() error { return e.Cause }

// SchedulerMisuseError describes an invalid Resume/Throw transition. The
// Scheduler does not construct it: Resume and Throw log ErrUnknownCoroutine
// or ErrBadState as a warning and drop the request.
type SchedulerMisuseError struct {
	Op    string
	ID    CoroID
	State CoroState
	Cause error
}

func (e *SchedulerMisuseError) Error() string {
	return fmt.Sprintf("asyncoro: %s on coroutine %d in state %s: %v", e.Op, e.ID, e.State, e.Cause)
}

func (e *SchedulerMisuseError) Unwrap() error { return e.Cause }

// WrapError wraps an error with a message and cause chain, mirroring the
// teacher event loop's WrapError helper.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
