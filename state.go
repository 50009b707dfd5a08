package asyncoro

// CoroState is the scheduling state of a coroutine, drawn from the closed
// set described in spec §3: a coroutine is always in exactly one of these,
// and membership in the scheduler's running/suspended sets follows from it.
type CoroState int32

const (
	// StateScheduled: in the runnable set; will be stepped on the next tick.
	StateScheduled CoroState = iota
	// StateRunning: currently being stepped (at most one coroutine per tick).
	StateRunning
	// StateSuspended: yielded control and asked to be suspended; the
	// request has not yet been honoured by the step loop.
	StateSuspended
	// StateStopped: yielded control without asking to suspend, or the step
	// loop has honoured a suspend request; effectively Suspended with a
	// pending delivered value already committed.
	StateStopped
	// StateFrozen: transferred control to a freshly spawned child
	// coroutine; reactivated when the child completes. Frozen coroutines
	// belong to neither the running nor the suspended set.
	StateFrozen
)

// String implements fmt.Stringer.
func (s CoroState) String() string {
	switch s {
	case StateScheduled:
		return "Scheduled"
	case StateRunning:
		return "Running"
	case StateSuspended:
		return "Suspended"
	case StateStopped:
		return "Stopped"
	case StateFrozen:
		return "Frozen"
	default:
		return "Unknown"
	}
}
