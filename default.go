package asyncoro

import "sync"

// Scheduler and Notifier are constructed explicitly (NewScheduler,
// NewNotifier) and wired together by the caller. Default provides the
// lazily-initialised package-level singleton convenience spec §5 describes
// ("the scheduler, notifier, and backend are process-wide singletons
// created on first use") for callers that do not need a dedicated
// instance.
var defaultOnce struct {
	sync.Once
	sched    *Scheduler
	notifier *Notifier
	err      error
}

// Default returns the process-wide Scheduler and Notifier, creating both
// on first call with their default options.
func Default() (*Scheduler, *Notifier, error) {
	defaultOnce.Do(func() {
		defaultOnce.sched = NewScheduler()
		defaultOnce.notifier, defaultOnce.err = NewNotifier(defaultOnce.sched)
	})
	return defaultOnce.sched, defaultOnce.notifier, defaultOnce.err
}
