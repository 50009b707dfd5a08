package asyncoro

import "time"

// schedulerOptions holds configuration applied at Scheduler construction.
type schedulerOptions struct {
	logger Logger
}

// SchedulerOption configures a Scheduler instance.
type SchedulerOption interface {
	applyScheduler(*schedulerOptions)
}

type schedulerOptionFunc func(*schedulerOptions)

func (f schedulerOptionFunc) applyScheduler(o *schedulerOptions) { f(o) }

// WithLogger overrides the package-level default logger for a single
// Scheduler or Notifier.
func WithLogger(logger Logger) interface {
	SchedulerOption
	NotifierOption
} {
	return bothOption{logger: logger}
}

// bothOption satisfies both SchedulerOption and NotifierOption so
// WithLogger can be passed to either constructor.
type bothOption struct{ logger Logger }

func (b bothOption) applyScheduler(o *schedulerOptions) { o.logger = b.logger }
func (b bothOption) applyNotifier(o *notifierOptions)   { o.logger = b.logger }

func resolveSchedulerOptions(opts []SchedulerOption) schedulerOptions {
	var cfg schedulerOptions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyScheduler(&cfg)
	}
	return cfg
}

// notifierOptions holds configuration applied at Notifier construction.
type notifierOptions struct {
	logger       Logger
	pollInterval time.Duration
	fdTimeout    time.Duration
	backend      BackendKind
}

// NotifierOption configures a Notifier instance.
type NotifierOption interface {
	applyNotifier(*notifierOptions)
}

type notifierOptionFunc func(*notifierOptions)

func (f notifierOptionFunc) applyNotifier(o *notifierOptions) { f(o) }

// WithPollInterval sets how often the notifier's poll loop wakes to check
// for readiness when the backend's own wait call does not block precisely
// on a registered deadline (select/poll backends sweep on this cadence).
// Default: 1 second, matching the source implementation.
func WithPollInterval(d time.Duration) NotifierOption {
	return notifierOptionFunc(func(o *notifierOptions) { o.pollInterval = d })
}

// WithFDTimeout sets the inactivity window after which a registered, idle
// file descriptor has a TimeoutError thrown into its waiter; the
// descriptor stays open and registered.
// Must be at least 5x the poll interval (enforced by NewNotifier); default
// is 5 minutes.
func WithFDTimeout(d time.Duration) NotifierOption {
	return notifierOptionFunc(func(o *notifierOptions) { o.fdTimeout = d })
}

// BackendKind selects which readiness multiplexer a Notifier uses.
type BackendKind int

const (
	// BackendAuto picks epoll on Linux, kqueue on Darwin, and falls back
	// to poll(2) on every other unix target (the BSDs included).
	BackendAuto BackendKind = iota
	BackendEpoll
	BackendKqueue
	BackendPoll
	BackendSelect
)

// WithBackend forces a specific readiness multiplexer instead of the
// platform default. Primarily useful for tests that exercise the portable
// poll/select fallbacks on a platform that also has epoll/kqueue.
func WithBackend(kind BackendKind) NotifierOption {
	return notifierOptionFunc(func(o *notifierOptions) { o.backend = kind })
}

func resolveNotifierOptions(opts []NotifierOption) notifierOptions {
	cfg := notifierOptions{
		pollInterval: time.Second,
		fdTimeout:    5 * time.Minute,
		backend:      BackendAuto,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyNotifier(&cfg)
	}
	return cfg
}
