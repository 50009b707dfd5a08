package asyncoro

import (
	"fmt"
	"sync"
	"time"
)

// continuation is what the notifier invokes when a descriptor becomes
// ready (err nil, ev the fired interest) or when the inactivity sweep
// decides it has been idle too long (err a *TimeoutError, ev zero).
type continuation func(ev Interest, err error)

// fdRecord is the notifier's per-descriptor bookkeeping: the current
// armed interest, the continuation to invoke, and the timestamp used by
// the inactivity sweep.
type fdRecord struct {
	interest     Interest
	continuation continuation
	lastActive   time.Time
	trackActive  bool
}

// Notifier wraps a poller backend with the operations spec §4.2
// describes: add_fd/del_fd/register/modify/unregister/terminate, a
// dedicated polling loop, and a periodic inactivity sweep that throws a
// TimeoutError into coroutines idle longer than fdTimeout.
type Notifier struct {
	mu   sync.Mutex
	fds  map[int]*fdRecord
	back poller

	pollInterval time.Duration
	fdTimeout    time.Duration
	logger       Logger

	sched *Scheduler

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewNotifier creates and starts a Notifier bound to sched: continuations
// invoked on readiness call sched.Resume/sched.Throw, the only
// cross-thread wake path described in spec §5.
func NewNotifier(sched *Scheduler, opts ...NotifierOption) (*Notifier, error) {
	cfg := resolveNotifierOptions(opts)
	if cfg.fdTimeout < 5*cfg.pollInterval {
		return nil, fmt.Errorf("asyncoro: fd_timeout (%s) must be >= 5x poll_interval (%s)", cfg.fdTimeout, cfg.pollInterval)
	}

	back, err := newBackendPoller(cfg)
	if err != nil {
		return nil, err
	}

	n := &Notifier{
		fds:          make(map[int]*fdRecord),
		back:         back,
		pollInterval: cfg.pollInterval,
		fdTimeout:    cfg.fdTimeout,
		logger:       cfg.logger,
		sched:        sched,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go n.run()
	return n, nil
}

func newBackendPoller(cfg notifierOptions) (poller, error) {
	if cfg.backend == BackendPoll || cfg.backend == BackendSelect {
		if p, handled, err := newPollerForExplicitFallback(cfg.backend); handled {
			return p, err
		}
	}
	if p, handled, err := newPollerForKind(cfg.backend); handled {
		return p, err
	}
	if p, handled, err := newPollerForExplicitFallback(cfg.backend); handled {
		return p, err
	}
	return nil, fmt.Errorf("asyncoro: backend %d not supported on this platform", cfg.backend)
}

func (n *Notifier) loggerOrDefault() Logger {
	if n.logger != nil {
		return n.logger
	}
	return getDefaultLogger()
}

// AddFD registers fd with the backend at InterestNone, tracking it for the
// inactivity sweep if trackActivity is true. Idempotent.
func (n *Notifier) AddFD(fd int, trackActivity bool) error {
	n.mu.Lock()
	if _, ok := n.fds[fd]; ok {
		n.mu.Unlock()
		return nil
	}
	n.fds[fd] = &fdRecord{trackActive: trackActivity}
	n.mu.Unlock()
	return n.back.registerFD(fd, InterestNone)
}

// DelFD unregisters fd from both the notifier's bookkeeping and the
// backend. Idempotent.
func (n *Notifier) DelFD(fd int) error {
	n.mu.Lock()
	if _, ok := n.fds[fd]; !ok {
		n.mu.Unlock()
		return nil
	}
	delete(n.fds, fd)
	n.mu.Unlock()
	return n.back.unregisterFD(fd)
}

// Register arms fd for interest and records cont as the continuation to
// invoke when the backend reports it ready.
func (n *Notifier) Register(fd int, interest Interest, cont continuation) error {
	n.mu.Lock()
	rec, ok := n.fds[fd]
	if !ok {
		rec = &fdRecord{}
		n.fds[fd] = rec
	}
	rec.interest = interest
	rec.continuation = cont
	if rec.trackActive {
		rec.lastActive = time.Now()
	}
	n.mu.Unlock()
	return n.back.modifyFD(fd, interest)
}

// Modify is register;modify's idempotent twin: per spec §8, calling
// register then modify with the same interest must be equivalent to a
// single register, which this shares the exact same path for.
func (n *Notifier) Modify(fd int, interest Interest, cont continuation) error {
	return n.Register(fd, interest, cont)
}

// Unregister drops fd back to InterestNone and clears its continuation,
// without removing it from the notifier's descriptor set (AddFD/DelFD own
// that). Idempotent.
func (n *Notifier) Unregister(fd int) error {
	n.mu.Lock()
	rec, ok := n.fds[fd]
	if !ok {
		n.mu.Unlock()
		return nil
	}
	rec.interest = InterestNone
	rec.continuation = nil
	n.mu.Unlock()
	return n.back.modifyFD(fd, InterestNone)
}

// Terminate stops the polling and sweep loop and closes the backend. It
// blocks until the worker goroutine has exited.
func (n *Notifier) Terminate() {
	n.terminateAsync()
	<-n.done
}

func (n *Notifier) terminateAsync() {
	n.stopOnce.Do(func() { close(n.stop) })
}

// run is the notifier's dedicated worker: poll, dispatch, and — on its own
// cadence — sweep for inactive descriptors.
func (n *Notifier) run() {
	defer close(n.done)
	defer n.back.close()

	buf := make([]readyEvent, 256)
	lastSweep := time.Now()

	for {
		select {
		case <-n.stop:
			return
		default:
		}

		nready, err := n.back.pollEvents(n.pollInterval, buf)
		if err != nil {
			logError(n.loggerOrDefault(), "notifier", "poll failed", err, nil)
			return
		}
		n.dispatch(buf[:nready])

		if time.Since(lastSweep) >= n.fdTimeout {
			n.sweep()
			lastSweep = time.Now()
		}
	}
}

// dispatch processes one batch of (descriptor, event) pairs as spec §4.2's
// polling loop describes, branching on each event's own interest flags
// (the source's event/evnt shadowing bug is not reproduced) — see
// DESIGN.md. A Readable or Writable event invokes the continuation even
// when InterestError is also set; an event carrying only InterestError is
// dropped.
func (n *Notifier) dispatch(evnts []readyEvent) {
	for _, evnt := range evnts {
		n.mu.Lock()
		rec, ok := n.fds[evnt.fd]
		if !ok {
			n.mu.Unlock()
			continue
		}
		event := evnt.interest
		cont := rec.continuation
		if event&(InterestReadable|InterestWritable) != 0 {
			if rec.trackActive {
				rec.lastActive = time.Now()
			}
		}
		n.mu.Unlock()

		if event&(InterestReadable|InterestWritable) == 0 {
			// InterestError alone is currently a no-op; see spec §9 Open
			// Questions.
			continue
		}
		if cont == nil {
			logError(n.loggerOrDefault(), "notifier", "ready descriptor has no continuation", nil, map[string]any{"fd": evnt.fd})
			continue
		}
		cont(event, nil)
	}
}

// sweep implements the inactivity sweep: every fd_timeout (measured from
// the last sweep, not each poll), any tracked descriptor idle longer than
// fd_timeout has its timestamp nulled and a timeout thrown into its
// waiter. The descriptor stays registered; see spec §7.
func (n *Notifier) sweep() {
	now := time.Now()
	type victim struct {
		fd   int
		cont continuation
	}
	var victims []victim

	n.mu.Lock()
	for fd, rec := range n.fds {
		if !rec.trackActive || rec.lastActive.IsZero() {
			continue
		}
		if now.Sub(rec.lastActive) >= n.fdTimeout {
			rec.lastActive = time.Time{}
			victims = append(victims, victim{fd: fd, cont: rec.continuation})
		}
	}
	n.mu.Unlock()

	for _, v := range victims {
		logWarn(n.loggerOrDefault(), "notifier", "fd inactivity timeout", nil, map[string]any{"fd": v.fd})
		if v.cont != nil {
			v.cont(InterestNone, &TimeoutError{Message: "asyncoro: i/o inactivity timeout"})
		}
	}
}
