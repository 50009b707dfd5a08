package asyncoro

import (
	"container/heap"
	"fmt"
	"sync"
	"time"
)

// Scheduler owns a population of coroutines and advances them via a
// resume/throw/suspend protocol, exactly as described in spec §4.1. It is
// guarded by a single mutex; a dedicated goroutine (started by
// NewScheduler) drives the main loop.
type Scheduler struct {
	mu       sync.Mutex
	popCond  *sync.Cond
	coros    map[CoroID]*coroutine
	nextID   CoroID

	runnableOrder []CoroID
	runnableSet   map[CoroID]bool
	suspendedSet  map[CoroID]bool

	timers   timerHeap
	timerSeq uint64

	terminating bool
	terminated  bool

	wake chan struct{}
	done chan struct{}

	logger Logger
}

// timerEntry is one pending sleep/timeout deadline.
//
// gen lets Resume/Throw invalidate an in-flight deadline in O(1) (by
// bumping the owning coroutine's generation counter) instead of scanning
// the heap to remove a stale entry — the same trick the teacher poller
// uses a version counter for (poller_linux.go's FastPoller.version) to
// detect staleness cheaply rather than locking out concurrent access.
type timerEntry struct {
	deadline time.Time
	id       CoroID
	gen      uint64
	seq      uint64
}

type timerHeap []timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// NewScheduler creates and starts a Scheduler. The scheduler's main loop
// runs on its own goroutine until Terminate is called.
func NewScheduler(opts ...SchedulerOption) *Scheduler {
	cfg := resolveSchedulerOptions(opts)
	s := &Scheduler{
		coros:        make(map[CoroID]*coroutine),
		runnableSet:  make(map[CoroID]bool),
		suspendedSet: make(map[CoroID]bool),
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		logger:       cfg.logger,
	}
	s.popCond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *Scheduler) loggerOrDefault() Logger {
	if s.logger != nil {
		return s.logger
	}
	return getDefaultLogger()
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Add assigns the next identifier, enters the coroutine into the runnable
// set, and starts its body goroutine (parked until the scheduler's first
// step for it).
func (s *Scheduler) Add(name string, proc Proc) CoroID {
	s.mu.Lock()
	c := newCoroutine(0, name)
	id := s.registerAndStartLocked(c, proc)
	s.mu.Unlock()
	s.signalWake()
	return id
}

func (s *Scheduler) registerAndStartLocked(c *coroutine, proc Proc) CoroID {
	s.nextID++
	c.id = s.nextID
	c.state = StateScheduled
	s.coros[c.id] = c
	s.addToRunnableLocked(c)
	logDebug(s.loggerOrDefault(), "scheduler", "coroutine registered", map[string]any{"id": uint64(c.id), "name": c.name})
	y := &Yield{sched: s, coro: c}
	go s.runBody(c, proc, y)
	return c.id
}

func (s *Scheduler) addToRunnableLocked(c *coroutine) {
	if s.runnableSet[c.id] {
		return
	}
	s.runnableSet[c.id] = true
	s.runnableOrder = append(s.runnableOrder, c.id)
}

// Resume delivers value as the next pending value for id and schedules it,
// valid only when id is Suspended or Stopped.
func (s *Scheduler) Resume(id CoroID, value any) {
	s.mu.Lock()
	c, ok := s.coros[id]
	if !ok {
		s.mu.Unlock()
		logWarn(s.loggerOrDefault(), "scheduler", "resume: unknown coroutine", ErrUnknownCoroutine, map[string]any{"id": uint64(id)})
		return
	}
	if c.state != StateSuspended && c.state != StateStopped {
		st := c.state
		s.mu.Unlock()
		logWarn(s.loggerOrDefault(), "scheduler", "resume: incompatible state", ErrBadState, map[string]any{"id": uint64(id), "state": st.String()})
		return
	}
	delete(s.suspendedSet, id)
	c.timerGen++
	c.pendingValue = value
	c.pendingIsErr = false
	c.state = StateScheduled
	s.addToRunnableLocked(c)
	s.mu.Unlock()
	s.signalWake()
}

// Throw delivers err as a pending exception for id and schedules it, valid
// only when id is Scheduled (not yet stepped) or Stopped.
func (s *Scheduler) Throw(id CoroID, err error) {
	s.mu.Lock()
	c, ok := s.coros[id]
	if !ok {
		s.mu.Unlock()
		logWarn(s.loggerOrDefault(), "scheduler", "throw: unknown coroutine", ErrUnknownCoroutine, map[string]any{"id": uint64(id)})
		return
	}
	if c.state != StateScheduled && c.state != StateStopped {
		st := c.state
		s.mu.Unlock()
		logWarn(s.loggerOrDefault(), "scheduler", "throw: incompatible state", ErrBadState, map[string]any{"id": uint64(id), "state": st.String()})
		return
	}
	if c.state == StateStopped {
		delete(s.suspendedSet, id)
		c.timerGen++
	}
	c.pendingErr = err
	c.pendingIsErr = true
	c.state = StateScheduled
	s.addToRunnableLocked(c)
	s.mu.Unlock()
	s.signalWake()
}

// Terminate stops the scheduler: every remaining coroutine is thrown
// ErrSchedulerTerminated, all bookkeeping is cleared, and Join unblocks.
// It blocks until the main loop has finished tearing down.
func (s *Scheduler) Terminate() {
	s.mu.Lock()
	if s.terminating {
		s.mu.Unlock()
		return
	}
	s.terminating = true
	s.mu.Unlock()
	s.signalWake()
	<-s.done
}

// Join blocks until the coroutine population becomes empty, whether
// because every coroutine finished on its own or because Terminate forced
// the population to empty.
func (s *Scheduler) Join() {
	s.mu.Lock()
	for len(s.coros) > 0 {
		s.popCond.Wait()
	}
	s.mu.Unlock()
}

// markSuspending performs the actual Suspend(id, timeout?) bookkeeping
// described in spec §4.1: valid only while the coroutine is Running (i.e.
// called from within its own body, synchronously, before it hands control
// back to the scheduler). It is invoked by Yield.Suspend/Yield.Sleep before
// they block on the channel handoff, which closes the race window noted in
// spec §5: any Resume that arrives after this call observes Suspended (or,
// once the step loop catches up, Stopped) and is honoured. Throw is
// honoured only once the state has reached Stopped.
func (s *Scheduler) markSuspending(c *coroutine, timeout time.Duration, hasTimeout bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.state = StateSuspended
	s.suspendedSet[c.id] = true
	delete(s.runnableSet, c.id)
	c.timerGen++
	if hasTimeout {
		heap.Push(&s.timers, timerEntry{deadline: time.Now().Add(timeout), id: c.id, gen: c.timerGen, seq: s.timerSeq})
		s.timerSeq++
	}
}

// runBody is the goroutine body backing one coroutine. It consumes exactly
// one resumeMsg per suspension point for the coroutine's entire lifetime;
// the very first message may already carry an error (Throw called before
// the coroutine ever ran), in which case proc is never invoked.
func (s *Scheduler) runBody(c *coroutine, proc Proc, y *Yield) {
	r := <-c.resumeCh
	var result any
	var err error
	if r.isError {
		err = r.err
	} else if proc != nil {
		result, err = s.safeRun(proc, y)
	}
	c.yieldCh <- yieldMsg{kind: yieldDone, value: result, err: err, isError: err != nil}
}

func (s *Scheduler) safeRun(proc Proc, y *Yield) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			logError(s.loggerOrDefault(), "scheduler", "coroutine panicked", fmt.Errorf("%v", r), map[string]any{"id": uint64(y.coro.id), "name": y.coro.name})
			err = fmt.Errorf("asyncoro: coroutine %q panicked: %v", y.coro.name, r)
		}
	}()
	return proc(y)
}

// step runs one scheduler tick's worth of execution for a single
// snapshotted coroutine: it delivers its pending value/error and blocks
// until that coroutine either suspends again or finishes.
func (s *Scheduler) step(id CoroID) {
	s.mu.Lock()
	c, ok := s.coros[id]
	if !ok || c.state != StateScheduled {
		s.mu.Unlock()
		return
	}
	c.state = StateRunning
	msg := resumeMsg{value: c.pendingValue, err: c.pendingErr, isError: c.pendingIsErr}
	c.pendingValue = nil
	c.pendingErr = nil
	c.pendingIsErr = false
	s.mu.Unlock()

	c.resumeCh <- msg
	out := <-c.yieldCh
	s.handleOutcome(c, out)
}

func (s *Scheduler) handleOutcome(c *coroutine, out yieldMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch out.kind {
	case yieldDone:
		if out.isError {
			c.pendingErr = out.err
			c.pendingIsErr = true
		} else {
			c.pendingValue = out.value
			c.pendingIsErr = false
		}
		s.finishLocked(c)

	case yieldSuspend, yieldSleep:
		// Only finalize Suspended -> Stopped if nothing raced ahead of us
		// (an external Resume/Throw already moved it back to Scheduled).
		if c.state == StateSuspended {
			c.state = StateStopped
		}

	case yieldSpawn:
		child := out.child
		s.registerAndStartLocked(child, out.proc)
		c.state = StateFrozen
	}
}

// finishLocked handles a coroutine's terminal outcome: pop its call stack,
// reactivate a frozen parent if one is waiting, log uncaught errors, and
// destroy the coroutine. Must be called with s.mu held.
func (s *Scheduler) finishLocked(c *coroutine) {
	if len(c.stack) > 0 {
		top := c.stack[len(c.stack)-1]
		c.stack = c.stack[:len(c.stack)-1]
		if top.kind == frameParent {
			parent := top.parent
			parent.pendingValue = c.pendingValue
			parent.pendingErr = c.pendingErr
			parent.pendingIsErr = c.pendingIsErr
			parent.state = StateScheduled
			s.addToRunnableLocked(parent)
			s.destroyLocked(c)
			return
		}
	}

	if c.pendingIsErr {
		logError(s.loggerOrDefault(), "scheduler", "uncaught coroutine error", c.pendingErr, map[string]any{"id": uint64(c.id), "name": c.name})
	}
	s.destroyLocked(c)
}

func (s *Scheduler) destroyLocked(c *coroutine) {
	delete(s.coros, c.id)
	delete(s.runnableSet, c.id)
	delete(s.suspendedSet, c.id)
	close(c.done)
	if len(s.coros) == 0 {
		s.popCond.Broadcast()
	}
}

func (s *Scheduler) sweepTimersLocked() {
	now := time.Now()
	for len(s.timers) > 0 && !s.timers[0].deadline.After(now) {
		te := heap.Pop(&s.timers).(timerEntry)
		c, ok := s.coros[te.id]
		if !ok || c.timerGen != te.gen {
			continue
		}
		if c.state != StateSuspended && c.state != StateStopped {
			continue
		}
		delete(s.suspendedSet, c.id)
		c.pendingValue = nil
		c.pendingIsErr = false
		c.state = StateScheduled
		s.addToRunnableLocked(c)
	}
}

// loop is the scheduler's dedicated worker, matching spec §4.1's main loop
// algorithm. Waiting is implemented with a wake channel plus a deadline
// timer rather than a literal condition-variable timed wait, which Go's
// sync.Cond does not support — the same substitution the teacher's own
// event loop makes (a wake pipe/channel instead of a pthread-style
// condition variable); see DESIGN.md.
func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		s.mu.Lock()
		if s.terminating {
			s.teardownLocked()
			s.mu.Unlock()
			return
		}

		s.sweepTimersLocked()

		if len(s.runnableOrder) == 0 {
			var timerC <-chan time.Time
			var timer *time.Timer
			if len(s.timers) > 0 {
				d := time.Until(s.timers[0].deadline)
				if d < 0 {
					d = 0
				}
				timer = time.NewTimer(d)
				timerC = timer.C
			}
			s.mu.Unlock()

			select {
			case <-s.wake:
			case <-timerC:
			}
			if timer != nil {
				timer.Stop()
			}
			continue
		}

		snapshot := s.runnableOrder
		s.runnableOrder = nil
		s.runnableSet = make(map[CoroID]bool)
		s.mu.Unlock()

		for _, id := range snapshot {
			s.step(id)
		}
	}
}

// teardownLocked detaches every coroutine, clears all bookkeeping, and
// wakes joiners. Must be called with s.mu held, from the loop goroutine
// only (termination is only ever observed between ticks, never mid-step).
func (s *Scheduler) teardownLocked() {
	for _, c := range s.coros {
		select {
		case c.resumeCh <- resumeMsg{isError: true, err: ErrSchedulerTerminated}:
		default:
		}
	}
	s.coros = make(map[CoroID]*coroutine)
	s.runnableOrder = nil
	s.runnableSet = make(map[CoroID]bool)
	s.suspendedSet = make(map[CoroID]bool)
	s.timers = nil
	s.terminated = true
	s.popCond.Broadcast()
}
