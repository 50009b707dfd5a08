package asyncoro

import "sync"

// Cond is a coroutine condition variable, per spec §4.4: an owner slot (the
// same acquire/release discipline as Lock), a notification flag, and an
// ordered wait queue. The discipline matches Lock's: no suspension between
// Acquire and Release except inside Wait itself.
//
// Deliberately preserved behaviour (spec §9): Notify sets the flag even
// when no coroutine is waiting, and the next Wait consumes it without
// suspending at all — a one-shot latched notification, not a broadcast
// that only reaches current waiters. Callers that need "notify only those
// already waiting" semantics must build that on top; this type does not
// offer it.
type Cond struct {
	mu    sync.Mutex
	sched *Scheduler

	owner CoroID
	held  bool

	flag      bool
	waitQueue []CoroID
}

// NewCond creates a Cond whose Notify wakes waiters via sched.Resume.
func NewCond(sched *Scheduler) *Cond {
	return &Cond{sched: sched}
}

// Acquire claims ownership for id, identical in contract to Lock.Acquire.
func (c *Cond) Acquire(id CoroID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held {
		return ErrLockHeld
	}
	c.held = true
	c.owner = id
	return nil
}

// Release clears ownership, identical in contract to Lock.Release.
func (c *Cond) Release(id CoroID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.held || c.owner != id {
		return ErrNotOwner
	}
	c.held = false
	c.owner = 0
	return nil
}

// Wait must be called by the coroutine currently owning the Cond (y.ID()
// must equal the owner, i.e. a prior Acquire(y.ID()) with no intervening
// Release). If the notification flag is already set, it is consumed and
// Wait returns (false, nil) without suspending — the caller's predicate is
// presumed already satisfied, so the caller should NOT re-check it and
// should proceed directly. Otherwise ownership is cleared, the caller is
// enqueued and suspended; once resumed by a later Notify, Wait returns
// (true, nil) telling the caller to re-check its predicate (and typically
// re-Acquire before doing so — Wait itself does not re-acquire).
func (c *Cond) Wait(y *Yield) (bool, error) {
	id := y.ID()

	c.mu.Lock()
	if !c.held || c.owner != id {
		c.mu.Unlock()
		return false, ErrNotOwner
	}
	if c.flag {
		c.flag = false
		c.mu.Unlock()
		return false, nil
	}
	c.held = false
	c.owner = 0
	c.waitQueue = append(c.waitQueue, id)
	c.mu.Unlock()

	if _, err := y.Suspend(); err != nil {
		return false, err
	}
	return true, nil
}

// Notify sets the notification flag and, if any coroutine is waiting,
// resumes the queue head. It does not reacquire ownership on the waiter's
// behalf.
func (c *Cond) Notify() {
	c.mu.Lock()
	c.flag = true
	var head CoroID
	have := false
	if len(c.waitQueue) > 0 {
		head = c.waitQueue[0]
		c.waitQueue = c.waitQueue[1:]
		have = true
	}
	c.mu.Unlock()

	if have {
		c.sched.Resume(head, nil)
	}
}
