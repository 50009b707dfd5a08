package asyncoro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCond_WaitThenNotify(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	cond := NewCond(sched)
	var woke bool
	done := make(chan struct{})

	id := sched.Add("waiter", func(y *Yield) (any, error) {
		defer close(done)
		require.NoError(t, cond.Acquire(y.ID()))
		notified, err := cond.Wait(y)
		woke = notified
		return nil, err
	})
	_ = id

	time.Sleep(20 * time.Millisecond) // let the waiter reach Wait and suspend
	cond.Notify()

	<-done
	require.True(t, woke)
}

// TestCond_NotifyLatchesWithNoWaiter exercises the deliberately preserved
// one-shot latch: Notify with nobody waiting still sets the flag, and the
// next Wait consumes it without suspending at all.
func TestCond_NotifyLatchesWithNoWaiter(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	cond := NewCond(sched)
	cond.Notify() // nobody waiting yet

	var notified bool
	done := make(chan struct{})
	sched.Add("late-waiter", func(y *Yield) (any, error) {
		defer close(done)
		require.NoError(t, cond.Acquire(y.ID()))
		n, err := cond.Wait(y)
		notified = n
		return nil, err
	})

	<-done
	// Wait consumed the latched flag without suspending, so it reports
	// false (no genuine wakeup occurred) even though Notify had fired.
	require.False(t, notified)
}

func TestCond_WaitRequiresOwnership(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	cond := NewCond(sched)
	var waitErr error
	done := make(chan struct{})
	sched.Add("non-owner", func(y *Yield) (any, error) {
		defer close(done)
		_, err := cond.Wait(y)
		waitErr = err
		return nil, err
	})

	<-done
	require.ErrorIs(t, waitErr, ErrNotOwner)
}
