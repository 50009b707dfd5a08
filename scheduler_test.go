package asyncoro

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestScheduler_AddAndJoin(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	var ran bool
	sched.Add("greeter", func(y *Yield) (any, error) {
		ran = true
		return nil, nil
	})

	sched.Join()
	require.True(t, ran)
}

func TestScheduler_SuspendAndResume(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	var got any
	id := sched.Add("waiter", func(y *Yield) (any, error) {
		v, err := y.Suspend()
		got = v
		return v, err
	})

	// Give the scheduler a moment to step the coroutine to its suspend
	// point before resuming it.
	time.Sleep(20 * time.Millisecond)
	sched.Resume(id, "payload")

	sched.Join()
	require.Equal(t, "payload", got)
}

func TestScheduler_ThrowIntoFreshCoroutine(t *testing.T) {
	// Throw is valid only while Scheduled (not yet stepped) or Stopped —
	// exercise the Scheduled case: a coroutine that has never run yet. The
	// error is delivered before the body starts (runBody never invokes
	// proc), so it surfaces as the coroutine's uncaught terminal error.
	logger := &captureLogger{}
	sched := NewScheduler(WithLogger(logger))
	defer sched.Terminate()

	wantErr := errors.New("boom")
	var gotErr error

	sched.mu.Lock()
	c := newCoroutine(0, "thrown-before-start")
	id := sched.registerAndStartLocked(c, func(y *Yield) (any, error) {
		_, err := y.Suspend()
		return nil, err
	})
	sched.mu.Unlock()
	sched.Throw(id, wantErr)

	<-c.done
	for _, e := range logger.entries() {
		if e.Level == LevelError && e.Category == "scheduler" {
			gotErr = e.Err
		}
	}
	require.ErrorIs(t, gotErr, wantErr)
}

func TestScheduler_ResumeRejectedFromWrongState(t *testing.T) {
	var logged []LogEntry
	logger := &captureLogger{}
	sched := NewScheduler(WithLogger(logger))
	defer sched.Terminate()

	// A Scheduled (not yet stepped) coroutine is not a valid Resume target.
	sched.mu.Lock()
	c := newCoroutine(0, "fresh")
	id := sched.registerAndStartLocked(c, func(y *Yield) (any, error) {
		return nil, nil
	})
	sched.mu.Unlock()

	sched.Resume(id, "ignored")
	sched.Join()

	logged = logger.entries()
	var sawWarn bool
	for _, e := range logged {
		if e.Level == LevelWarn && e.Category == "scheduler" {
			sawWarn = true
		}
	}
	require.True(t, sawWarn, "expected a logged warning for the invalid resume")
}

func TestScheduler_SleepOrdering(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	var mu sync.Mutex
	var order []string

	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	sched.Add("thirty", func(y *Yield) (any, error) {
		y.Sleep(30 * time.Millisecond)
		record("thirty")
		return nil, nil
	})
	sched.Add("ten", func(y *Yield) (any, error) {
		y.Sleep(10 * time.Millisecond)
		record("ten")
		return nil, nil
	})
	sched.Add("twenty", func(y *Yield) (any, error) {
		y.Sleep(20 * time.Millisecond)
		record("twenty")
		return nil, nil
	})

	sched.Join()

	require.Equal(t, []string{"ten", "twenty", "thirty"}, order)
}

func TestScheduler_SpawnReturnsChildValue(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	var parentResult any
	sched.Add("parent", func(y *Yield) (any, error) {
		v, err := y.Spawn("child", func(y *Yield) (any, error) {
			return 42, nil
		})
		parentResult = v
		return v, err
	})

	sched.Join()
	require.Equal(t, 42, parentResult)
}

func TestScheduler_SpawnPropagatesChildError(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	wantErr := errors.New("child failed")
	var parentErr error
	sched.Add("parent", func(y *Yield) (any, error) {
		_, err := y.Spawn("child", func(y *Yield) (any, error) {
			return nil, wantErr
		})
		parentErr = err
		return nil, err
	})

	sched.Join()
	require.ErrorIs(t, parentErr, wantErr)
}

func TestScheduler_CallIsSynchronousDelegation(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	var result any
	sched.Add("caller", func(y *Yield) (any, error) {
		v, err := y.Call("double", func(y *Yield) (any, error) {
			return 21 * 2, nil
		})
		result = v
		return v, err
	})

	sched.Join()
	require.Equal(t, 42, result)
}

func TestScheduler_TerminateThrowsIntoSuspended(t *testing.T) {
	sched := NewScheduler()

	var gotErr error
	done := make(chan struct{})
	sched.Add("waiter", func(y *Yield) (any, error) {
		defer close(done)
		_, err := y.Suspend()
		gotErr = err
		return nil, err
	})

	time.Sleep(20 * time.Millisecond)
	sched.Terminate()
	<-done

	require.ErrorIs(t, gotErr, ErrSchedulerTerminated)
}

// captureLogger records every entry logged through it, for assertions.
type captureLogger struct {
	mu   sync.Mutex
	logs []LogEntry
}

func (c *captureLogger) Log(e LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, e)
}

func (c *captureLogger) IsEnabled(LogLevel) bool { return true }

func (c *captureLogger) entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}
