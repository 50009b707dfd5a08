package asyncoro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNotifier_RequiresFDTimeoutAtLeastFivePollIntervals(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	_, err := NewNotifier(sched, WithPollInterval(time.Second), WithFDTimeout(time.Second))
	require.Error(t, err)
}

func TestNotifier_AddDelFDIdempotent(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()
	notifier := newTestNotifier(t, sched)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, notifier.AddFD(fds[0], true))
	require.NoError(t, notifier.AddFD(fds[0], true)) // second AddFD: no-op

	require.NoError(t, notifier.DelFD(fds[0]))
	require.NoError(t, notifier.DelFD(fds[0])) // second DelFD: no-op
}

func TestNotifier_RegisterThenModifyEquivalentToRegister(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()
	notifier := newTestNotifier(t, sched)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	var calls int
	buf := make([]byte, 1)
	cont := func(ev Interest, err error) {
		calls++
		// poll(2) is level-triggered: drain the byte and drop interest so
		// a second poll cycle doesn't see the fd readable again.
		unix.Read(fds[0], buf)
		notifier.Unregister(fds[0])
	}

	require.NoError(t, notifier.Register(fds[0], InterestReadable, cont))
	require.NoError(t, notifier.Modify(fds[0], InterestReadable, cont))

	unix.Write(fds[1], []byte("x"))
	time.Sleep(30 * time.Millisecond)

	require.Equal(t, 1, calls, "register;modify with the same interest should behave as a single register")
}

func TestNotifier_InactivitySweepThrowsTimeout(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()
	notifier := newTestNotifier(t, sched) // fdTimeout: 50ms, pollInterval: 5ms

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, notifier.AddFD(fds[0], true))

	var gotErr error
	done := make(chan struct{})
	notifier.Register(fds[0], InterestReadable, func(ev Interest, err error) {
		gotErr = err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("inactivity sweep never fired")
	}

	var timeoutErr *TimeoutError
	require.ErrorAs(t, gotErr, &timeoutErr)
}

func TestNotifier_SelectBackendRoundTrip(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()

	notifier, err := NewNotifier(sched, WithBackend(BackendSelect), WithPollInterval(5*time.Millisecond), WithFDTimeout(50*time.Millisecond))
	require.NoError(t, err)
	defer notifier.Terminate()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	done := make(chan struct{})
	buf := make([]byte, 1)
	require.NoError(t, notifier.AddFD(fds[0], false))
	notifier.Register(fds[0], InterestReadable, func(ev Interest, err error) {
		unix.Read(fds[0], buf)
		notifier.Unregister(fds[0])
		close(done)
	})

	unix.Write(fds[1], []byte("x"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("select backend never reported readiness")
	}
}
