package asyncoro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketpair creates a connected, non-blocking-capable pair of unix domain
// sockets, the cheapest stand-in for a real TCP connection in these tests.
func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestNotifier(t *testing.T, sched *Scheduler) *Notifier {
	t.Helper()
	n, err := NewNotifier(sched, WithBackend(BackendPoll), WithPollInterval(5*time.Millisecond), WithFDTimeout(50*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(n.Terminate)
	return n
}

func TestAsyncSocket_SendRecvRoundTrip(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()
	notifier := newTestNotifier(t, sched)

	fdA, fdB := socketpair(t)

	var recvd []byte
	done := make(chan struct{})

	sched.Add("receiver", func(y *Yield) (any, error) {
		defer close(done)
		sock, err := NewAsyncSocket(fdB, notifier, nil, false)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 5)
		n, err := sock.Recv(y, buf)
		if err != nil {
			return nil, err
		}
		recvd = buf[:n]
		return nil, nil
	})

	sched.Add("sender", func(y *Yield) (any, error) {
		sock, err := NewAsyncSocket(fdA, notifier, nil, false)
		if err != nil {
			return nil, err
		}
		_, err = sock.Send(y, []byte("hello"))
		return nil, err
	})

	<-done
	require.Equal(t, "hello", string(recvd))
}

func TestAsyncSocket_ReadAccumulatesAcrossEvents(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()
	notifier := newTestNotifier(t, sched)

	fdA, fdB := socketpair(t)

	var got []byte
	var readErr error
	done := make(chan struct{})

	sched.Add("reader", func(y *Yield) (any, error) {
		defer close(done)
		sock, err := NewAsyncSocket(fdB, notifier, nil, false)
		if err != nil {
			return nil, err
		}
		got, readErr = sock.Read(y, 10, false)
		return nil, readErr
	})

	// Write in two separate pieces so Read must re-arm at least once.
	go func() {
		unix.Write(fdA, []byte("hello"))
		time.Sleep(10 * time.Millisecond)
		unix.Write(fdA, []byte("world"))
	}()

	<-done
	require.NoError(t, readErr)
	require.Equal(t, "helloworld", string(got))
}

func TestAsyncSocket_WriteDrainsFullBuffer(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()
	notifier := newTestNotifier(t, sched)

	fdA, fdB := socketpair(t)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i)
	}

	writeDone := make(chan error, 1)
	sched.Add("writer", func(y *Yield) (any, error) {
		sock, err := NewAsyncSocket(fdA, notifier, nil, false)
		if err != nil {
			writeDone <- err
			return nil, err
		}
		err = sock.Write(y, payload)
		writeDone <- err
		return nil, err
	})

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 512)
	for len(got) < len(payload) {
		n, err := unix.Read(fdB, buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}

	require.NoError(t, <-writeDone)
	require.Equal(t, payload, got)
}
