package asyncoro

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestFraming_WriteMsgReadMsgRoundTrip(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()
	notifier := newTestNotifier(t, sched)

	fdA, fdB := socketpair(t)

	var gotUID uint32
	var gotPayload []byte
	done := make(chan struct{})

	sched.Add("reader", func(y *Yield) (any, error) {
		defer close(done)
		sock, err := NewAsyncSocket(fdB, notifier, []byte("auth-secret"), false)
		if err != nil {
			return nil, err
		}
		// Drain the auth prefix the writer sends first, exactly as a real
		// server would validate it before framing begins.
		prefix := make([]byte, len("auth-secret"))
		if _, err := sock.Read(y, len(prefix), false); err != nil {
			return nil, err
		}
		gotUID, gotPayload, err = sock.ReadMsg(y)
		return nil, err
	})

	sched.Add("writer", func(y *Yield) (any, error) {
		sock, err := NewAsyncSocket(fdA, notifier, []byte("auth-secret"), false)
		if err != nil {
			return nil, err
		}
		return nil, sock.WriteMsg(y, 7, []byte("payload"), false)
	})

	<-done
	require.Equal(t, uint32(7), gotUID)
	require.Equal(t, "payload", string(gotPayload))
}

func TestFraming_ShortReadIsDisconnectNotError(t *testing.T) {
	sched := NewScheduler()
	defer sched.Terminate()
	notifier := newTestNotifier(t, sched)

	fdA, fdB := socketpair(t)

	var uid uint32
	var payload []byte
	var err error
	done := make(chan struct{})

	sched.Add("reader", func(y *Yield) (any, error) {
		defer close(done)
		sock, nerr := NewAsyncSocket(fdB, notifier, nil, false)
		if nerr != nil {
			return nil, nerr
		}
		uid, payload, err = sock.ReadMsg(y)
		return nil, nil
	})

	// Close the peer immediately: the reader observes a short read on the
	// header and ReadMsg must return (0, nil, nil), not an error.
	unix.Close(fdA)

	<-done
	require.NoError(t, err)
	require.Zero(t, uid)
	require.Nil(t, payload)
}
