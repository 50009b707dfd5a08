package asyncoro

import (
	"crypto/tls"
	"sync"

	"golang.org/x/sys/unix"
)

// AsyncSocket wraps a non-blocking OS socket handle with the async
// operations described in spec §4.3: recv, send, recvfrom, sendto, accept,
// connect, read(n), write(buffer), read_msg, write_msg, plus blocking
// variants that talk to the OS socket directly and never touch the
// notifier.
type AsyncSocket struct {
	fd       int
	notifier *Notifier
	authCode []byte
	blocking bool
	tlsConn  *tls.Conn // set by WrapTLS; no operation reads or writes through it

	mu      sync.Mutex
	started bool
}

// AcceptResult is what Accept resumes its caller with.
type AcceptResult struct {
	FD   int
	Addr unix.Sockaddr
}

// NewAsyncSocket wraps fd (already created by the caller, e.g. via
// unix.Socket) for use with notifier. authCode, if non-nil, is prefixed by
// WriteMsg to every frame it writes; ReadMsg neither reads nor checks it,
// so a reader must consume the prefix itself before calling ReadMsg.
// blocking sockets never touch the notifier; all
// operations delegate straight to the OS call.
func NewAsyncSocket(fd int, notifier *Notifier, authCode []byte, blocking bool) (*AsyncSocket, error) {
	s := &AsyncSocket{fd: fd, notifier: notifier, authCode: authCode, blocking: blocking}
	if !blocking {
		if err := setNonblocking(fd); err != nil {
			return nil, err
		}
		if err := notifier.AddFD(fd, true); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WrapTLS stores conn on the socket. No operation of AsyncSocket uses it:
// the blocking variants call the OS socket directly and the async ones go
// through the notifier, so neither reads or writes through conn. Async TLS
// is out of scope — see DESIGN.md.
func (s *AsyncSocket) WrapTLS(conn *tls.Conn) {
	s.tlsConn = conn
}

// Close unregisters fd from the notifier (if non-blocking) before closing
// the OS descriptor, per spec §5's resource lifecycle.
func (s *AsyncSocket) Close() error {
	if !s.blocking {
		s.notifier.DelFD(s.fd)
	}
	return closeFD(s.fd)
}

// suspendArmed performs the arming protocol's suspend-then-register half,
// in that order: Register is attempted first, and only once it succeeds is
// the coroutine actually marked Suspended. This differs from the spec's
// listed step order (suspend, then register) — safe in the source's
// single-threaded scheduler, where "suspend" is inert bookkeeping until
// the interpreter later yields control, but not safe if reversed in a
// genuinely concurrent Go runtime where the notifier goroutine could
// dispatch the continuation before the coroutine ever marks itself
// Suspended. Registering first and marking Suspended immediately
// afterward closes that window; the remaining narrow race (a poll cycle
// completing between Register's return and markSuspending) is caught by
// every poller's own staleness guard (the epoll/kqueue version counter,
// the select self-pipe nudge), which discards batches racing a concurrent
// registration change. See DESIGN.md.
func (s *AsyncSocket) suspendArmed(y *Yield, interest Interest, cont continuation) (any, error) {
	if err := s.notifier.Register(s.fd, interest, cont); err != nil {
		return nil, err
	}
	y.sched.markSuspending(y.coro, 0, false)
	return y.yieldAndWait(yieldMsg{kind: yieldSuspend})
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// Recv performs one non-blocking read, suspending the caller until the
// descriptor is readable.
func (s *AsyncSocket) Recv(y *Yield, buf []byte) (int, error) {
	if s.blocking {
		return unix.Read(s.fd, buf)
	}
	v, err := s.suspendArmed(y, InterestReadable, func(ev Interest, cerr error) {
		if cerr != nil {
			s.notifier.sched.Throw(y.ID(), cerr)
			return
		}
		n, rerr := readFD(s.fd, buf)
		s.notifier.Unregister(s.fd)
		if rerr != nil {
			s.notifier.sched.Throw(y.ID(), rerr)
			return
		}
		s.notifier.sched.Resume(y.ID(), n)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Send performs exactly one non-blocking write, suspending the caller
// until the descriptor is writable. No short-send retry happens at this
// level (spec §4.3) — callers needing a full write use Write.
func (s *AsyncSocket) Send(y *Yield, buf []byte) (int, error) {
	if s.blocking {
		return unix.Write(s.fd, buf)
	}
	v, err := s.suspendArmed(y, InterestWritable, func(ev Interest, cerr error) {
		if cerr != nil {
			s.notifier.sched.Throw(y.ID(), cerr)
			return
		}
		n, werr := writeFD(s.fd, buf)
		if werr != nil {
			s.notifier.Unregister(s.fd)
			s.notifier.sched.Throw(y.ID(), werr)
			return
		}
		s.notifier.Unregister(s.fd)
		s.notifier.sched.Resume(y.ID(), n)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Recvfrom is Recv's datagram counterpart, resuming with the byte count
// and peer address.
func (s *AsyncSocket) Recvfrom(y *Yield, buf []byte) (int, unix.Sockaddr, error) {
	if s.blocking {
		n, _, sa, err := unix.Recvmsg(s.fd, buf, nil, 0)
		return n, sa, err
	}
	type result struct {
		n  int
		sa unix.Sockaddr
	}
	v, err := s.suspendArmed(y, InterestReadable, func(ev Interest, cerr error) {
		if cerr != nil {
			s.notifier.sched.Throw(y.ID(), cerr)
			return
		}
		n, _, sa, rerr := unix.Recvmsg(s.fd, buf, nil, 0)
		s.notifier.Unregister(s.fd)
		if rerr != nil {
			s.notifier.sched.Throw(y.ID(), rerr)
			return
		}
		s.notifier.sched.Resume(y.ID(), result{n: n, sa: sa})
	})
	if err != nil {
		return 0, nil, err
	}
	r := v.(result)
	return r.n, r.sa, nil
}

// Sendto is Send's datagram counterpart.
func (s *AsyncSocket) Sendto(y *Yield, buf []byte, addr unix.Sockaddr) (int, error) {
	if s.blocking {
		if err := unix.Sendto(s.fd, buf, 0, addr); err != nil {
			return 0, err
		}
		return len(buf), nil
	}
	v, err := s.suspendArmed(y, InterestWritable, func(ev Interest, cerr error) {
		if cerr != nil {
			s.notifier.sched.Throw(y.ID(), cerr)
			return
		}
		serr := unix.Sendto(s.fd, buf, 0, addr)
		s.notifier.Unregister(s.fd)
		if serr != nil {
			s.notifier.sched.Throw(y.ID(), serr)
			return
		}
		s.notifier.sched.Resume(y.ID(), len(buf))
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Accept suspends the caller until a connection is pending, then accepts
// exactly one.
func (s *AsyncSocket) Accept(y *Yield) (AcceptResult, error) {
	if s.blocking {
		nfd, sa, err := unix.Accept(s.fd)
		return AcceptResult{FD: nfd, Addr: sa}, err
	}
	v, err := s.suspendArmed(y, InterestReadable, func(ev Interest, cerr error) {
		if cerr != nil {
			s.notifier.sched.Throw(y.ID(), cerr)
			return
		}
		nfd, sa, aerr := unix.Accept(s.fd)
		s.notifier.Unregister(s.fd)
		if aerr != nil {
			s.notifier.sched.Throw(y.ID(), aerr)
			return
		}
		s.notifier.sched.Resume(y.ID(), AcceptResult{FD: nfd, Addr: sa})
	})
	if err != nil {
		return AcceptResult{}, err
	}
	return v.(AcceptResult), nil
}

// Connect performs a non-blocking connect, arming Writable and checking
// SO_ERROR on first readiness.
//
// Deliberately preserved bug (spec §9): on non-zero SO_ERROR the
// continuation only logs — it does not resume or throw, leaving the
// caller suspended forever. Do not "fix" this without updating the
// contract callers rely on.
func (s *AsyncSocket) Connect(y *Yield, addr unix.Sockaddr) error {
	if s.blocking {
		return unix.Connect(s.fd, addr)
	}
	err := unix.Connect(s.fd, addr)
	if err != nil && err != unix.EINPROGRESS {
		return err
	}
	_, suspendErr := s.suspendArmed(y, InterestWritable, func(ev Interest, cerr error) {
		if cerr != nil {
			s.notifier.sched.Throw(y.ID(), cerr)
			return
		}
		errno, serr := socketError(s.fd)
		if serr != nil {
			s.notifier.sched.Throw(y.ID(), serr)
			return
		}
		if errno == 0 {
			s.notifier.Unregister(s.fd)
			s.notifier.sched.Resume(y.ID(), nil)
			return
		}
		logError(s.notifier.loggerOrDefault(), "socket", "connect failed", unix.Errno(errno), map[string]any{"fd": s.fd})
		// No Resume, no Throw: the caller stays suspended. See doc comment.
	})
	return suspendErr
}

// Read accumulates exactly n bytes (or, for a datagram socket, whatever
// one readiness event returns) across as many readiness events as needed.
// A zero-byte read (peer closed) returns a *DisconnectError, whether or
// not some bytes had already arrived; those bytes are dropped.
func (s *AsyncSocket) Read(y *Yield, n int, datagram bool) ([]byte, error) {
	if s.blocking {
		buf := make([]byte, n)
		got, err := unix.Read(s.fd, buf)
		if err != nil {
			return nil, err
		}
		return buf[:got], nil
	}

	acc := make([]byte, 0, n)
	var loop func()
	loop = func() {
		s.notifier.Register(s.fd, InterestReadable, func(ev Interest, cerr error) {
			if cerr != nil {
				s.notifier.Unregister(s.fd)
				s.notifier.sched.Throw(y.ID(), cerr)
				return
			}
			buf := make([]byte, n-len(acc))
			got, rerr := readFD(s.fd, buf)
			if rerr != nil {
				s.notifier.Unregister(s.fd)
				s.notifier.sched.Throw(y.ID(), rerr)
				return
			}
			if got == 0 {
				s.notifier.Unregister(s.fd)
				s.notifier.sched.Throw(y.ID(), &DisconnectError{})
				return
			}
			acc = append(acc, buf[:got]...)
			if len(acc) >= n || datagram {
				s.notifier.Unregister(s.fd)
				s.notifier.sched.Resume(y.ID(), acc)
				return
			}
			loop()
		})
	}

	loop()
	y.sched.markSuspending(y.coro, 0, false)
	v, err := y.yieldAndWait(yieldMsg{kind: yieldSuspend})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Write drains buf across as many readiness events as needed, returning
// (with a nil error) once every byte has been accepted by the OS.
func (s *AsyncSocket) Write(y *Yield, buf []byte) error {
	if s.blocking {
		_, err := unix.Write(s.fd, buf)
		return err
	}

	cursor := 0
	var loop func()
	loop = func() {
		s.notifier.Register(s.fd, InterestWritable, func(ev Interest, cerr error) {
			if cerr != nil {
				s.notifier.Unregister(s.fd)
				s.notifier.sched.Throw(y.ID(), cerr)
				return
			}
			n, werr := writeFD(s.fd, buf[cursor:])
			if werr != nil {
				s.notifier.Unregister(s.fd)
				s.notifier.sched.Throw(y.ID(), werr)
				return
			}
			cursor += n
			if cursor >= len(buf) {
				s.notifier.Unregister(s.fd)
				s.notifier.sched.Resume(y.ID(), nil)
				return
			}
			loop()
		})
	}

	loop()
	y.sched.markSuspending(y.coro, 0, false)
	_, err := y.yieldAndWait(yieldMsg{kind: yieldSuspend})
	return err
}
