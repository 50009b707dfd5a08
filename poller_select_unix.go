//go:build unix

package asyncoro

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// selectPoller implements poller with select(2), the readiness-multiplexer
// fallback from spec §4.2's table: two descriptor sets (read and write; no
// exception set is passed to select, and InterestError is watched through
// the read set), plus a self-pipe (a connected datagram socket pair) used
// to interrupt a blocked call when the interest set changes mid-wait.
//
// New code (no teacher equivalent); the self-pipe pattern itself mirrors
// the teacher event loop's eventfd-based wakeup (wakeup_linux.go), adapted
// to a portable SOCK_DGRAM socketpair since select(2) has no Linux-only
// eventfd shortcut to lean on.
type selectPoller struct {
	mu      sync.Mutex
	fds     map[int]Interest
	closed  bool
	wakeR   int
	wakeW   int
}

func newSelectPoller() (*selectPoller, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, err
	}
	return &selectPoller{
		fds:   make(map[int]Interest),
		wakeR: fds[0],
		wakeW: fds[1],
	}, nil
}

func (p *selectPoller) nudge() {
	// Best-effort: a full datagram buffer or a closed peer just means the
	// blocked select call is already due to wake (or already woken).
	unix.Write(p.wakeW, []byte{0})
}

func (p *selectPoller) registerFD(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.fds[fd]; ok {
		return nil
	}
	p.fds[fd] = interest
	p.nudge()
	return nil
}

func (p *selectPoller) modifyFD(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	p.fds[fd] = interest
	p.nudge()
	return nil
}

func (p *selectPoller) unregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	p.nudge()
	return nil
}

func (p *selectPoller) pollEvents(timeout time.Duration, out []readyEvent) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPollerClosed
	}
	var rset, wset unix.FdSet
	maxFD := p.wakeR
	rset.Set(p.wakeR)
	for fd, interest := range p.fds {
		if interest&InterestReadable != 0 || interest&InterestError != 0 {
			rset.Set(fd)
		}
		if interest&InterestWritable != 0 {
			wset.Set(fd)
		}
		if fd > maxFD {
			maxFD = fd
		}
	}
	p.mu.Unlock()

	ts := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(maxFD+1, &rset, &wset, nil, &ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	if rset.IsSet(p.wakeR) {
		drainWake(p.wakeR)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for fd, interest := range p.fds {
		if count >= len(out) {
			break
		}
		var got Interest
		if rset.IsSet(fd) {
			got |= InterestReadable
		}
		if wset.IsSet(fd) {
			got |= InterestWritable
		}
		if got == 0 {
			continue
		}
		got &= interest | InterestError
		out[count] = readyEvent{fd: fd, interest: got}
		count++
	}
	return count, nil
}

func drainWake(fd int) {
	var buf [64]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (p *selectPoller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return nil
}

// newPollerForKind is defined per-platform (poller_linux.go,
// poller_darwin.go) for BackendAuto/BackendEpoll/BackendKqueue. This
// handles the explicit fallback kinds that are always available on unix.
func newPollerForExplicitFallback(kind BackendKind) (poller, bool, error) {
	switch kind {
	case BackendPoll:
		p, err := newPollPoller()
		return p, true, err
	case BackendSelect:
		p, err := newSelectPoller()
		return p, true, err
	default:
		return nil, false, nil
	}
}
