//go:build linux

package asyncoro

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// maxFDs bounds direct array indexing in epollPoller, matching the
// teacher's fixed-array FastPoller design.
const maxFDs = 65536

// epollPoller implements poller with edge-triggered epoll, preferred on
// Linux per spec §4.2's backend table.
//
// Direct array indexing (instead of a map) and a version counter for
// post-syscall staleness detection are carried over from the teacher's
// FastPoller (poller_linux.go); the per-fd callback field is dropped since
// this runtime's Notifier does its own centralized dispatch.
type epollPoller struct {
	epfd     int
	version  atomic.Uint64
	eventBuf [256]unix.EpollEvent
	fds      [maxFDs]fdInterest
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func newEpollPoller() (*epollPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd}, nil
}

func (p *epollPoller) registerFD(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return nil // idempotent per spec §4.2
	}
	p.fds[fd] = fdInterest{interest: interest, active: true}
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdInterest{}
		p.fdMu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) modifyFD(fd int, interest Interest) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return p.registerFD(fd, interest)
	}
	p.fds[fd].interest = interest
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) unregisterFD(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return nil // idempotent
	}
	p.fds[fd] = fdInterest{}
	p.version.Add(1)
	p.fdMu.Unlock()

	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) pollEvents(timeout time.Duration, out []readyEvent) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	v := p.version.Load()
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if p.version.Load() != v {
		// Registrations changed mid-wait; the returned batch may reference
		// descriptors that no longer mean what they did. Drop it rather
		// than risk dispatching a stale event.
		return 0, nil
	}

	count := 0
	for i := 0; i < n && count < len(out); i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		out[count] = readyEvent{fd: fd, interest: epollToInterest(p.eventBuf[i].Events)}
		count++
	}
	return count, nil
}

func (p *epollPoller) close() error {
	p.closed.Store(true)
	return unix.Close(p.epfd)
}

func interestToEpoll(interest Interest) uint32 {
	var e uint32
	if interest&InterestReadable != 0 {
		e |= unix.EPOLLIN
	}
	if interest&InterestWritable != 0 {
		e |= unix.EPOLLOUT
	}
	if e != 0 {
		// Edge-triggered: each Register/Modify call is itself a fresh
		// EPOLL_CTL_MOD, which re-arms the edge if the condition already
		// holds, so the single-shot-per-readiness-event dispatch model in
		// notifier.go never needs a drain-until-EAGAIN loop.
		e |= unix.EPOLLET
	}
	return e
}

func epollToInterest(events uint32) Interest {
	var interest Interest
	if events&unix.EPOLLIN != 0 {
		interest |= InterestReadable
	}
	if events&unix.EPOLLOUT != 0 {
		interest |= InterestWritable
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		interest |= InterestError
	}
	return interest
}

// newPollerForKind implements the per-platform half of backend selection;
// see notifier.go's newBackendPoller.
func newPollerForKind(kind BackendKind) (poller, bool, error) {
	switch kind {
	case BackendAuto, BackendEpoll:
		p, err := newEpollPoller()
		return p, true, err
	default:
		return nil, false, nil
	}
}
