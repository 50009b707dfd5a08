//go:build unix

package asyncoro

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller implements poller with poll(2), the portable level-triggered
// backend from spec §4.2's table: a direct mapping from Interest to
// POLLIN/POLLOUT, no edge-triggered bookkeeping required.
//
// New code (no teacher equivalent — FastPoller only ships epoll/kqueue
// variants), written in the same idiom: an RWMutex-guarded fd table,
// rebuilt into a unix.PollFd slice immediately before each syscall.
type pollPoller struct {
	mu     sync.RWMutex
	fds    map[int]Interest
	closed bool
}

func newPollPoller() (*pollPoller, error) {
	return &pollPoller{fds: make(map[int]Interest)}, nil
}

func (p *pollPoller) registerFD(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	if _, ok := p.fds[fd]; ok {
		return nil
	}
	p.fds[fd] = interest
	return nil
}

func (p *pollPoller) modifyFD(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPollerClosed
	}
	p.fds[fd] = interest
	return nil
}

func (p *pollPoller) unregisterFD(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fds, fd)
	return nil
}

func (p *pollPoller) pollEvents(timeout time.Duration, out []readyEvent) (int, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return 0, ErrPollerClosed
	}
	pfds := make([]unix.PollFd, 0, len(p.fds))
	for fd, interest := range p.fds {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: interestToPoll(interest)})
	}
	p.mu.RUnlock()

	if len(pfds) == 0 {
		time.Sleep(timeout)
		return 0, nil
	}

	n, err := unix.Poll(pfds, int(timeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < len(pfds) && count < len(out) && n > 0; i++ {
		if pfds[i].Revents == 0 {
			continue
		}
		n--
		out[count] = readyEvent{fd: int(pfds[i].Fd), interest: pollToInterest(pfds[i].Revents)}
		count++
	}
	return count, nil
}

func (p *pollPoller) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func interestToPoll(interest Interest) int16 {
	var e int16
	if interest&InterestReadable != 0 {
		e |= unix.POLLIN
	}
	if interest&InterestWritable != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func pollToInterest(revents int16) Interest {
	var interest Interest
	if revents&unix.POLLIN != 0 {
		interest |= InterestReadable
	}
	if revents&unix.POLLOUT != 0 {
		interest |= InterestWritable
	}
	if revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		interest |= InterestError
	}
	return interest
}
