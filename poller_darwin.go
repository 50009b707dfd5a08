//go:build darwin

package asyncoro

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// maxFDLimit bounds dynamic growth of kqueuePoller's fds slice; generous
// enough for any realistic ulimit -n, matching the teacher's FastPoller.
const maxFDLimit = 100000000

// kqueuePoller implements poller with kqueue, the Darwin/BSD backend from
// spec §4.2's table: interest translates to add/delete filter records, and
// poll returns ident+filter pairs.
//
// Ported from the teacher's FastPoller (poller_darwin.go): a dynamically
// grown fds slice instead of epoll's fixed array, same RWMutex discipline.
// The per-fd callback field is dropped; pollEvents returns a batch for the
// Notifier to dispatch centrally instead of invoking a callback inline.
type kqueuePoller struct {
	kq       int
	eventBuf [256]unix.Kevent_t
	fds      []fdInterest
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func newKqueuePoller() (*kqueuePoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq, fds: make([]fdInterest, 256)}, nil
}

func (p *kqueuePoller) growLocked(fd int) {
	if fd < len(p.fds) {
		return
	}
	newSize := fd*2 + 1
	if newSize > maxFDLimit {
		newSize = maxFDLimit + 1
	}
	grown := make([]fdInterest, newSize)
	copy(grown, p.fds)
	p.fds = grown
}

func (p *kqueuePoller) registerFD(fd int, interest Interest) error {
	if p.closed.Load() {
		return ErrPollerClosed
	}
	if fd < 0 || fd >= maxFDLimit {
		return ErrFDOutOfRange
	}

	p.fdMu.Lock()
	p.growLocked(fd)
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return nil
	}
	p.fds[fd] = fdInterest{interest: interest, active: true}
	p.fdMu.Unlock()

	kevs := interestToKevents(fd, interest, unix.EV_ADD|unix.EV_ENABLE)
	if len(kevs) > 0 {
		if _, err := unix.Kevent(p.kq, kevs, nil, nil); err != nil {
			p.fdMu.Lock()
			p.fds[fd] = fdInterest{}
			p.fdMu.Unlock()
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) modifyFD(fd int, interest Interest) error {
	if fd < 0 || fd >= maxFDLimit {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return p.registerFD(fd, interest)
	}
	old := p.fds[fd].interest
	p.fds[fd].interest = interest
	p.fdMu.Unlock()

	if old&^interest != 0 {
		if kevs := interestToKevents(fd, old&^interest, unix.EV_DELETE); len(kevs) > 0 {
			unix.Kevent(p.kq, kevs, nil, nil)
		}
	}
	if interest&^old != 0 {
		if kevs := interestToKevents(fd, interest&^old, unix.EV_ADD|unix.EV_ENABLE); len(kevs) > 0 {
			if _, err := unix.Kevent(p.kq, kevs, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *kqueuePoller) unregisterFD(fd int) error {
	if fd < 0 {
		return ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return nil
	}
	interest := p.fds[fd].interest
	p.fds[fd] = fdInterest{}
	p.fdMu.Unlock()

	if kevs := interestToKevents(fd, interest, unix.EV_DELETE); len(kevs) > 0 {
		unix.Kevent(p.kq, kevs, nil, nil)
	}
	return nil
}

func (p *kqueuePoller) pollEvents(timeout time.Duration, out []readyEvent) (int, error) {
	if p.closed.Load() {
		return 0, ErrPollerClosed
	}

	ts := unix.NsecToTimespec(timeout.Nanoseconds())
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], &ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}

	count := 0
	for i := 0; i < n && count < len(out); i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}
		out[count] = readyEvent{fd: fd, interest: keventToInterest(&p.eventBuf[i])}
		count++
	}
	return count, nil
}

func (p *kqueuePoller) close() error {
	p.closed.Store(true)
	return unix.Close(p.kq)
}

func interestToKevents(fd int, interest Interest, flags uint16) []unix.Kevent_t {
	var kevs []unix.Kevent_t
	if interest&InterestReadable != 0 {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest&InterestWritable != 0 {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevs
}

func keventToInterest(kev *unix.Kevent_t) Interest {
	var interest Interest
	switch kev.Filter {
	case unix.EVFILT_READ:
		interest |= InterestReadable
	case unix.EVFILT_WRITE:
		interest |= InterestWritable
	}
	if kev.Flags&unix.EV_ERROR != 0 || kev.Flags&unix.EV_EOF != 0 {
		interest |= InterestError
	}
	return interest
}

// newPollerForKind implements the per-platform half of backend selection;
// see notifier.go's newBackendPoller.
func newPollerForKind(kind BackendKind) (poller, bool, error) {
	switch kind {
	case BackendAuto, BackendKqueue:
		p, err := newKqueuePoller()
		return p, true, err
	default:
		return nil, false, nil
	}
}
