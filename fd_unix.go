//go:build unix

package asyncoro

import (
	"golang.org/x/sys/unix"
)

// closeFD closes a file descriptor.
func closeFD(fd int) error {
	return unix.Close(fd)
}

// readFD reads from a file descriptor, used by async read/recv once the
// notifier has reported it readable.
func readFD(fd int, buf []byte) (int, error) {
	return unix.Read(fd, buf)
}

// writeFD writes to a file descriptor, used by async write/send once the
// notifier has reported it writable.
func writeFD(fd int, buf []byte) (int, error) {
	return unix.Write(fd, buf)
}

// setNonblocking puts fd into non-blocking mode, required before it is
// handed to a poller (all four backends assume non-blocking descriptors).
func setNonblocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// socketError reads and clears SO_ERROR, used by connect's continuation to
// discover whether the non-blocking connect actually succeeded.
func socketError(fd int) (int, error) {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return 0, err
	}
	return errno, nil
}
