//go:build unix

package sockopt

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// ReuseAddr sets SO_REUSEADDR so a restarted server can rebind its port
// while old sockets linger in TIME_WAIT.
func ReuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}

// IsTransient reports whether a send failed for a reason worth one retry.
func IsTransient(err error) bool {
	return errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.ENOBUFS)
}
