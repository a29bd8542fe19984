//go:build !unix

package sockopt

import (
	"errors"
	"syscall"
)

func ReuseAddr(network, address string, c syscall.RawConn) error {
	return nil
}

func IsTransient(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
