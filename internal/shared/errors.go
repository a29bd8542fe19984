package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks malformed or missing configuration.
	ErrConfig = errors.New("invalid configuration")
	// ErrEncode is returned when a probe packet's fields disagree.
	ErrEncode = errors.New("probe packet encode")
	// ErrDecode marks a malformed probe datagram. Receivers skip these.
	ErrDecode = errors.New("probe packet decode")
	// ErrInterrupted means the run was cancelled from outside. It is not a fault.
	ErrInterrupted = errors.New("interrupted")
	// ErrStatisticsWarning flags a statistics invariant that had to be clamped.
	ErrStatisticsWarning = errors.New("statistics warning")
)

// TransportError is a socket level failure that ends the current run.
type TransportError struct {
	Op   string // dial, bind, connect, accept, send, receive, close
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err with the failing operation and address.
func NewTransportError(op, addr string, err error) error {
	return &TransportError{Op: op, Addr: addr, Err: err}
}
