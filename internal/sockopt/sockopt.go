// Package sockopt holds the socket tweaks shared by the probe and control transports.
package sockopt

import "syscall"

// Control is the signature net.ListenConfig expects.
type Control func(network, address string, c syscall.RawConn) error

var _ Control = ReuseAddr
