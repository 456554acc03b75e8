//go:build linux

// Package network holds socket helpers for the HTTP listener.
package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a net.ListenConfig that sets SO_REUSEADDR
// before binding, so a restarted server can rebind a port still in
// TIME_WAIT.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return opErr
		},
	}
}
