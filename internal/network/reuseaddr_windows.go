//go:build windows

package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig mirrors the Linux helper. On Windows SO_REUSEADDR
// also lets a second process share the port, so only the restart case
// should rely on it.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
}
