//go:build !linux && !windows

package network

import "net"

// ReuseAddrListenConfig returns the default listen config; SO_REUSEADDR is
// the platform default for listeners here.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
