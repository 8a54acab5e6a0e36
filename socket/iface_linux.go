//go:build linux

package socket

import "net"

// netInterfaceByName resolves a zone name (e.g. "eth0") to its kernel
// interface index for IPv6 link-local scope ids.
func netInterfaceByName(name string) (int, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return iface.Index, nil
}
