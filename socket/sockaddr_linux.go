//go:build linux

package socket

import (
	"golang.org/x/sys/unix"

	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/rqerrors"
)

// domainAndSockaddr translates a netutil.Endpoint into the raw
// (address-family, unix.Sockaddr) pair unix.Socket/unix.Connect/
// unix.Bind expect.
func domainAndSockaddr(ep netutil.Endpoint) (domain int, sa unix.Sockaddr, err error) {
	switch e := ep.(type) {
	case netutil.TCPEndpoint:
		if v4 := e.IP.To4(); v4 != nil {
			addr := &unix.SockaddrInet4{Port: e.Port}
			copy(addr.Addr[:], v4)
			return unix.AF_INET, addr, nil
		}
		v6 := e.IP.To16()
		if v6 == nil {
			return 0, nil, rqerrors.Wrapf(rqerrors.ErrUnsupportedEndpoint, "bad IP %v", e.IP)
		}
		addr := &unix.SockaddrInet6{Port: e.Port}
		copy(addr.Addr[:], v6)
		if e.Zone != "" {
			if idx, zerr := ifaceIndex(e.Zone); zerr == nil {
				addr.ZoneId = uint32(idx)
			}
		}
		return unix.AF_INET6, addr, nil
	case netutil.UnixEndpoint:
		name := e.Path
		if e.Abstract {
			name = "\x00" + name
		}
		return unix.AF_UNIX, &unix.SockaddrUnix{Name: name}, nil
	default:
		return 0, nil, rqerrors.Wrapf(rqerrors.ErrUnsupportedEndpoint, "%T", ep)
	}
}

func ifaceIndex(name string) (int, error) {
	iface, err := netInterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return iface, nil
}

// newNonBlockingStreamSocket creates a non-blocking, close-on-exec
// SOCK_STREAM fd for the given address family.
func newNonBlockingStreamSocket(domain int) (int, error) {
	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, rqerrors.Wrap(err, "socket: socket(2)")
	}
	return fd, nil
}

func setNonBlocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

func applyOptions(fd int, domain int, cfg Config) {
	if cfg.RcvBuf > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.RcvBuf)
	}
	if cfg.SndBuf > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.SndBuf)
	}
	if domain != unix.AF_UNIX && cfg.NoDelay {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}
	if domain != unix.AF_UNIX && cfg.KeepAlive.Idle > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(cfg.KeepAlive.Idle.Seconds()))
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(cfg.KeepAlive.Interval.Seconds()))
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, cfg.KeepAlive.Count)
	}
}

func connectNonBlocking(fd int, sa unix.Sockaddr) error {
	return unix.Connect(fd, sa)
}

func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return unix.Errno(errno)
}

func setReuseAddrPort(fd int) {
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
}

func bindAndListen(fd int, sa unix.Sockaddr) error {
	if err := unix.Bind(fd, sa); err != nil {
		return rqerrors.Wrap(err, "socket: bind(2)")
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		return rqerrors.Wrap(err, "socket: listen(2)")
	}
	return nil
}

func acceptNonBlocking(fd int) (nfd int, sa unix.Sockaddr, err error) {
	return unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

func sockaddrToEndpoint(sa unix.Sockaddr) netutil.Endpoint {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netutil.TCPEndpoint{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return netutil.TCPEndpoint{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrUnix:
		name := a.Name
		if len(name) > 0 && name[0] == 0 {
			return netutil.UnixEndpoint{Path: name[1:], Abstract: true}
		}
		return netutil.UnixEndpoint{Path: name}
	default:
		return nil
	}
}
