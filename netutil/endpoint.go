// Package netutil provides the typed-endpoint parsing helpers consumed
// narrowly by Socket/Acceptor for tcp:// and unix:// address strings.
// Collapsed from the original's per-family C++ endpoint classes
// (IPV4Endpoint/IPV6Endpoint/UnixEndpoint) into two Go types since
// net.IP already unifies v4/v6 — see SPEC_FULL.md §3.
package netutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/reactorq/reactorq/rqerrors"
)

// Endpoint is a typed address with equality, hashing via String(), and a
// net.Addr-compatible Network()/String() pair.
type Endpoint interface {
	Network() string // "tcp" or "unix"
	String() string
	Equal(other Endpoint) bool
}

// TCPEndpoint is a dotted IPv4 or bracketed IPv6 (with optional
// %interface zone) TCP endpoint.
type TCPEndpoint struct {
	IP   net.IP
	Port int
	Zone string
}

func (e TCPEndpoint) Network() string { return "tcp" }

func (e TCPEndpoint) String() string {
	host := e.IP.String()
	if e.Zone != "" {
		host = host + "%" + e.Zone
	}
	if e.IP.To4() == nil {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("tcp://%s:%d", host, e.Port)
}

func (e TCPEndpoint) Equal(other Endpoint) bool {
	o, ok := other.(TCPEndpoint)
	if !ok {
		return false
	}
	return e.IP.Equal(o.IP) && e.Port == o.Port && e.Zone == o.Zone
}

// TCPAddr returns the stdlib net.TCPAddr equivalent for dialing/listening.
func (e TCPEndpoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: e.IP, Port: e.Port, Zone: e.Zone}
}

// UnixEndpoint is a filesystem-path or abstract (leading-NUL, "@name")
// Unix domain socket endpoint.
type UnixEndpoint struct {
	Path     string
	Abstract bool
}

func (e UnixEndpoint) Network() string { return "unix" }

func (e UnixEndpoint) String() string {
	if e.Abstract {
		return "unix://@" + e.Path
	}
	return "unix://" + e.Path
}

func (e UnixEndpoint) Equal(other Endpoint) bool {
	o, ok := other.(UnixEndpoint)
	if !ok {
		return false
	}
	return e.Path == o.Path && e.Abstract == o.Abstract
}

// UnixAddr returns the stdlib net.UnixAddr equivalent. Abstract sockets
// are represented with the conventional leading NUL byte.
func (e UnixEndpoint) UnixAddr() *net.UnixAddr {
	name := e.Path
	if e.Abstract {
		name = "\x00" + name
	}
	return &net.UnixAddr{Name: name, Net: "unix"}
}

// Parse parses "tcp://HOST:PORT" (IPv4 dotted, or IPv6 bracketed with
// optional %zone) or "unix:///path" / "unix://@name" (abstract) into a
// typed Endpoint.
func Parse(s string) (Endpoint, error) {
	switch {
	case strings.HasPrefix(s, "tcp://"):
		return parseTCP(strings.TrimPrefix(s, "tcp://"))
	case strings.HasPrefix(s, "unix://"):
		return parseUnix(strings.TrimPrefix(s, "unix://"))
	default:
		return nil, rqerrors.Wrapf(rqerrors.ErrUnsupportedEndpoint, "%q", s)
	}
}

func parseTCP(hostport string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return nil, rqerrors.Wrap(err, "netutil: parse tcp endpoint")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, rqerrors.Wrapf(rqerrors.ErrUnsupportedEndpoint, "bad port %q", portStr)
	}
	zone := ""
	if idx := strings.IndexByte(host, '%'); idx >= 0 {
		zone = host[idx+1:]
		host = host[:idx]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		// Not an IP literal. Hostnames are not resolved; only literal
		// IPv4/IPv6 addresses are accepted.
		return nil, rqerrors.Wrapf(rqerrors.ErrUnsupportedEndpoint, "bad host %q", host)
	}
	return TCPEndpoint{IP: ip, Port: port, Zone: zone}, nil
}

func parseUnix(rest string) (Endpoint, error) {
	if strings.HasPrefix(rest, "@") {
		return UnixEndpoint{Path: strings.TrimPrefix(rest, "@"), Abstract: true}, nil
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return UnixEndpoint{Path: rest}, nil
}
