package framing

import (
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/socket"
)

// AcceptCallback is invoked once per accepted connection, wrapped in a
// FramingSocket, with the same replace-semantics as socket.AcceptCallback.
type AcceptCallback func(conn *FramingSocket, remote netutil.Endpoint) (keep bool)

// FramingAcceptor is a socket.Acceptor whose accepted connections are
// wrapped in FramingSocket before being handed to the user.
type FramingAcceptor struct {
	acc    *socket.Acceptor
	maxMsg int
}

// NewFramingAcceptor constructs a FramingAcceptor templated with cfg for
// accepted sockets' options and maxMessageLength for their frame codec.
func NewFramingAcceptor(loop *reactor.EventLoop, cfg socket.Config, maxMessageLength int) *FramingAcceptor {
	return &FramingAcceptor{
		acc:    socket.NewAcceptor(loop, cfg),
		maxMsg: maxMessageLength,
	}
}

func (fa *FramingAcceptor) Open(local netutil.Endpoint) error { return fa.acc.Open(local) }
func (fa *FramingAcceptor) Close()                            { fa.acc.Close() }
func (fa *FramingAcceptor) Local() netutil.Endpoint           { return fa.acc.Local() }
func (fa *FramingAcceptor) State() socket.State               { return fa.acc.State() }

func (fa *FramingAcceptor) OnAccept(cb AcceptCallback) {
	fa.acc.OnAccept(func(conn *socket.Socket, remote netutil.Endpoint) bool {
		return cb(NewFramingSocket(conn, fa.maxMsg), remote)
	})
}
