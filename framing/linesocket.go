package framing

import (
	"bytes"

	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/rqerrors"
	"github.com/reactorq/reactorq/socket"
)

const defaultMaxLineLength = 1 << 20 // 1 MiB

// LineSocket is the newline-delimited sibling of FramingSocket,
// supplemented from original_source's ReadLineSocket: each message is a
// '\n'-terminated line with the delimiter stripped before dispatch.
type LineSocket struct {
	sock    *socket.Socket
	maxLine int
	recvCbs []RecvCallback
}

// NewLineSocket wraps sock with a newline-delimited codec. maxLineLength
// <= 0 selects the default of 1 MiB.
func NewLineSocket(sock *socket.Socket, maxLineLength int) *LineSocket {
	if maxLineLength <= 0 {
		maxLineLength = defaultMaxLineLength
	}
	ls := &LineSocket{sock: sock, maxLine: maxLineLength}
	sock.AddRecvCallback(ls.onRecv)
	return ls
}

func (ls *LineSocket) Underlying() *socket.Socket { return ls.sock }
func (ls *LineSocket) State() socket.State        { return ls.sock.State() }
func (ls *LineSocket) Remote() netutil.Endpoint   { return ls.sock.Remote() }
func (ls *LineSocket) UserClosed() bool           { return ls.sock.UserClosed() }

func (ls *LineSocket) AddConnectCallback(cb ConnectCallback) {
	ls.sock.AddConnectCallback(socket.ConnectCallback(cb))
}
func (ls *LineSocket) AddRecvCallback(cb RecvCallback) { ls.recvCbs = append(ls.recvCbs, cb) }
func (ls *LineSocket) AddSendCompleteCallback(cb func()) {
	ls.sock.AddSendCompleteCallback(socket.SendCompleteCallback(cb))
}
func (ls *LineSocket) AddCloseCallback(cb CloseCallback) {
	ls.sock.AddCloseCallback(socket.CloseCallback(cb))
}

func (ls *LineSocket) Open(remote netutil.Endpoint) error { return ls.sock.Open(remote) }
func (ls *LineSocket) Close(err error)                    { ls.sock.Close(err) }

// Send writes line followed by a single '\n'. line must not itself
// contain '\n'.
func (ls *LineSocket) Send(line []byte) error {
	if len(line) > ls.maxLine {
		return rqerrors.ErrMessageTooLarge
	}
	return ls.sock.SendV([][]byte{line, []byte("\n")})
}

func (ls *LineSocket) onRecv(data []byte) (unconsumed int) {
	offset := 0
	for {
		idx := bytes.IndexByte(data[offset:], '\n')
		if idx < 0 {
			if len(data)-offset > ls.maxLine {
				ls.sock.Close(rqerrors.ErrMessageTooLarge)
				return len(data) - offset
			}
			break
		}
		if idx > ls.maxLine {
			ls.sock.Close(rqerrors.ErrMessageTooLarge)
			return len(data) - offset
		}
		line := data[offset : offset+idx]
		for _, cb := range ls.recvCbs {
			cb(line)
		}
		offset += idx + 1
	}
	return len(data) - offset
}

// NewLineAcceptor mirrors NewFramingAcceptor for LineSocket, grounded on
// the same ReadLineAcceptor source as LineSocket itself.
type LineAcceptCallback func(conn *LineSocket, remote netutil.Endpoint) (keep bool)

type LineAcceptor struct {
	acc     *socket.Acceptor
	maxLine int
}

func NewLineAcceptor(loop *reactor.EventLoop, cfg socket.Config, maxLineLength int) *LineAcceptor {
	return &LineAcceptor{acc: socket.NewAcceptor(loop, cfg), maxLine: maxLineLength}
}

func (la *LineAcceptor) Open(local netutil.Endpoint) error { return la.acc.Open(local) }
func (la *LineAcceptor) Close()                            { la.acc.Close() }
func (la *LineAcceptor) Local() netutil.Endpoint           { return la.acc.Local() }

func (la *LineAcceptor) OnAccept(cb LineAcceptCallback) {
	la.acc.OnAccept(func(conn *socket.Socket, remote netutil.Endpoint) bool {
		return cb(NewLineSocket(conn, la.maxLine), remote)
	})
}
