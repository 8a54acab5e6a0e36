// Package framing slices a Socket's byte stream into discrete
// length-prefixed messages (spec.md §4.5) and provides a
// newline-delimited sibling, LineSocket (SPEC_FULL.md §4.10).
package framing

import (
	"encoding/binary"

	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/rqerrors"
	"github.com/reactorq/reactorq/rqlog"
	"github.com/reactorq/reactorq/socket"
)

const (
	lengthPrefixSize        = 4
	defaultMaxMessageLength = 64 << 20 // 64 MiB
)

// RecvCallback receives one complete message per invocation (unlike
// socket.RecvCallback, which receives raw buffered bytes).
type RecvCallback func(message []byte)

// ConnectCallback and CloseCallback mirror socket's, forwarded unchanged.
type ConnectCallback func(err error)
type CloseCallback func(err error, unsentBytes int)

// FramingSocket owns a socket.Socket and derives its state from it,
// slicing the byte stream into `length:uint32_le payload` frames.
type FramingSocket struct {
	sock    *socket.Socket
	maxMsg  int
	recvCbs []RecvCallback
	log     func(args ...interface{})
}

// NewFramingSocket wraps sock with a frame codec. sock may be Closed or
// already Connected (an accepted socket, as FramingAcceptor passes it).
// maxMessageLength <= 0 selects the default of 64 MiB.
func NewFramingSocket(sock *socket.Socket, maxMessageLength int) *FramingSocket {
	if maxMessageLength <= 0 {
		maxMessageLength = defaultMaxMessageLength
	}
	fs := &FramingSocket{sock: sock, maxMsg: maxMessageLength}
	logger := rqlog.For("framing.socket")
	fs.log = func(args ...interface{}) { logger.Warnln(args...) }
	sock.AddRecvCallback(fs.onRecv)
	return fs
}

// Underlying returns the wrapped Socket, for auto-reconnect wiring and
// templated Acceptor configuration.
func (fs *FramingSocket) Underlying() *socket.Socket { return fs.sock }

func (fs *FramingSocket) State() socket.State      { return fs.sock.State() }
func (fs *FramingSocket) Remote() netutil.Endpoint { return fs.sock.Remote() }
func (fs *FramingSocket) UserClosed() bool         { return fs.sock.UserClosed() }

func (fs *FramingSocket) AddConnectCallback(cb ConnectCallback) {
	fs.sock.AddConnectCallback(socket.ConnectCallback(cb))
}

func (fs *FramingSocket) AddRecvCallback(cb RecvCallback) {
	fs.recvCbs = append(fs.recvCbs, cb)
}

func (fs *FramingSocket) AddSendCompleteCallback(cb func()) {
	fs.sock.AddSendCompleteCallback(socket.SendCompleteCallback(cb))
}

func (fs *FramingSocket) AddCloseCallback(cb CloseCallback) {
	fs.sock.AddCloseCallback(socket.CloseCallback(cb))
}

func (fs *FramingSocket) Open(remote netutil.Endpoint) error { return fs.sock.Open(remote) }
func (fs *FramingSocket) Close(err error)                    { fs.sock.Close(err) }

// Send frames and sends a single message.
func (fs *FramingSocket) Send(message []byte) error {
	return fs.SendV([][]byte{message})
}

// SendV frames parts as one message whose payload is their concatenation.
func (fs *FramingSocket) SendV(parts [][]byte) error {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total > fs.maxMsg {
		return rqerrors.ErrMessageTooLarge
	}
	var lenPrefix [lengthPrefixSize]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(total))
	framed := make([][]byte, 0, len(parts)+1)
	framed = append(framed, lenPrefix[:])
	framed = append(framed, parts...)
	return fs.sock.SendV(framed)
}

// onRecv is installed as the underlying socket's sole recv callback; it
// slices as many complete frames as are buffered and dispatches each to
// every registered message callback, reporting the byte count NOT
// forming a complete next frame back to Socket (spec.md §4.5's "report
// residual byte count").
func (fs *FramingSocket) onRecv(data []byte) (unconsumed int) {
	offset := 0
	for len(data)-offset >= lengthPrefixSize {
		length := int(binary.LittleEndian.Uint32(data[offset : offset+lengthPrefixSize]))
		if length > fs.maxMsg {
			fs.sock.Close(rqerrors.ErrMessageTooLarge)
			return len(data) - offset
		}
		if len(data)-offset < lengthPrefixSize+length {
			break
		}
		frame := data[offset+lengthPrefixSize : offset+lengthPrefixSize+length]
		for _, cb := range fs.recvCbs {
			cb(frame)
		}
		offset += lengthPrefixSize + length
	}
	return len(data) - offset
}
