package reqrep

import (
	"time"

	"github.com/reactorq/reactorq/framing"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/rqerrors"
	"github.com/reactorq/reactorq/socket"
)

// RecvCallback receives a reply message as it arrives.
type RecvCallback func(message []byte)

// Requester owns one FramingSocket with optional auto-reconnect, per
// spec.md §4.7.
type Requester struct {
	loop   *reactor.EventLoop
	sock   *socket.Socket
	fs     *framing.FramingSocket
	reconn time.Duration

	connectedCh chan struct{}
}

// NewRequester constructs a Requester. reconnectInterval > 0 enables
// auto-reconnect per spec.md §4.3.
func NewRequester(loop *reactor.EventLoop, cfg socket.Config, maxMessageLength int, reconnectInterval time.Duration) *Requester {
	sock := socket.NewSocket(loop, cfg)
	fs := framing.NewFramingSocket(sock, maxMessageLength)
	r := &Requester{loop: loop, sock: sock, fs: fs, reconn: reconnectInterval, connectedCh: make(chan struct{})}
	fs.AddConnectCallback(func(err error) {
		if err == nil {
			select {
			case <-r.connectedCh:
			default:
				close(r.connectedCh)
			}
		}
	})
	return r
}

// Open dials remote.
func (r *Requester) Open(remote netutil.Endpoint) error {
	if r.reconn > 0 {
		socket.WithReconnect(r.loop, r.sock, remote, r.reconn)
	}
	return r.fs.Open(remote)
}

// Send transmits a single message.
func (r *Requester) Send(message []byte) error { return r.fs.Send(message) }

// OnRecv installs the single user recv callback.
func (r *Requester) OnRecv(cb RecvCallback) { r.fs.AddRecvCallback(framing.RecvCallback(cb)) }

// Close closes the underlying connection.
func (r *Requester) Close() { r.fs.Close(nil) }

// WaitForConnected blocks the calling goroutine (which must not be the
// loop thread) until the socket connects or timeout elapses, per
// spec.md §5.
func (r *Requester) WaitForConnected(timeout time.Duration) error {
	select {
	case <-r.connectedCh:
		return nil
	case <-time.After(timeout):
		return rqerrors.ErrTimeout
	}
}
