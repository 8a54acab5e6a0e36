package reqrep

import (
	"sync"

	"github.com/reactorq/reactorq/framing"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/socket"
)

// Handler is invoked once per inbound request; it must call p.Complete
// exactly once (directly or later, from any goroutine).
type Handler func(request []byte, p *Promise)

// Replier owns a FramingAcceptor and a set of connected FramingSockets,
// dispatching each inbound frame to Handler via a fresh Promise.
type Replier struct {
	acc     *framing.FramingAcceptor
	handler Handler

	mu       sync.Mutex
	conns    map[*framing.FramingSocket]struct{}
	shutdown bool
}

// NewReplier constructs a Replier templated with cfg/maxMessageLength
// for accepted sockets.
func NewReplier(loop *reactor.EventLoop, cfg socket.Config, maxMessageLength int, handler Handler) *Replier {
	r := &Replier{
		handler: handler,
		conns:   make(map[*framing.FramingSocket]struct{}),
	}
	r.acc = framing.NewFramingAcceptor(loop, cfg, maxMessageLength)
	r.acc.OnAccept(r.onAccept)
	return r
}

func (r *Replier) Open(local netutil.Endpoint) error { return r.acc.Open(local) }

// Local reports the bound listening address.
func (r *Replier) Local() netutil.Endpoint { return r.acc.Local() }

// Close stops accepting new connections and marks the Replier shut
// down; any Promise completed after this point is silently dropped.
func (r *Replier) Close() {
	r.acc.Close()
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
}

func (r *Replier) onAccept(conn *framing.FramingSocket, remote netutil.Endpoint) bool {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()

	conn.AddCloseCallback(func(err error, _ int) {
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
	})
	conn.AddRecvCallback(func(request []byte) {
		r.dispatch(conn, request)
	})
	return true
}

func (r *Replier) dispatch(conn *framing.FramingSocket, request []byte) {
	req := append([]byte(nil), request...)
	p := newPromise(func(reply []byte) {
		r.mu.Lock()
		_, stillConnected := r.conns[conn]
		shutdown := r.shutdown
		r.mu.Unlock()
		if shutdown || !stillConnected || conn.State() != socket.Connected {
			return
		}
		if err := conn.Send(reply); err != nil {
			_ = err // socket failure is reported via its own close path
		}
	})
	r.handler(req, p)
}
