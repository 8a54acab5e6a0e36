// Package pubsub implements fire-and-forget publish/subscribe atop
// framing.FramingSocket, per spec.md §4.6.
package pubsub

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/reactorq/reactorq/framing"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/rqlog"
	"github.com/reactorq/reactorq/socket"
)

// Publisher owns a FramingAcceptor and broadcasts every Send to all
// currently connected subscribers. max_connections bounds the live set;
// accepts beyond the bound are closed immediately.
type Publisher struct {
	mu             sync.Mutex
	acc            *framing.FramingAcceptor
	conns          map[*framing.FramingSocket]struct{}
	maxConnections int
	log            *logrus.Entry
}

// NewPublisher constructs a Publisher templated with cfg for accepted
// sockets, maxMessageLength for the frame codec, and maxConnections <= 0
// meaning unbounded.
func NewPublisher(loop *reactor.EventLoop, cfg socket.Config, maxMessageLength, maxConnections int) *Publisher {
	p := &Publisher{
		conns:          make(map[*framing.FramingSocket]struct{}),
		maxConnections: maxConnections,
		log:            rqlog.For("pubsub.publisher"),
	}
	p.acc = framing.NewFramingAcceptor(loop, cfg, maxMessageLength)
	p.acc.OnAccept(p.onAccept)
	return p
}

// Open starts listening on local.
func (p *Publisher) Open(local netutil.Endpoint) error { return p.acc.Open(local) }

// Close stops listening; already-connected subscribers are unaffected.
func (p *Publisher) Close() { p.acc.Close() }

// Local reports the bound listening address.
func (p *Publisher) Local() netutil.Endpoint { return p.acc.Local() }

func (p *Publisher) onAccept(conn *framing.FramingSocket, remote netutil.Endpoint) bool {
	p.mu.Lock()
	if p.maxConnections > 0 && len(p.conns) >= p.maxConnections {
		p.mu.Unlock()
		conn.Close(nil)
		return true
	}
	p.conns[conn] = struct{}{}
	p.mu.Unlock()

	conn.AddCloseCallback(func(err error, _ int) {
		p.mu.Lock()
		delete(p.conns, conn)
		p.mu.Unlock()
	})
	return true
}

// Send broadcasts msg to every currently connected subscriber. A socket
// whose send fails is logged and left to its own close path; the
// failure does not interrupt delivery to the others.
func (p *Publisher) Send(msg []byte) {
	p.mu.Lock()
	targets := make([]*framing.FramingSocket, 0, len(p.conns))
	for c := range p.conns {
		targets = append(targets, c)
	}
	p.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			p.log.WithField("remote", c.Remote()).Warnf("publish send failed: %v", err)
		}
	}
}

// ConnectionCount reports the number of currently connected subscribers.
func (p *Publisher) ConnectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}
