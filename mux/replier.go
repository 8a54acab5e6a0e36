package mux

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/reactorq/reactorq/framing"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/rqlog"
	"github.com/reactorq/reactorq/socket"
)

// replyPromise binds a request id to its originating connection so a
// completion (possibly from another goroutine, via an Executor) can
// prepend the echoed id and send exactly once.
type replyPromise struct {
	mu   sync.Mutex
	done bool
	conn *framing.FramingSocket
	id   uint64
	log  *logrus.Entry
}

func (p *replyPromise) complete(reply []byte) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()

	if p.conn.State() != socket.Connected {
		return
	}
	var idBuf [requestIDSize]byte
	binary.LittleEndian.PutUint64(idBuf[:], p.id)
	if err := p.conn.SendV([][]byte{idBuf[:], reply}); err != nil {
		p.log.WithField("request_id", p.id).Warnf("mux replier: send reply failed: %v", err)
	}
}

// MultiplexingReplier owns a FramingAcceptor; on every accepted
// FramingSocket it strips the 8-byte request id, invokes the user
// handler, and re-prepends the same id on the reply, per spec.md §4.8.
// It keeps no set of accepted connections.
type MultiplexingReplier struct {
	acc     *framing.FramingAcceptor
	handler func(request []byte, complete func(reply []byte))
	log     *logrus.Entry
}

// NewMultiplexingReplier constructs a replier templated with cfg and
// maxMessageLength for accepted sockets. handler is invoked once per
// inbound request; it must call complete exactly once (directly, or
// later from any goroutine).
func NewMultiplexingReplier(loop *reactor.EventLoop, cfg socket.Config, maxMessageLength int, handler func(request []byte, complete func(reply []byte))) *MultiplexingReplier {
	mr := &MultiplexingReplier{handler: handler, log: rqlog.For("mux.replier")}
	mr.acc = framing.NewFramingAcceptor(loop, cfg, maxMessageLength)
	mr.acc.OnAccept(mr.onAccept)
	return mr
}

func (mr *MultiplexingReplier) Open(local netutil.Endpoint) error { return mr.acc.Open(local) }
func (mr *MultiplexingReplier) Close()                            { mr.acc.Close() }
func (mr *MultiplexingReplier) Local() netutil.Endpoint           { return mr.acc.Local() }

func (mr *MultiplexingReplier) onAccept(conn *framing.FramingSocket, remote netutil.Endpoint) bool {
	conn.AddRecvCallback(func(message []byte) {
		if len(message) < requestIDSize {
			mr.log.Warn("mux replier: dropping request shorter than request-id prefix")
			return
		}
		id := binary.LittleEndian.Uint64(message[:requestIDSize])
		payload := append([]byte(nil), message[requestIDSize:]...)

		p := &replyPromise{conn: conn, id: id, log: mr.log}
		mr.handler(payload, p.complete)
	})
	return true
}
