package pubsub

import (
	"bytes"
	"sync"
	"time"

	"github.com/reactorq/reactorq/framing"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/socket"
)

// TopicCallback receives the full message for a matched topic prefix.
type TopicCallback func(message []byte)

type topicEntry struct {
	prefix []byte
	cb     TopicCallback
}

// Subscriber dials one or more publishers and dispatches each inbound
// message to the first registered topic prefix it starts with, scanned
// in registration order, per spec.md §4.6.
type Subscriber struct {
	loop   *reactor.EventLoop
	cfg    socket.Config
	maxMsg int
	reconn time.Duration

	mu     sync.Mutex
	topics []topicEntry
	conns  map[string]*framing.FramingSocket // keyed by Endpoint.String()
}

// NewSubscriber constructs a Subscriber. reconnectInterval > 0 causes
// closed connections to be re-opened after that interval.
func NewSubscriber(loop *reactor.EventLoop, cfg socket.Config, maxMessageLength int, reconnectInterval time.Duration) *Subscriber {
	return &Subscriber{
		loop:   loop,
		cfg:    cfg,
		maxMsg: maxMessageLength,
		reconn: reconnectInterval,
		conns:  make(map[string]*framing.FramingSocket),
	}
}

// OnTopic registers a handler for messages whose payload starts with
// prefix. Prefixes are scanned in registration order; the first match
// wins and dispatch stops.
func (s *Subscriber) OnTopic(prefix []byte, cb TopicCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics = append(s.topics, topicEntry{prefix: append([]byte(nil), prefix...), cb: cb})
}

// Connect dials remote and begins dispatching inbound messages to the
// registered topic handlers.
func (s *Subscriber) Connect(remote netutil.Endpoint) error {
	sock := socket.NewSocket(s.loop, s.cfg)
	fs := framing.NewFramingSocket(sock, s.maxMsg)

	s.mu.Lock()
	s.conns[remote.String()] = fs
	s.mu.Unlock()

	// Re-registered on every successful (re)connect: CloseCallback below
	// unconditionally deletes this entry, and WithReconnect reopens the
	// same *FramingSocket without going back through Connect.
	fs.AddConnectCallback(func(err error) {
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[remote.String()] = fs
		s.mu.Unlock()
	})
	fs.AddRecvCallback(s.dispatch)
	if s.reconn > 0 {
		socket.WithReconnect(s.loop, sock, remote, s.reconn)
	}
	fs.AddCloseCallback(func(err error, _ int) {
		s.mu.Lock()
		delete(s.conns, remote.String())
		s.mu.Unlock()
	})
	return fs.Open(remote)
}

func (s *Subscriber) dispatch(message []byte) {
	s.mu.Lock()
	topics := s.topics
	s.mu.Unlock()

	for _, t := range topics {
		if bytes.HasPrefix(message, t.prefix) {
			t.cb(message)
			return
		}
	}
}

// Close disconnects every connection this Subscriber holds.
func (s *Subscriber) Close() {
	s.mu.Lock()
	conns := make([]*framing.FramingSocket, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.Close(nil)
	}
}
