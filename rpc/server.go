package rpc

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/reactorq/reactorq/executor"
	"github.com/reactorq/reactorq/mux"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/rqlog"
	"github.com/reactorq/reactorq/socket"
)

// MethodFunc handles one RPC call's payload, returning the bytes to
// send back as the Ok reply, or an error to report as a BadRequest
// (any other failure mode the handler wants to signal must be encoded
// into the reply bytes itself, per spec.md's method-level contract).
type MethodFunc func(payload []byte) ([]byte, error)

type registeredMethod struct {
	fn   MethodFunc
	exec executor.Executor
}

// Server owns a MultiplexingReplier and dispatches inbound requests by
// method name, per spec.md §4.9.
type Server struct {
	replier *mux.MultiplexingReplier

	mu      sync.RWMutex
	methods map[string]registeredMethod
	log     *logrus.Entry
}

func NewServer(loop *reactor.EventLoop, cfg socket.Config, maxMessageLength int) *Server {
	s := &Server{methods: make(map[string]registeredMethod), log: rqlog.For("rpc.server")}
	s.replier = mux.NewMultiplexingReplier(loop, cfg, maxMessageLength, s.handle)
	return s
}

// Register installs fn under name. If exec is non-nil, fn (and the
// promise completion) run on exec; otherwise inline on the loop thread.
func (s *Server) Register(name string, fn MethodFunc, exec executor.Executor) {
	s.mu.Lock()
	s.methods[name] = registeredMethod{fn: fn, exec: exec}
	s.mu.Unlock()
}

func (s *Server) Open(local netutil.Endpoint) error { return s.replier.Open(local) }
func (s *Server) Close()                            { s.replier.Close() }
func (s *Server) Local() netutil.Endpoint           { return s.replier.Local() }

func (s *Server) handle(request []byte, complete func(reply []byte)) {
	name, payload, ok := decodeRequest(request)
	if !ok {
		complete(encodeReply(StatusBadRequest, nil))
		return
	}

	s.mu.RLock()
	m, found := s.methods[name]
	s.mu.RUnlock()
	if !found {
		complete(encodeReply(StatusMethodNotFound, nil))
		return
	}

	run := func() {
		result, err := m.fn(payload)
		if err != nil {
			complete(encodeReply(StatusBadRequest, nil))
			return
		}
		complete(encodeReply(StatusOk, result))
	}
	if m.exec != nil {
		m.exec.Post(run)
	} else {
		run()
	}
}

func decodeRequest(request []byte) (name string, payload []byte, ok bool) {
	if len(request) < 1 {
		return "", nil, false
	}
	nameLen := int(request[0])
	if len(request) < 1+nameLen {
		return "", nil, false
	}
	return string(request[1 : 1+nameLen]), request[1+nameLen:], true
}

func encodeReply(status StatusCode, result []byte) []byte {
	reply := make([]byte, 1+len(result))
	reply[0] = byte(status)
	copy(reply[1:], result)
	return reply
}
