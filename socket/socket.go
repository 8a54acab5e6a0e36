package socket

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/reactorq/reactorq/buffer"
	"github.com/reactorq/reactorq/internal/token"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/rqerrors"
	"github.com/reactorq/reactorq/rqlog"
)

// ConnectCallback is invoked exactly once per Open attempt. err is nil on
// success.
type ConnectCallback func(err error)

// RecvCallback is invoked with the currently buffered bytes; it returns
// the number of trailing bytes NOT consumed (spec.md §4.3's "how many
// bytes remain unconsumed"). The Socket advances its receive buffer by
// len(data)-unconsumed.
type RecvCallback func(data []byte) (unconsumed int)

// SendCompleteCallback is invoked whenever the send buffer drains to empty.
type SendCompleteCallback func()

// CloseCallback is invoked exactly once per Connected→Closed transition.
// err is nil for an orderly close (peer EOF or explicit Close()).
type CloseCallback func(err error, unsentBytes int)

// Socket is a buffered, non-blocking stream socket: connect, recv/send
// buffers, idle timers, and close, per spec.md §4.3.
type Socket struct {
	loop *reactor.EventLoop
	cfg  Config

	mu      sync.Mutex
	state   int32 // atomic State
	fd      int
	watcher *reactor.Watcher
	remote  netutil.Endpoint

	recvBuf *buffer.Buffer
	sendBuf *buffer.Buffer

	recvTimer  *reactor.Timer
	sendTimer  *reactor.Timer
	recvActive bool
	sendActive bool

	connectCbs []ConnectCallback
	recvCbs    []RecvCallback
	sendCbs    []SendCompleteCallback
	closeCbs   []CloseCallback

	// alive gates the deferred dial closure posted by Open when called off
	// the loop thread: it is reissued on every Open so a reconnect gets a
	// fresh token, and closed by Close/Reset so a dial queued before the
	// user's Close runs doesn't resurrect the connection after the fact.
	alive *token.Token

	userClosed int32 // atomic bool
	log        *logrus.Entry
}

// NewSocket constructs a Socket bound to loop, in the Closed state.
func NewSocket(loop *reactor.EventLoop, cfg Config) *Socket {
	cfg = cfg.normalized()
	return &Socket{
		loop:  loop,
		cfg:   cfg,
		state: int32(Closed),
		alive: token.New(),
		log:   rqlog.For("socket"),
	}
}

func (s *Socket) State() State { return State(atomic.LoadInt32(&s.state)) }

func (s *Socket) setState(st State) { atomic.StoreInt32(&s.state, int32(st)) }

// Remote returns the peer endpoint, valid once Connecting or Connected.
func (s *Socket) Remote() netutil.Endpoint { return s.remote }

// FD returns the underlying file descriptor, valid once Connecting or Connected.
func (s *Socket) FD() int { return s.fd }

func (s *Socket) AddConnectCallback(cb ConnectCallback) { s.connectCbs = append(s.connectCbs, cb) }

func (s *Socket) AddRecvCallback(cb RecvCallback) {
	s.recvCbs = append(s.recvCbs, cb)
	if s.watcher != nil && len(s.recvCbs) == 1 {
		s.armRecvInterest()
	}
}

func (s *Socket) AddSendCompleteCallback(cb SendCompleteCallback) {
	s.sendCbs = append(s.sendCbs, cb)
}
func (s *Socket) AddCloseCallback(cb CloseCallback) { s.closeCbs = append(s.closeCbs, cb) }

// UserClosed reports whether the socket was closed via an explicit
// Close()/Reset() call rather than an internal error path — the signal
// auto-reconnect uses to decide whether to reopen (spec.md §4.3).
func (s *Socket) UserClosed() bool { return atomic.LoadInt32(&s.userClosed) != 0 }

// Open dials remote. If called off the loop thread, the dial is deferred
// onto the loop and this returns nil immediately; outcome is reported
// exclusively via the connect callback in that case.
func (s *Socket) Open(remote netutil.Endpoint) error {
	s.alive = token.New()
	if !s.loop.IsInLoopThread() {
		w := s.alive.Weak()
		s.loop.Post(func() {
			alive, done := w.Alive()
			if !alive {
				return
			}
			defer done()
			_ = s.openOnLoop(remote)
		})
		return nil
	}
	return s.openOnLoop(remote)
}

func (s *Socket) openOnLoop(remote netutil.Endpoint) error {
	domain, sa, err := domainAndSockaddr(remote)
	if err != nil {
		s.fireConnect(err)
		return err
	}
	fd, err := newNonBlockingStreamSocket(domain)
	if err != nil {
		s.fireConnect(err)
		return err
	}
	applyOptions(fd, domain, s.cfg)

	s.remote = remote
	err = connectNonBlocking(fd, sa)
	switch {
	case err == nil:
		s.adoptFD(fd, remote)
		s.fireConnect(nil)
		return nil
	case err == unix.EINPROGRESS:
		s.fd = fd
		s.setState(Connecting)
		s.watcher = reactor.NewWatcher(s.loop, fd)
		s.watcher.RegisterSelf()
		s.watcher.AddWriteCallback(s.onConnectWritable)
		return nil
	default:
		_ = closeFD(fd)
		s.fireConnect(err)
		return err
	}
}

func (s *Socket) onConnectWritable() bool {
	err := socketError(s.fd)
	if err != nil {
		s.teardown()
		s.fireConnect(err)
		return false
	}
	s.watcher.ClearWriteCallbacks()
	s.setupIO()
	s.setState(Connected)
	s.fireConnect(nil)
	return false
}

// Adopt takes ownership of an already-accepted, non-blocking fd
// (spec.md's "open(fd, remote)") directly into Connected.
func (s *Socket) Adopt(fd int, remote netutil.Endpoint) {
	s.remote = remote
	s.adoptFD(fd, remote)
}

func (s *Socket) adoptFD(fd int, remote netutil.Endpoint) {
	s.fd = fd
	s.remote = remote
	s.watcher = reactor.NewWatcher(s.loop, fd)
	s.watcher.RegisterSelf()
	s.setupIO()
	s.setState(Connected)
}

func (s *Socket) setupIO() {
	s.recvBuf = buffer.New(s.cfg.RecvBufferMaxCapacity)
	s.sendBuf = buffer.New(s.cfg.SendBufferMaxCapacity)
	if len(s.recvCbs) > 0 {
		s.armRecvInterest()
	}

	if s.cfg.RecvTimeout > 0 {
		s.recvTimer = reactor.NewTimer(s.loop)
		_ = s.recvTimer.Open(s.cfg.RecvTimeout, true)
		s.recvTimer.AddExpireCallback(s.onRecvIdle)
	}
	if s.cfg.SendTimeout > 0 {
		s.sendTimer = reactor.NewTimer(s.loop)
		_ = s.sendTimer.Open(s.cfg.SendTimeout, true)
		s.sendTimer.AddExpireCallback(s.onSendIdle)
	}
}

func (s *Socket) armRecvInterest() {
	s.watcher.AddReadCallback(s.onReadable)
}

func (s *Socket) fireConnect(err error) {
	for _, cb := range s.connectCbs {
		cb(err)
	}
}

// ---- read path (spec.md §4.3 "Read path (write-ready)") ----

func (s *Socket) onReadable() bool {
	if s.recvBuf.Full() {
		s.teardownAndClose(rqerrors.ErrBufferFull)
		return false
	}
	chunk := s.cfg.RecvChunkSize
	if room := s.recvBuf.MaxCap() - s.recvBuf.Len(); s.recvBuf.MaxCap() > 0 && room < chunk {
		chunk = room
	}
	tail := s.recvBuf.Reserve(chunk)
	n, errno := unix.Read(s.fd, tail[:chunk])
	switch {
	case n > 0:
		s.recvBuf.Commit(n)
		s.recvActive = true
		s.dispatchRecv()
		return true
	case n == 0 && errno == nil:
		s.teardownAndClose(nil)
		return false
	default:
		if errno == unix.EAGAIN || errno == unix.EINTR {
			return true
		}
		s.teardownAndClose(errno)
		return false
	}
}

func (s *Socket) dispatchRecv() {
	for _, cb := range s.recvCbs {
		unconsumed := cb(s.recvBuf.Bytes())
		consumed := s.recvBuf.Len() - unconsumed
		if consumed > 0 {
			s.recvBuf.Advance(consumed)
		}
	}
}

func (s *Socket) onRecvIdle() bool {
	if s.recvBuf.Len() > 0 && !s.recvActive {
		s.teardownAndClose(rqerrors.ErrTimeout)
		return false
	}
	s.recvActive = false
	return s.State() == Connected
}

// ---- write path (spec.md §4.3 "Write path (write-ready)") ----

// Send requires Connected; an immediate non-blocking write is attempted
// first, with any residue queued in the send buffer.
func (s *Socket) Send(data []byte) error {
	return s.SendV([][]byte{data})
}

// SendV is the scatter-list form.
func (s *Socket) SendV(parts [][]byte) error {
	if s.State() != Connected {
		return rqerrors.ErrNotConnected
	}
	total := 0
	for _, p := range parts {
		total += len(p)
	}

	wasEmpty := s.sendBuf.Len() == 0
	written := 0
	if wasEmpty {
		n, err := writevNonBlocking(s.fd, parts)
		if err != nil && err != unix.EAGAIN && err != unix.EINTR {
			s.teardownAndClose(err)
			return err
		}
		written = n
	}
	residue := total - written

	if residue > 0 {
		if s.sendBuf.MaxCap() > 0 && s.sendBuf.Len()+residue > s.sendBuf.MaxCap() {
			return rqerrors.ErrBufferFull
		}
		consumed := written
		for _, p := range parts {
			if consumed >= len(p) {
				consumed -= len(p)
				continue
			}
			_ = s.sendBuf.Extend(p[consumed:])
			consumed = 0
		}
	}

	if s.sendBuf.Len() > 0 && wasEmpty {
		s.watcher.AddWriteCallback(s.onWritable)
	}
	return nil
}

func (s *Socket) onWritable() bool {
	if s.sendBuf.Len() > 0 {
		n, errno := unix.Write(s.fd, s.sendBuf.Bytes())
		switch {
		case errno == nil:
			s.sendBuf.Advance(n)
			s.sendActive = true
		case errno == unix.EAGAIN || errno == unix.EINTR:
			return true
		default:
			s.teardownAndClose(errno)
			return false
		}
	}
	if s.sendBuf.Len() == 0 {
		for _, cb := range s.sendCbs {
			cb()
		}
		return false
	}
	return true
}

func (s *Socket) onSendIdle() bool {
	if s.sendBuf != nil && s.sendBuf.Len() > 0 && !s.sendActive {
		s.teardownAndClose(rqerrors.ErrTimeout)
		return false
	}
	s.sendActive = false
	return s.State() == Connected
}

// ---- close / reset ----

// Close transitions to Closed, reporting err (nil for orderly close) and
// the number of unsent buffered bytes to close callbacks. Must not be
// called synchronously from within a ConnectCallback on this socket; post
// it instead, or it will block waiting on its own in-flight dial.
func (s *Socket) Close(err error) {
	atomic.StoreInt32(&s.userClosed, 1)
	s.alive.Close()
	s.closeAndNotify(err)
}

func (s *Socket) teardownAndClose(err error) {
	s.closeAndNotify(err)
}

func (s *Socket) closeAndNotify(err error) {
	if s.State() == Closed {
		return
	}
	unsent := 0
	if s.sendBuf != nil {
		unsent = s.sendBuf.Len()
	}
	if err != nil {
		s.log.WithField("remote", s.remote).Warnf("socket closed: %v", err)
	}
	s.teardown()
	for _, cb := range s.closeCbs {
		cb(err, unsent)
	}
}

// teardown marks the socket Closed and posts the watcher/timer/fd
// cleanup onto the loop so it happens only there, regardless of which
// goroutine called Close/Reset — Watcher and Timer are loop-owned state
// (spec.md §3/§5's teardown lifecycle rule; mirrors Acceptor.Close).
func (s *Socket) teardown() {
	s.setState(Closed)
	w := s.watcher
	recvTimer := s.recvTimer
	sendTimer := s.sendTimer
	fd := s.fd
	s.loop.Post(func() {
		if w != nil {
			w.ClearReadCallbacks()
			w.ClearWriteCallbacks()
			w.UnregisterSelf()
		}
		if recvTimer != nil {
			_ = recvTimer.Close()
		}
		if sendTimer != nil {
			_ = sendTimer.Close()
		}
		if fd != 0 {
			_ = closeFD(fd)
		}
	})
}

// Reset behaves like Close but clears user callbacks and buffers
// silently, firing no close callback.
func (s *Socket) Reset() {
	atomic.StoreInt32(&s.userClosed, 1)
	s.alive.Close()
	s.teardown()
	s.connectCbs = nil
	s.recvCbs = nil
	s.sendCbs = nil
	s.closeCbs = nil
	s.recvBuf = nil
	s.sendBuf = nil
}
