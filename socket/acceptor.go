package socket

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/rqlog"
)

// AcceptCallback is invoked once per accepted connection. Returning false
// stops further accepts from being dispatched until re-armed by adding a
// new callback (spec.md §4.4's "replace semantics").
type AcceptCallback func(conn *Socket, remote netutil.Endpoint) (keep bool)

// Acceptor listens on a bound address and produces connected Sockets
// configured from Template, per spec.md §4.4.
type Acceptor struct {
	loop     *reactor.EventLoop
	Template Config

	fd      int
	watcher *reactor.Watcher
	state   State
	local   netutil.Endpoint

	acceptCb AcceptCallback
	log      *logrus.Entry
}

// NewAcceptor constructs an Acceptor bound to loop, in the Closed state.
func NewAcceptor(loop *reactor.EventLoop, template Config) *Acceptor {
	return &Acceptor{
		loop:     loop,
		Template: template.normalized(),
		state:    Closed,
		log:      rqlog.For("acceptor"),
	}
}

func (a *Acceptor) State() State            { return a.state }
func (a *Acceptor) Local() netutil.Endpoint { return a.local }

// OnAccept installs the (single, replace-semantics) accept callback.
func (a *Acceptor) OnAccept(cb AcceptCallback) { a.acceptCb = cb }

// Open binds and listens on local, arming SO_REUSEADDR/SO_REUSEPORT and
// a SOMAXCONN backlog.
func (a *Acceptor) Open(local netutil.Endpoint) error {
	if !a.loop.IsInLoopThread() {
		errCh := make(chan error, 1)
		a.loop.Post(func() { errCh <- a.openOnLoop(local) })
		return <-errCh
	}
	return a.openOnLoop(local)
}

func (a *Acceptor) openOnLoop(local netutil.Endpoint) error {
	domain, sa, err := domainAndSockaddr(local)
	if err != nil {
		return err
	}
	fd, err := newNonBlockingStreamSocket(domain)
	if err != nil {
		return err
	}
	setReuseAddrPort(fd)
	if err := bindAndListen(fd, sa); err != nil {
		_ = closeFD(fd)
		return err
	}
	a.fd = fd
	a.local = local
	if name, serr := unix.Getsockname(fd); serr == nil {
		if resolved := sockaddrToEndpoint(name); resolved != nil {
			a.local = resolved
		}
	}
	a.watcher = reactor.NewWatcher(a.loop, fd)
	a.watcher.RegisterSelf()
	a.watcher.AddReadCallback(a.onAcceptable)
	a.state = Connected
	return nil
}

func (a *Acceptor) onAcceptable() bool {
	for {
		nfd, sa, err := acceptNonBlocking(a.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				return true
			}
			a.log.WithError(err).Warn("accept4 failed")
			return true
		}
		remote := sockaddrToEndpoint(sa)
		conn := NewSocket(a.loop, a.Template)
		conn.Adopt(nfd, remote)
		if a.acceptCb != nil {
			if !a.acceptCb(conn, remote) {
				a.acceptCb = nil
			}
		} else {
			conn.Close(nil)
		}
	}
}

// Close stops listening and releases the fd. The watcher teardown and fd
// close are posted onto the loop since both are loop-owned state.
func (a *Acceptor) Close() {
	if a.state == Closed {
		return
	}
	a.state = Closed
	fd := a.fd
	w := a.watcher
	a.loop.Post(func() {
		if w != nil {
			w.ClearReadCallbacks()
			w.UnregisterSelf()
		}
		_ = closeFD(fd)
	})
}
