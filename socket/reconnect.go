package socket

import (
	"time"

	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/rqlog"
)

// WithReconnect attaches connect/close callbacks to s that re-open s
// against remote after interval whenever the socket fails or is closed
// by the peer, per spec.md §4.3's auto-reconnect note. It does nothing
// once s.UserClosed() is true, so a deliberate Close stops the cycle.
func WithReconnect(loop *reactor.EventLoop, s *Socket, remote netutil.Endpoint, interval time.Duration) {
	log := rqlog.For("reconnect")
	var reopen func() time.Duration
	reopen = func() time.Duration {
		if s.UserClosed() {
			return 0
		}
		// A failed attempt is reported through the connect callback
		// below, which schedules the next one.
		if err := s.Open(remote); err != nil {
			log.WithError(err).WithField("remote", remote).Warn("reconnect attempt failed, retrying")
		}
		return 0
	}

	s.AddConnectCallback(func(err error) {
		if err == nil || s.UserClosed() {
			return
		}
		loop.PostTimed(reopen, interval)
	})
	s.AddCloseCallback(func(err error, _ int) {
		if s.UserClosed() {
			return
		}
		loop.PostTimed(reopen, interval)
	})
}
