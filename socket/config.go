// Package socket implements the buffered, non-blocking stream socket
// (spec.md §4.3) and its listening counterpart, the Acceptor (§4.4),
// atop reactor.EventLoop/Watcher/Timer.
package socket

import "time"

const (
	defaultMaxBufferCapacity = 16 << 20 // 16 MiB
	defaultRecvChunkSize     = 4096
)

// KeepAlive holds TCP keep-alive parameters; all-zero disables keep-alive.
type KeepAlive struct {
	Idle     time.Duration
	Interval time.Duration
	Count    int
}

// Config holds the options spec.md §4.3 says may only be set while a
// Socket is Closed.
type Config struct {
	RecvBufferMaxCapacity int
	SendBufferMaxCapacity int
	RecvChunkSize         int
	RecvTimeout           time.Duration
	SendTimeout           time.Duration
	RcvBuf                int // kernel SO_RCVBUF, 0 = leave default
	SndBuf                int // kernel SO_SNDBUF, 0 = leave default
	NoDelay               bool
	KeepAlive             KeepAlive
}

// DefaultConfig returns the documented defaults: 16 MiB buffers, 4096
// byte recv chunks, no idle timeouts, no keep-alive.
func DefaultConfig() Config {
	return Config{
		RecvBufferMaxCapacity: defaultMaxBufferCapacity,
		SendBufferMaxCapacity: defaultMaxBufferCapacity,
		RecvChunkSize:         defaultRecvChunkSize,
	}
}

func (c Config) normalized() Config {
	if c.RecvBufferMaxCapacity <= 0 {
		c.RecvBufferMaxCapacity = defaultMaxBufferCapacity
	}
	if c.SendBufferMaxCapacity <= 0 {
		c.SendBufferMaxCapacity = defaultMaxBufferCapacity
	}
	if c.RecvChunkSize <= 0 {
		c.RecvChunkSize = defaultRecvChunkSize
	}
	return c
}
