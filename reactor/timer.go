package reactor

import (
	"time"

	"github.com/reactorq/reactorq/rqerrors"
)

// TimerState is the lifecycle state of a Timer.
type TimerState int

const (
	TimerClosed TimerState = iota
	TimerOpened
)

// ExpireCallback is invoked on each timer expiration. Its return value is
// the same re-arm convention as Watcher callbacks: true keeps it
// installed for the next expiration, false drops it.
type ExpireCallback func() (keep bool)

// Timer is a one-shot or periodic expiration callback backed by a kernel
// timer (timerfd on Linux), per spec.md §4's Timer component. Socket uses
// one Timer each for recv/send idle detection.
type Timer struct {
	loop    *EventLoop
	fd      int
	watcher *Watcher
	state   TimerState

	callbacks []ExpireCallback
}

// NewTimer creates a Timer bound to loop. It is Closed until Open.
func NewTimer(loop *EventLoop) *Timer {
	return &Timer{loop: loop, state: TimerClosed}
}

// Open arms the timer: periodic timers fire every interval starting
// after the first interval; one-shot timers fire once after interval.
func (t *Timer) Open(interval time.Duration, periodic bool) error {
	if t.state != TimerClosed {
		return rqerrors.ErrClosed
	}
	fd, err := newTimerFD()
	if err != nil {
		return err
	}
	rearm := int64(0)
	if periodic {
		rearm = interval.Nanoseconds()
	}
	if err := armTimerFD(fd, interval.Nanoseconds(), rearm); err != nil {
		_ = closeFD(fd)
		return err
	}
	t.fd = fd
	t.watcher = NewWatcher(t.loop, fd)
	t.watcher.RegisterSelf()
	t.watcher.AddReadCallback(t.onReadable)
	t.state = TimerOpened
	return nil
}

// AddExpireCallback appends an expiration callback.
func (t *Timer) AddExpireCallback(cb ExpireCallback) {
	t.callbacks = append(t.callbacks, cb)
}

func (t *Timer) onReadable() bool {
	if _, err := drainTimerFD(t.fd); err != nil {
		return t.state == TimerOpened
	}
	kept := t.callbacks[:0]
	for _, cb := range t.callbacks {
		if cb() {
			kept = append(kept, cb)
		}
	}
	t.callbacks = kept
	return true
}

// Close disarms and releases the timer's kernel resources.
func (t *Timer) Close() error {
	if t.state != TimerOpened {
		return nil
	}
	t.watcher.UnregisterSelf()
	err := closeFD(t.fd)
	t.state = TimerClosed
	return err
}

// State returns the timer's current lifecycle state.
func (t *Timer) State() TimerState { return t.state }
