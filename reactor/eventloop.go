// Package reactor implements the single-threaded event loop, per-fd
// Watcher, and kernel-timer-backed Timer that everything else in
// reactorq is built on (spec.md §4.1–§4.2).
package reactor

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/reactorq/reactorq/executor"
	"github.com/reactorq/reactorq/rqerrors"
	"github.com/reactorq/reactorq/rqlog"
)

// State is the loop's current dispatch phase.
type State int

const (
	Idle State = iota
	Callback
	Task
	TimedTask
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Callback:
		return "callback"
	case Task:
		return "task"
	case TimedTask:
		return "timed_task"
	default:
		return "unknown"
	}
}

const maxEventsPerWait = 256
const maxTasksPerDrain = 256

// timedTask is one pending postTimed registration.
type timedTask struct {
	fd   int
	task func() time.Duration
}

// EventLoop owns the kernel readiness demultiplexer, the self-wake
// handle, the fd→Watcher registry, the deferred task queue, and the
// timer-fd table described in spec.md §3. All mutation of Watcher
// callback lists, Socket/Timer lifecycle, and these internal maps must
// happen on the loop's owning goroutine.
type EventLoop struct {
	pfd     *poller
	wakeFD  int
	ownerID uint64
	started bool

	state State

	watchers map[int]*Watcher
	timers   map[int]*timedTask

	tasksMu sync.Mutex
	tasks   []func()

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  bool

	log logEntry
}

// logEntry is the narrow slice of *logrus.Entry this package uses,
// expressed as an interface so tests can stub it trivially.
type logEntry interface {
	Warnf(format string, args ...interface{})
}

// New constructs an EventLoop. It does not start dispatching until Run
// (or Background) is called.
func New() (*EventLoop, error) {
	pfd, err := newPoller()
	if err != nil {
		return nil, err
	}
	wakeFD, err := newSelfWake()
	if err != nil {
		_ = pfd.close()
		return nil, err
	}
	if err := pfd.add(wakeFD, readable); err != nil {
		_ = pfd.close()
		_ = closeFD(wakeFD)
		return nil, rqerrors.Wrap(err, "reactor: register self-wake")
	}
	return &EventLoop{
		pfd:      pfd,
		wakeFD:   wakeFD,
		watchers: make(map[int]*Watcher),
		timers:   make(map[int]*timedTask),
		stopCh:   make(chan struct{}),
		log:      rqlog.For("reactor.eventloop"),
	}, nil
}

// IsInLoopThread reports whether the calling goroutine is the loop's
// owning goroutine. Before Run has been called, every goroutine is
// considered "off-loop" (watchers/timers may be added directly, per
// spec.md §4.1's "or before run() begins").
func (l *EventLoop) IsInLoopThread() bool {
	return l.started && goroutineID() == l.ownerID
}

// Post appends task to the queue from any goroutine. If called from a
// goroutine other than the loop's own, it signals the self-wake handle
// so the next iteration picks the task up promptly.
func (l *EventLoop) Post(task func()) {
	l.tasksMu.Lock()
	l.tasks = append(l.tasks, task)
	l.tasksMu.Unlock()
	if !l.IsInLoopThread() {
		signalSelfWake(l.wakeFD)
	}
}

// PostTimed schedules task to run once after delay, on the loop thread.
// task's return value re-arms it for another delay (zero stops it). The
// returned cancel function prevents a future firing; it is safe to call
// from any goroutine, any number of times.
func (l *EventLoop) PostTimed(task func() time.Duration, delay time.Duration) (cancel func()) {
	var fd int
	var tt *timedTask
	var mu sync.Mutex
	cancelled := false

	register := func() {
		mu.Lock()
		defer mu.Unlock()
		if cancelled {
			return
		}
		tfd, err := newTimerFD()
		if err != nil {
			l.log.Warnf("postTimed: create timerfd: %v", err)
			return
		}
		if err := armTimerFD(tfd, delay.Nanoseconds(), 0); err != nil {
			l.log.Warnf("postTimed: arm timerfd: %v", err)
			_ = closeFD(tfd)
			return
		}
		if err := l.pfd.add(tfd, readable); err != nil {
			l.log.Warnf("postTimed: register timerfd: %v", err)
			_ = closeFD(tfd)
			return
		}
		fd = tfd
		tt = &timedTask{fd: tfd, task: task}
		l.timers[tfd] = tt
	}

	if l.IsInLoopThread() {
		register()
	} else {
		l.Post(register)
	}

	return func() {
		mu.Lock()
		cancelled = true
		f, t := fd, tt
		fd = 0
		mu.Unlock()
		if f == 0 {
			return
		}
		done := func() {
			// The fd number may have been recycled for another timed task
			// after this one stopped; only remove our own registration.
			if cur, ok := l.timers[f]; ok && cur == t {
				delete(l.timers, f)
				_ = l.pfd.remove(f)
				_ = closeFD(f)
			}
		}
		if l.IsInLoopThread() {
			done()
		} else {
			l.Post(done)
		}
	}
}

// Run enters the dispatch loop on the calling goroutine. It does not
// return until Stop is called.
func (l *EventLoop) Run() {
	l.ownerID = goroutineID()
	l.started = true

	events := make([]unix.EpollEvent, maxEventsPerWait)
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		ready, err := l.pfd.wait(events, -1)
		if err != nil {
			l.log.Warnf("epoll_wait: %v", err)
			continue
		}

		l.state = Callback
		for _, r := range ready {
			switch {
			case r.fd == l.wakeFD:
				drainSelfWake(l.wakeFD)
			default:
				if t, ok := l.timers[r.fd]; ok {
					l.fireTimedTask(t)
					continue
				}
				if w, ok := l.watchers[r.fd]; ok {
					if r.mask&readable != 0 {
						w.dispatchRead()
					}
					if r.mask&writable != 0 {
						w.dispatchWrite()
					}
				}
			}
		}
		l.state = Idle

		l.drainTasks()
		l.state = Idle

		select {
		case <-l.stopCh:
			return
		default:
		}
	}
}

func (l *EventLoop) fireTimedTask(t *timedTask) {
	if _, err := drainTimerFD(t.fd); err != nil {
		l.log.Warnf("drain timerfd: %v", err)
	}
	l.state = TimedTask
	next := t.task()
	l.state = Callback
	if next <= 0 {
		delete(l.timers, t.fd)
		_ = l.pfd.remove(t.fd)
		_ = closeFD(t.fd)
		return
	}
	if err := armTimerFD(t.fd, next.Nanoseconds(), 0); err != nil {
		l.log.Warnf("re-arm timerfd: %v", err)
		delete(l.timers, t.fd)
		_ = l.pfd.remove(t.fd)
		_ = closeFD(t.fd)
	}
}

func (l *EventLoop) drainTasks() {
	l.state = Task
	defer func() { l.state = Idle }()

	l.tasksMu.Lock()
	if len(l.tasks) == 0 {
		l.tasksMu.Unlock()
		return
	}
	batch := l.tasks
	if len(batch) > maxTasksPerDrain {
		batch, l.tasks = l.tasks[:maxTasksPerDrain], append([]func(){}, l.tasks[maxTasksPerDrain:]...)
	} else {
		l.tasks = nil
	}
	remaining := len(l.tasks)
	l.tasksMu.Unlock()

	for _, task := range batch {
		task()
	}
	if remaining > 0 {
		signalSelfWake(l.wakeFD)
	}
}

// Background constructs a loop on the calling goroutine and spawns a
// goroutine that takes ownership of it and runs it, returning the loop
// once that goroutine is recorded as the loop's owner.
func Background() (*EventLoop, error) {
	l, err := New()
	if err != nil {
		return nil, err
	}
	started := make(chan struct{})
	go func() {
		l.ownerID = goroutineID()
		l.started = true
		close(started)
		l.Run()
	}()
	<-started
	return l, nil
}

// Stop terminates the dispatch loop. It is safe to call from any
// goroutine and is idempotent.
func (l *EventLoop) Stop() {
	l.stopOnce.Do(func() {
		l.stopped = true
		close(l.stopCh)
		signalSelfWake(l.wakeFD)
	})
}

// Close releases the loop's kernel resources. Call only after Run has
// returned.
func (l *EventLoop) Close() error {
	_ = closeFD(l.wakeFD)
	return l.pfd.close()
}

// registerWatcher and unregisterWatcher back Watcher.RegisterSelf /
// UnregisterSelf; both assert the loop-thread invariant via panic, since
// spec.md §7 treats single-threaded-invariant violations as programmer
// errors, not runtime conditions.
func (l *EventLoop) registerWatcher(w *Watcher) {
	l.assertLoopThread()
	l.watchers[w.fd] = w
}

func (l *EventLoop) unregisterWatcher(w *Watcher) {
	l.assertLoopThread()
	delete(l.watchers, w.fd)
}

func (l *EventLoop) assertLoopThread() {
	if l.started && !l.IsInLoopThread() {
		panic("reactor: mutation of reactor state from outside the loop thread")
	}
}

var _ executor.TimedExecutor = (*EventLoop)(nil)
