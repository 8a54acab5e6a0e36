package reactor

import "container/list"

// Callback is a readiness callback. Its return value is the re-arm flag:
// true keeps it registered for the next dispatch, false drops it.
type Callback func() (keep bool)

// Watcher multiplexes readiness callbacks for a single borrowed file
// descriptor (gaio's per-fd reader/writer container.list.List, adapted
// to a standing registration instead of gaio's one-shot aiocb — see
// DESIGN.md). A Watcher must be constructed and used only from its
// loop's owning goroutine.
type Watcher struct {
	loop *EventLoop
	fd   int

	readers *list.List
	writers *list.List

	registered bool
	armed      uint32 // current epoll interest mask, 0 if not yet added
}

// NewWatcher creates a Watcher over fd (borrowed, not owned by the
// Watcher) bound to loop.
func NewWatcher(loop *EventLoop, fd int) *Watcher {
	return &Watcher{
		loop:    loop,
		fd:      fd,
		readers: list.New(),
		writers: list.New(),
	}
}

// RegisterSelf registers the Watcher with its loop. Must be called on
// the loop thread.
func (w *Watcher) RegisterSelf() {
	w.loop.assertLoopThread()
	if w.registered {
		return
	}
	w.registered = true
	w.loop.registerWatcher(w)
}

// UnregisterSelf removes the Watcher from its loop. Per spec.md §4.2 this
// must only be called from within a task phase, so no in-flight
// readiness is observed after removal.
func (w *Watcher) UnregisterSelf() {
	w.loop.assertLoopThread()
	if !w.registered {
		return
	}
	if w.armed != 0 {
		_ = w.loop.pfd.remove(w.fd)
		w.armed = 0
	}
	w.registered = false
	w.loop.unregisterWatcher(w)
}

// AddReadCallback appends cb to the read-ready list.
func (w *Watcher) AddReadCallback(cb Callback) {
	w.readers.PushBack(cb)
	w.updateInterest()
}

// AddWriteCallback appends cb to the write-ready list.
func (w *Watcher) AddWriteCallback(cb Callback) {
	w.writers.PushBack(cb)
	w.updateInterest()
}

// ClearReadCallbacks empties the read-ready list.
func (w *Watcher) ClearReadCallbacks() {
	w.readers.Init()
	w.updateInterest()
}

// ClearWriteCallbacks empties the write-ready list.
func (w *Watcher) ClearWriteCallbacks() {
	w.writers.Init()
	w.updateInterest()
}

// dispatchRead invokes read-ready callbacks in FIFO order, retaining
// only those that return true.
func (w *Watcher) dispatchRead() {
	dispatchList(w.readers)
	w.updateInterest()
}

// dispatchWrite invokes write-ready callbacks in FIFO order, retaining
// only those that return true.
func (w *Watcher) dispatchWrite() {
	dispatchList(w.writers)
	w.updateInterest()
}

func dispatchList(l *list.List) {
	var next *list.Element
	for e := l.Front(); e != nil; e = next {
		next = e.Next()
		cb := e.Value.(Callback)
		if !cb() {
			l.Remove(e)
		}
	}
}

// updateInterest recomputes the desired epoll mask from the callback
// lists and syncs it with the kernel, per spec.md §4.2's invariant: the
// loop's interest mask equals (read_list.nonempty→READABLE) |
// (write_list.nonempty→WRITABLE).
func (w *Watcher) updateInterest() {
	if !w.registered {
		return
	}
	var want uint32
	if w.readers.Len() > 0 {
		want |= readable
	}
	if w.writers.Len() > 0 {
		want |= writable
	}
	if want == w.armed {
		return
	}
	switch {
	case want == 0:
		_ = w.loop.pfd.remove(w.fd)
	case w.armed == 0:
		_ = w.loop.pfd.add(w.fd, want)
	default:
		_ = w.loop.pfd.modify(w.fd, want)
	}
	w.armed = want
}
