// Package token implements the liveness-token discipline spec.md §9
// calls for: a container holds a strong Token, every posted closure
// captures a Weak reference, and a closure checks Alive() before
// touching shared state. On teardown the container calls Token.Close,
// which flips the token dead and blocks until every in-flight closure
// that had already begun running has called its done func, guaranteeing no
// user callback fires after the container's close() has returned.
package token

import "sync"

// Token gates posted closures so they can detect that their owning
// container has begun teardown.
type Token struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a live Token.
func New() *Token {
	return &Token{}
}

// Weak returns a weak reference that posted closures should capture
// instead of the Token itself or the container.
func (t *Token) Weak() *Weak {
	return &Weak{t: t}
}

// Close marks the token dead, then blocks until every closure that
// Weak.Alive admitted has called the done func it was given. Close is
// idempotent.
func (t *Token) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

// enter registers an in-flight use of the token, returning false if the
// token is already closed.
func (t *Token) enter() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.wg.Add(1)
	return true
}

func (t *Token) exit() {
	t.wg.Done()
}

// Weak is the capture-safe handle a posted closure should hold.
type Weak struct {
	t *Token
}

// Alive reports whether the owning Token is still live, and if so,
// registers this call as in-flight until the returned done func runs.
// Callers must invoke done exactly once when the closure finishes
// touching shared state:
//
//	if alive, done := w.Alive(); alive {
//	    defer done()
//	    // touch shared state
//	}
func (w *Weak) Alive() (alive bool, done func()) {
	if !w.t.enter() {
		return false, func() {}
	}
	return true, w.t.exit
}
