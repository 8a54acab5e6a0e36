// Package reqrep implements single-inflight request/reply atop
// framing.FramingSocket, per spec.md §4.7.
package reqrep

import "sync"

// Promise is a one-shot completion handle bound to a single inbound
// request. Complete is idempotent: only the first call has effect.
type Promise struct {
	mu         sync.Mutex
	done       bool
	onComplete func(reply []byte)
}

func newPromise(onComplete func(reply []byte)) *Promise {
	return &Promise{onComplete: onComplete}
}

// Complete invokes the reply path exactly once; subsequent calls are a
// silent no-op, matching spec.md §4.7's idempotence requirement.
func (p *Promise) Complete(reply []byte) {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()
	p.onComplete(reply)
}
