// Package executor defines the two narrow capabilities the reactor core
// consumes for offloading work: posting a unit of work, and posting one
// after a delay. Everything that actually runs tasks — a thread pool, the
// event loop itself, or a caller's own goroutine dispatcher — satisfies
// one or both interfaces; the core never depends on a concrete scheduler.
package executor

import "time"

// Executor accepts a unit of work for execution, possibly on another
// goroutine. Implementations must not block the caller.
type Executor interface {
	Post(task func())
}

// TimedExecutor additionally accepts a task to run after a delay.
type TimedExecutor interface {
	Executor
	// PostTimed schedules task to run after delay. task returns the next
	// delay to rearm itself after (0 stops rearming). The returned cancel
	// function prevents the task from running if called before it fires;
	// calling cancel after the task has already run is a no-op.
	PostTimed(task func() time.Duration, delay time.Duration) (cancel func())
}

// Inline runs tasks synchronously on the calling goroutine. It is useful
// as a default Executor for recv-callback installation when the caller
// did not request offload: spec.md requires inline-on-the-loop dispatch
// when no executor is supplied.
var Inline Executor = inlineExecutor{}

type inlineExecutor struct{}

func (inlineExecutor) Post(task func()) { task() }
