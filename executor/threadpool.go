package executor

import "sync"

// ThreadPool is a fixed-size worker pool implementing Executor. Tasks are
// drained from a single buffered channel by N worker goroutines, mirroring
// the condvar-backed BlockingQueue of the worker-pool shape common across
// the corpus's networking servers (see DESIGN.md) — a Go channel plays the
// same role with none of the hand-rolled locking.
type ThreadPool struct {
	tasks chan func()
	wg    sync.WaitGroup

	closeOnce sync.Once
	done      chan struct{}
}

// NewThreadPool starts workers goroutines draining a queue of the given
// capacity. A queue capacity of 0 makes Post block once workers goroutines
// are all busy and no task is in flight to drain.
func NewThreadPool(workers, queueCapacity int) *ThreadPool {
	if workers < 1 {
		workers = 1
	}
	if queueCapacity < 0 {
		queueCapacity = 0
	}
	p := &ThreadPool{
		tasks: make(chan func(), queueCapacity),
		done:  make(chan struct{}),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *ThreadPool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Post enqueues task for execution on one of the pool's workers. Post
// panics if called after Stop.
func (p *ThreadPool) Post(task func()) {
	select {
	case <-p.done:
		panic("executor: Post on stopped ThreadPool")
	default:
	}
	p.tasks <- task
}

// Stop closes the task queue and blocks until all queued tasks have
// drained and every worker has exited.
func (p *ThreadPool) Stop() {
	p.closeOnce.Do(func() {
		close(p.done)
		close(p.tasks)
	})
	p.wg.Wait()
}

var _ Executor = (*ThreadPool)(nil)
