package concurrent

import (
	"runtime"
	"sync"
	"sync/atomic"

	WeftLogger "github.com/weftlabs/weft/internal/utils/logger"
)

// Task is a unit of deferred work. It carries no identity: submitted,
// executed once, discarded.
type Task func()

// TaskPool runs submitted tasks on a fixed set of worker goroutines.
// The pending queue is unbounded so Submit never blocks. The active
// counter covers queued plus running tasks; WaitIdle is a completion
// barrier that leaves the pool usable afterwards.
type TaskPool struct {
	queueMu  sync.Mutex
	queue    []Task
	notEmpty *sync.Cond
	stopped  bool

	active atomic.Int64
	idleMu sync.Mutex
	idle   *sync.Cond

	workers int
	wg      sync.WaitGroup
}

// NewTaskPool starts workers goroutines. workers <= 0 selects the CPU
// count, falling back to 4 when that cannot be determined.
func NewTaskPool(workers int) *TaskPool {
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers <= 0 {
			workers = 4
		}
	}

	p := &TaskPool{workers: workers}
	p.notEmpty = sync.NewCond(&p.queueMu)
	p.idle = sync.NewCond(&p.idleMu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a task. The active counter is raised before the queue
// lock is released so a WaitIdle racing with Submit cannot slip through.
// A nil or stopped pool rejects the task with ErrTaskPanic.
func (p *TaskPool) Submit(task Task) error {
	if p == nil || task == nil {
		return ErrTaskPanic
	}

	p.queueMu.Lock()
	if p.stopped {
		p.queueMu.Unlock()
		return ErrTaskPanic
	}
	p.queue = append(p.queue, task)
	p.active.Add(1)
	p.notEmpty.Signal()
	p.queueMu.Unlock()
	return nil
}

// WaitIdle blocks until every submitted task has finished, including
// tasks submitted while waiting. The pool keeps running; submitting
// after WaitIdle returns is legal.
func (p *TaskPool) WaitIdle() {
	p.idleMu.Lock()
	for p.active.Load() != 0 {
		p.idle.Wait()
	}
	p.idleMu.Unlock()
}

// Stop marks the pool stopped, lets the workers drain and execute the
// remaining queue, and joins them. Further Submit calls fail. Stop is
// idempotent.
func (p *TaskPool) Stop() {
	p.queueMu.Lock()
	p.stopped = true
	p.notEmpty.Broadcast()
	p.queueMu.Unlock()

	p.wg.Wait()
}

// ActiveCount reports queued plus running tasks.
func (p *TaskPool) ActiveCount() int64 {
	return p.active.Load()
}

// Workers reports the fixed worker count the pool was built with.
func (p *TaskPool) Workers() int {
	return p.workers
}

func (p *TaskPool) worker() {
	defer p.wg.Done()

	for {
		p.queueMu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.notEmpty.Wait()
		}
		if len(p.queue) == 0 {
			// stopped and drained
			p.queueMu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.queueMu.Unlock()

		p.runTask(task)
	}
}

// runTask executes one task with panic containment: a panicking task is
// logged and swallowed, never allowed to kill the worker. The active
// counter is dropped and the idle barrier notified on every exit path.
func (p *TaskPool) runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			WeftLogger.Error().Component("taskpool").Msgf("task panicked: %v", r)
		}
		if p.active.Add(-1) == 0 {
			p.idleMu.Lock()
			p.idle.Broadcast()
			p.idleMu.Unlock()
		}
	}()

	task()
}
