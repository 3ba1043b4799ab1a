package cron

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/weftlabs/weft/concurrent"
	WeftErrorHandler "github.com/weftlabs/weft/internal/utils/error"
	WeftLogger "github.com/weftlabs/weft/internal/utils/logger"
)

var (
	// ErrDuplicateID reports an Add with an id already registered.
	ErrDuplicateID = errors.New("cron: job id already registered")

	// ErrJobNotFound reports an operation against an unknown job id.
	ErrJobNotFound = errors.New("cron: job not found")
)

// Job is one scheduled unit of work. The scheduler hands out value
// copies; mutating a copy does not affect the registered job.
type Job struct {
	ID          string
	Description string
	Expression  *Expression
	Callback    func()
	NextFire    time.Time
	Enabled     bool
}

// clock abstracts time.Now and time.After so tests can drive the tick
// loop without wall-clock sleeps.
type clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Scheduler owns a set of jobs and a task pool. A ticker goroutine
// scans the jobs once per interval and submits every due, enabled
// callback to the pool. Callbacks for distinct jobs run concurrently;
// the same job may overlap itself when a callback outlasts its next
// fire.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	order   []string
	running bool
	stop    chan struct{}
	done    chan struct{}

	pool    *concurrent.TaskPool
	workers int

	recorder *WeftErrorHandler.ErrorHandler

	clk      clock
	interval time.Duration
}

// NewScheduler returns a stopped scheduler whose callbacks will run on
// a pool of workers goroutines (workers <= 0 selects the CPU count).
func NewScheduler(workers int) *Scheduler {
	return newScheduler(workers, realClock{}, time.Second)
}

func newScheduler(workers int, clk clock, interval time.Duration) *Scheduler {
	return &Scheduler{
		jobs:     make(map[string]*Job),
		workers:  workers,
		clk:      clk,
		interval: interval,
	}
}

// SetErrorHandler routes callback failures into an error recorder in
// addition to the log. Pass nil to disable recording.
func (s *Scheduler) SetErrorHandler(h *WeftErrorHandler.ErrorHandler) {
	s.mu.Lock()
	s.recorder = h
	s.mu.Unlock()
}

// Add registers a job under id with Enabled set and the first fire
// computed from now. It fails with ErrDuplicateID when the id is
// taken, with an ErrSyntax-wrapping error when the expression does
// not parse, and with ErrUnsatisfiable when no fire time exists.
func (s *Scheduler) Add(id, description, expression string, callback func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; exists {
		return ErrDuplicateID
	}

	expr, err := Parse(expression)
	if err != nil {
		return err
	}
	next, err := expr.Next(s.clk.Now())
	if err != nil {
		return err
	}

	s.jobs[id] = &Job{
		ID:          id,
		Description: description,
		Expression:  expr,
		Callback:    callback,
		NextFire:    next,
		Enabled:     true,
	}
	s.order = append(s.order, id)
	return nil
}

// Remove unregisters a job. In-flight callbacks for it finish but no
// longer advance anything.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	for i, jid := range s.order {
		if jid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetEnabled toggles a job without touching its next fire time.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Enabled = enabled
	return nil
}

// List returns a snapshot of all jobs in registration order.
func (s *Scheduler) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.jobs[id])
	}
	return out
}

// Start launches the ticker goroutine and the task pool. Calling
// Start on a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	if s.pool == nil {
		s.pool = concurrent.NewTaskPool(s.workers)
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
}

// Stop halts the ticker, waits for it to exit, and drains the pool:
// every already-dispatched callback runs to completion before Stop
// returns. A stopped scheduler can be started again.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done

	// the ticker is gone, nothing submits anymore
	s.mu.Lock()
	pool := s.pool
	s.pool = nil
	s.mu.Unlock()
	pool.Stop()
}

// run is the tick loop: scan and dispatch, then sleep one interval.
func (s *Scheduler) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		s.dispatchDue()

		select {
		case <-stop:
			return
		case <-s.clk.After(s.interval):
		}
	}
}

// dispatchDue collects the ids of enabled jobs whose fire time has
// arrived, then submits their callbacks outside the lock.
func (s *Scheduler) dispatchDue() {
	now := s.clk.Now()

	s.mu.Lock()
	var due []string
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Enabled && !job.NextFire.After(now) {
			due = append(due, id)
		}
	}
	pool := s.pool
	s.mu.Unlock()

	for _, id := range due {
		pool.Submit(func() { s.fire(id) })
	}
}

// fire runs one dispatched callback. The job is looked up again under
// the lock: it may have been removed between dispatch and execution.
// The next fire time advances from the scheduled instant plus one
// second, whether the callback succeeded or panicked; overlapping
// fires of the same instant advance it only once.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	callback := job.Callback
	recorder := s.recorder
	firedAt := job.NextFire
	s.mu.Unlock()

	runCallback(id, callback, recorder)

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok = s.jobs[id]
	if !ok || !job.NextFire.Equal(firedAt) {
		return
	}
	next, err := job.Expression.Next(firedAt.Add(time.Second))
	if err != nil {
		// without a next fire the job would stay due forever
		job.Enabled = false
		WeftLogger.Error().Component("cron").Msgf("job '%s': cannot advance fire time, disabling: %v", id, err)
		return
	}
	job.NextFire = next
}

func runCallback(id string, callback func(), recorder *WeftErrorHandler.ErrorHandler) {
	defer func() {
		if r := recover(); r != nil {
			WeftLogger.Error().Component("cron").Msgf("error executing job '%s': %v", id, r)
			if recorder != nil {
				recorder.Record(fmt.Errorf("job '%s' panicked: %v", id, r), WeftErrorHandler.ErrorContext{
					Source: "cron",
				})
			}
		}
	}()

	if callback != nil {
		callback()
	}
}
