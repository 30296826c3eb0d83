// Package scheduler implements the malleable scheduler: one pinned worker
// per core, whose availability is toggled at runtime by events, pulling
// work from the queue assigned to its core.
//
// This package is INTERNAL - clients MUST use the public API in the parent package.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/malms/internal/events"
	"github.com/e7canasta/malms/internal/queue"
)

// DefaultEventBuffer is the listener channel capacity when Options leaves it 0.
const DefaultEventBuffer = 64

// Options configures a Scheduler.
type Options struct {
	// Cores is the number of workers. 0 means one per CPU (with Pin, one
	// per CPU in the process affinity mask).
	Cores int

	// Pin binds worker i to the i-th CPU of the process affinity mask.
	Pin bool

	// EventBuffer is the capacity of the availability event channel.
	EventBuffer int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Scheduler owns the per-core workers, the event listener and the job table.
//
// Goroutine topology:
//   - len(cores) workers, each locked to its own OS thread
//   - 1 listener, locked to its own OS thread, the only writer of availability
//
// Thread-safety: all exported methods are safe for concurrent use.
type Scheduler struct {
	opts   Options
	logger *slog.Logger
	cores  []*core

	// --- Event Listener ---

	events       chan events.Event
	stop         chan struct{} // Closed by Close to stop the listener
	listenerDone chan struct{}
	applied      atomic.Uint64
	ignored      atomic.Uint64

	// --- Job Table ---

	jobsMu sync.Mutex
	jobs   map[uuid.UUID]*queue.Queue
	closed bool // Protected by jobsMu

	// --- Quiescence ---

	sleepMu   sync.Mutex
	sleepCond *sync.Cond
	sleeping  int // Workers waiting on their core cond

	// --- Lifecycle ---

	wg        sync.WaitGroup // Workers
	closeOnce sync.Once
	startedAt time.Time
}

// New starts the workers and the listener. It returns once every worker is
// pinned (when requested) and asleep.
//
// With Pin, asking for more cores than the affinity mask holds, or any
// failing sched_setaffinity, returns an error wrapping ErrPinFailed and
// leaves no goroutine running.
func New(opts Options) (*Scheduler, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Cores < 0 {
		return nil, fmt.Errorf("%w: cores=%d", ErrInvalidCore, opts.Cores)
	}

	cpus, err := coreCPUs(opts)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		opts:         opts,
		logger:       opts.Logger.With("component", "scheduler"),
		cores:        make([]*core, len(cpus)),
		events:       make(chan events.Event, opts.EventBuffer),
		stop:         make(chan struct{}),
		listenerDone: make(chan struct{}),
		jobs:         make(map[uuid.UUID]*queue.Queue),
		startedAt:    time.Now(),
	}
	s.sleepCond = sync.NewCond(&s.sleepMu)

	pinned := make(chan error, len(cpus))
	for i, cpu := range cpus {
		s.cores[i] = newCore(i, cpu)
		s.wg.Add(1)
		go s.work(s.cores[i], pinned)
	}

	var pinErrs []error
	for range cpus {
		if err := <-pinned; err != nil {
			pinErrs = append(pinErrs, err)
		}
	}
	if len(pinErrs) > 0 {
		s.stopWorkers()
		return nil, fmt.Errorf("%w: %w", ErrPinFailed, errors.Join(pinErrs...))
	}

	s.waitQuiescent()

	go s.listen()

	s.logger.Info("scheduler started",
		"cores", len(s.cores),
		"pin", opts.Pin,
		"event_buffer", opts.EventBuffer)

	return s, nil
}

// coreCPUs returns the CPU each worker pins to (-1 when not pinning).
func coreCPUs(opts Options) ([]int, error) {
	if !opts.Pin {
		n := opts.Cores
		if n == 0 {
			n = runtime.NumCPU()
		}
		cpus := make([]int, n)
		for i := range cpus {
			cpus[i] = -1
		}
		return cpus, nil
	}

	allowed, err := AllowedCPUs()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPinFailed, err)
	}
	n := opts.Cores
	if n == 0 {
		n = len(allowed)
	}
	if n > len(allowed) {
		return nil, fmt.Errorf("%w: %d cores requested, affinity mask holds %d", ErrPinFailed, n, len(allowed))
	}
	return allowed[:n], nil
}

// NumCores returns the number of workers.
func (s *Scheduler) NumCores() int {
	return len(s.cores)
}

// --- Availability events ---

// Notify queues an availability event for the listener. It blocks while the
// event buffer is full. Out-of-range cores are accepted here and ignored by
// the listener.
func (s *Scheduler) Notify(ev events.Event) error {
	select {
	case <-s.stop:
		return ErrClosed
	default:
	}

	select {
	case s.events <- ev:
		return nil
	case <-s.stop:
		return ErrClosed
	}
}

// SetCoreAvailable is shorthand for Notify(Event{core, available}).
func (s *Scheduler) SetCoreAvailable(core int, available bool) error {
	return s.Notify(events.Event{Core: core, Available: available})
}

// listen applies events until Close. It is the only writer of core
// availability.
func (s *Scheduler) listen() {
	defer close(s.listenerDone)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-s.stop:
			return
		case ev := <-s.events:
			s.apply(ev)
		}
	}
}

func (s *Scheduler) apply(ev events.Event) {
	if ev.Core < 0 || ev.Core >= len(s.cores) {
		s.ignored.Add(1)
		s.logger.Warn("ignoring event for unknown core", "event", ev.String(), "cores", len(s.cores))
		return
	}

	s.cores[ev.Core].setAvailable(ev.Available)
	s.applied.Add(1)
	s.logger.Debug("core availability changed", "core", ev.Core, "available", ev.Available)
}

// --- Jobs ---

// NewJob creates and registers an empty queue. No core runs it until it is
// scheduled.
func (s *Scheduler) NewJob() (*queue.Queue, error) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	q := queue.New()
	s.jobs[q.ID()] = q
	s.logger.Debug("job created", "job", q.ID())
	return q, nil
}

// DeleteJob unregisters q, clears every core assignment pointing at it and
// drains it. It blocks until in-flight items of q have finished.
//
// Idempotent. A worker that loaded q before the clear finds it draining and
// returns without executing anything.
//
// Must not be called from an Item: on Linux that returns ErrWorkerCall,
// elsewhere it deadlocks.
func (s *Scheduler) DeleteJob(q *queue.Queue) error {
	if s.onWorker() {
		return ErrWorkerCall
	}

	s.jobsMu.Lock()
	_, ok := s.jobs[q.ID()]
	delete(s.jobs, q.ID())
	s.jobsMu.Unlock()

	for _, c := range s.cores {
		c.mu.Lock()
		if c.assigned.Load() == q {
			c.assigned.Store(nil)
		}
		c.mu.Unlock()
	}

	q.ReleaseWaitingThreads()

	if ok {
		s.logger.Debug("job deleted", "job", q.ID(), "dropped", q.Stats().Dropped)
	}
	return nil
}

// onWorker reports whether the caller runs on one of the worker threads.
// Workers never unlock their OS thread, so a matching thread id is the
// worker goroutine itself.
func (s *Scheduler) onWorker() bool {
	tid := threadID()
	if tid == 0 {
		return false
	}
	for _, c := range s.cores {
		if c.tid.Load() == int64(tid) {
			return true
		}
	}
	return false
}

// ScheduleJob assigns q to exactly the listed cores; every other core
// currently running q is unassigned.
func (s *Scheduler) ScheduleJob(q *queue.Queue, cores []int) error {
	mask := make([]bool, len(s.cores))
	for _, i := range cores {
		if i < 0 || i >= len(s.cores) {
			return fmt.Errorf("%w: %d", ErrInvalidCore, i)
		}
		mask[i] = true
	}
	return s.ScheduleMask(q, mask)
}

// ScheduleMask sets, for every core i, its assignment to q if mask[i] is
// true. Cores with mask[i] false that run q lose it; cores running another
// queue keep it. Missing trailing entries count as false.
func (s *Scheduler) ScheduleMask(q *queue.Queue, mask []bool) error {
	if len(mask) > len(s.cores) {
		return fmt.Errorf("%w: mask of %d cores, have %d", ErrInvalidCore, len(mask), len(s.cores))
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.jobs[q.ID()]; !ok {
		return ErrJobDeleted
	}

	for i, c := range s.cores {
		if i < len(mask) && mask[i] {
			c.assign(q)
		} else if c.assigned.Load() == q {
			c.unassign(q)
		}
	}
	return nil
}

// ScheduleToFirst assigns q to cores [0, n).
func (s *Scheduler) ScheduleToFirst(q *queue.Queue, n int) error {
	if n < 0 || n > len(s.cores) {
		return fmt.Errorf("%w: first %d of %d", ErrInvalidCore, n, len(s.cores))
	}
	mask := make([]bool, len(s.cores))
	for i := 0; i < n; i++ {
		mask[i] = true
	}
	return s.ScheduleMask(q, mask)
}

// ScheduleToAll assigns q to every core.
func (s *Scheduler) ScheduleToAll(q *queue.Queue) error {
	return s.ScheduleToFirst(q, len(s.cores))
}

// --- Teardown ---

// Close tears the scheduler down. Idempotent.
//
// Order:
//  1. Stop the listener and wait for it
//  2. Clear every core assignment
//  3. Drain every live job (in-flight items finish)
//  4. Wait until every worker is asleep
//  5. Set destruct on every core, wake workers, wait for them to exit
func (s *Scheduler) Close() error {
	if s.onWorker() {
		return ErrWorkerCall
	}

	s.closeOnce.Do(func() {
		s.logger.Info("scheduler stopping")

		close(s.stop)
		<-s.listenerDone

		for _, c := range s.cores {
			c.assign(nil)
		}

		s.jobsMu.Lock()
		s.closed = true
		jobs := make([]*queue.Queue, 0, len(s.jobs))
		for id, q := range s.jobs {
			jobs = append(jobs, q)
			delete(s.jobs, id)
		}
		s.jobsMu.Unlock()

		for _, q := range jobs {
			q.ReleaseWaitingThreads()
		}

		s.waitQuiescent()
		s.stopWorkers()

		s.logger.Info("scheduler stopped", "jobs_released", len(jobs))
	})
	return nil
}

// stopWorkers sets destruct on every core and waits for the workers.
func (s *Scheduler) stopWorkers() {
	for _, c := range s.cores {
		c.mu.Lock()
		c.destruct = true
		c.mu.Unlock()
		c.cond.Broadcast()
	}
	s.wg.Wait()
}
