package scheduler

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/malms/internal/queue"
)

// core is the per-core slot: availability, assigned queue and the worker
// pinned to it.
//
// Thread-safety:
//   - available, assigned and destruct are written under mu
//   - available and assigned are atomics so a worker's dispatch gate can
//     read them under the queue lock without taking mu
//   - cond is signalled by the listener (availability), scheduling
//     (assignment) and teardown (destruct)
type core struct {
	index int
	cpu   int // -1 when not pinned

	mu        sync.Mutex
	cond      *sync.Cond
	available atomic.Bool
	assigned  atomic.Pointer[queue.Queue]
	destruct  bool
	tid       atomic.Int64 // Worker OS thread id, 0 when unknown or exited

	// --- Operational Stats ---

	executed atomic.Uint64
	blocks   atomic.Uint64
	unblocks atomic.Uint64
}

func newCore(index, cpu int) *core {
	c := &core{index: index, cpu: cpu}
	c.cond = sync.NewCond(&c.mu)
	c.available.Store(true)
	return c
}

// runnable reports whether the worker may dispatch. Caller holds mu.
func (c *core) runnable() bool {
	return c.available.Load() && c.assigned.Load() != nil
}

// assign swaps the assigned queue under mu and wakes whoever needs to
// notice. Returns the previous queue.
func (c *core) assign(q *queue.Queue) *queue.Queue {
	c.mu.Lock()
	old := c.assigned.Swap(q)
	c.mu.Unlock()

	if old == q {
		return old
	}
	if q != nil {
		c.cond.Broadcast()
	}
	if old != nil {
		// Move the worker out of the old queue if it is parked there.
		old.Interrupt()
	}
	return old
}

// unassign clears the assignment only if it still points at q.
func (c *core) unassign(q *queue.Queue) {
	c.mu.Lock()
	cleared := c.assigned.CompareAndSwap(q, nil)
	c.mu.Unlock()

	if cleared {
		q.Interrupt()
	}
}

// setAvailable applies an availability change under mu and wakes the worker.
func (c *core) setAvailable(available bool) {
	c.mu.Lock()
	c.available.Store(available)
	if available {
		c.unblocks.Add(1)
	} else {
		c.blocks.Add(1)
	}
	q := c.assigned.Load()
	c.mu.Unlock()

	if available {
		c.cond.Broadcast()
		return
	}

	if q != nil {
		// A worker sleeping inside q re-checks its gate and leaves.
		q.Interrupt()
	}
}

// dispatchGate closes as soon as the core is blocked or reassigned away
// from q.
type dispatchGate struct {
	c *core
	q *queue.Queue
}

func (g dispatchGate) Allowed() bool {
	return g.c.available.Load() && g.c.assigned.Load() == g.q
}

// work is the worker loop of core c.
//
// Algorithm:
//  1. Lock the goroutine to its OS thread and pin it (result sent on pinned)
//  2. Under mu, sleep while unassigned or unavailable (counted as asleep)
//  3. Exit if destruct is set
//  4. Re-pin, release mu, take one item through the dispatch gate
//  5. A queue that reports draining is dropped from the assignment
func (s *Scheduler) work(c *core, pinned chan<- error) {
	defer s.wg.Done()

	// Never unlocked: a pinned thread must not go back to the runtime pool,
	// so it exits with the goroutine.
	runtime.LockOSThread()
	c.tid.Store(int64(threadID()))
	defer c.tid.Store(0)

	if err := s.pin(c); err != nil {
		pinned <- err
		return
	}
	pinned <- nil

	s.logger.Debug("worker started", "core", c.index, "cpu", c.cpu, "tid", threadID())

	c.mu.Lock()
	for {
		for !c.destruct && !c.runnable() {
			s.enterSleep()
			c.cond.Wait()
			s.leaveSleep()
		}

		if c.destruct {
			c.mu.Unlock()
			s.logger.Debug("worker exiting", "core", c.index)
			return
		}

		q := c.assigned.Load()
		c.mu.Unlock()

		// The OS may have migrated the thread.
		if s.opts.Pin {
			if err := PinThread(c.cpu); err != nil {
				s.logger.Warn("re-pin failed", "core", c.index, "cpu", c.cpu, "error", err)
			}
		}

		if q.WaitAndWorkOne(dispatchGate{c: c, q: q}) {
			c.executed.Add(1)
		} else if q.Draining() {
			c.mu.Lock()
			if c.assigned.Load() == q {
				c.assigned.Store(nil)
			}
			c.mu.Unlock()
		}

		c.mu.Lock()
	}
}

func (s *Scheduler) pin(c *core) error {
	if !s.opts.Pin {
		return nil
	}
	return PinThread(c.cpu)
}

// enterSleep and leaveSleep maintain the global asleep count.
// Lock order: core.mu, then sleepMu.
func (s *Scheduler) enterSleep() {
	s.sleepMu.Lock()
	s.sleeping++
	if s.sleeping == len(s.cores) {
		s.sleepCond.Broadcast()
	}
	s.sleepMu.Unlock()
}

func (s *Scheduler) leaveSleep() {
	s.sleepMu.Lock()
	s.sleeping--
	s.sleepMu.Unlock()
}

// waitQuiescent blocks until every worker is asleep.
func (s *Scheduler) waitQuiescent() {
	s.sleepMu.Lock()
	for s.sleeping != len(s.cores) {
		s.sleepCond.Wait()
	}
	s.sleepMu.Unlock()
}
