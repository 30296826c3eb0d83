// Package queue implements the blocking work queue that pinned scheduler
// workers pull from, with phase-barrier and drain semantics.
//
// This package is INTERNAL - clients MUST use the public API in the parent package.
package queue

import (
	"sync"

	"github.com/google/uuid"
)

// Item is one unit of executable work. Execute performs its effect and
// returns nothing; items of the same phase must touch disjoint data.
type Item interface {
	Execute()
}

// Gate tells a worker whether it may still take work from this queue.
//
// The scheduler hands each worker a gate bound to its core. A closed gate
// (core blocked, or core reassigned to another queue) makes WaitAndWorkOne
// return without dequeuing.
type Gate interface {
	Allowed() bool
}

// State is the lifecycle state of a Queue.
type State int

const (
	// Accepting is the normal state: workers block for items.
	Accepting State = iota
	// Draining means ReleaseWaitingThreads has been called and workers are leaving.
	Draining
	// Drained is terminal: every worker has left.
	Drained
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case Draining:
		return "draining"
	case Drained:
		return "drained"
	default:
		return "unknown"
	}
}

// Queue is a FIFO of pending items shared by the workers scheduled onto it.
//
// Architecture:
//   - items: FIFO buffer (push at tail, pop at head)
//   - work: signals sleeping workers (item pushed, drain, interrupt)
//   - idle: signals controllers waiting on the barrier or on drain
//   - active/sleeping: workers currently inside WaitAndWorkOne
//
// Thread-safety:
//   - All fields protected by mu
//   - An item is executed with mu released
type Queue struct {
	id uuid.UUID

	// --- Queue State ---

	mu    sync.Mutex // Protects all fields below
	work  *sync.Cond // Signals workers
	idle  *sync.Cond // Signals barrier / drain waiters
	items []Item     // Pending items, head at index 0

	// --- Worker Accounting ---

	active   int // Workers holding or executing an item
	sleeping int // Workers blocked in work.Wait

	// --- Lifecycle ---

	draining bool // True after ReleaseWaitingThreads (no new waiters)
	drained  bool // True once every worker has left

	// --- Operational Stats ---

	pushed   uint64
	executed uint64
	dropped  uint64 // Pushed after draining, never executed
}

// New creates an empty queue in the Accepting state.
func New() *Queue {
	q := &Queue{id: uuid.New()}
	q.work = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	return q
}

// ID returns the queue's unique identifier.
func (q *Queue) ID() uuid.UUID {
	return q.id
}

// Push appends an item at the tail and wakes one sleeping worker.
//
// Safe from any goroutine. Items pushed after ReleaseWaitingThreads are
// accepted but never executed (counted as dropped).
func (q *Queue) Push(item Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pushed++
	if q.draining {
		q.dropped++
		return
	}

	q.items = append(q.items, item)
	q.work.Signal()
}

// WaitAndWorkOne blocks until an item is available, executes it, and
// returns true. It returns false without executing anything if the queue
// is draining or the gate closes while waiting.
//
// Algorithm:
//  1. Register as active
//  2. While empty: deregister, notify barrier if last active, sleep
//  3. On wake: leave if draining or gate closed
//  4. Pop head, release lock, execute, re-acquire, deregister
//
// gate may be nil (always allowed).
func (q *Queue) WaitAndWorkOne(gate Gate) bool {
	q.mu.Lock()

	if q.draining || !allowed(gate) {
		q.mu.Unlock()
		return false
	}

	q.active++

	for len(q.items) == 0 {
		q.active--
		if q.active == 0 {
			q.idle.Broadcast()
		}

		q.sleeping++
		q.work.Wait()
		q.sleeping--

		if q.draining || !allowed(gate) {
			// Hand a consumed Push signal on to a worker that can use it.
			if len(q.items) > 0 && !q.draining {
				q.work.Signal()
			}
			q.idle.Broadcast()
			q.mu.Unlock()
			return false
		}

		q.active++
	}

	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.mu.Unlock()

	item.Execute()

	q.mu.Lock()
	q.active--
	q.executed++
	if q.active == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()

	return true
}

// BlockUntilDone blocks until the queue is empty and no worker is
// executing one of its items. This is the phase barrier.
//
// On a draining queue pending items will never run, so it only waits for
// in-flight items.
func (q *Queue) BlockUntilDone() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.active > 0 || (len(q.items) > 0 && !q.draining) {
		q.idle.Wait()
	}
}

// Interrupt wakes every sleeping worker so it re-checks its gate.
// Workers whose gate is still open go back to sleep.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	q.work.Broadcast()
	q.mu.Unlock()
}

// ReleaseWaitingThreads moves the queue to Draining, wakes every sleeping
// worker, and blocks until all workers have left (active == 0 and
// sleeping == 0). In-flight items run to completion first.
//
// Idempotent: later calls return once the queue is drained.
func (q *Queue) ReleaseWaitingThreads() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.draining = true
	q.work.Broadcast()
	// Wake barrier waiters too; they observe draining and return.
	q.idle.Broadcast()

	for q.active != 0 || q.sleeping != 0 {
		q.idle.Wait()
	}

	q.dropped += uint64(len(q.items))
	q.items = nil
	q.drained = true
}

// Draining reports whether ReleaseWaitingThreads has been called.
func (q *Queue) Draining() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.draining
}

// State returns the current lifecycle state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

func (q *Queue) stateLocked() State {
	switch {
	case q.drained:
		return Drained
	case q.draining:
		return Draining
	default:
		return Accepting
	}
}

func allowed(gate Gate) bool {
	return gate == nil || gate.Allowed()
}
