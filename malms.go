package malms

import (
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/e7canasta/malms/internal/events"
	"github.com/e7canasta/malms/internal/mergesort"
	"github.com/e7canasta/malms/internal/queue"
	"github.com/e7canasta/malms/internal/scheduler"
)

// Public API - Re-export internal types as stable contract

// Queue is a job: a FIFO work queue with a phase barrier.
type Queue = queue.Queue

// Item is a unit of work pushed to a Queue.
type Item = queue.Item

// Options configures a Scheduler.
type Options = scheduler.Options

// Stats is a scheduler snapshot.
type Stats = scheduler.Stats

// CoreStats is a snapshot of one core.
type CoreStats = scheduler.CoreStats

// Event changes the availability of one core.
type Event = events.Event

// SortOptions configures one Sort.
type SortOptions = mergesort.Options

// Report holds phase timings of one Sort.
type Report = mergesort.Report

// Executor runs sort items; *Queue satisfies it.
type Executor = mergesort.Executor

// ItemPanic is re-raised by Sort when a work item panicked on a worker.
type ItemPanic = mergesort.ItemPanic

// Block returns the event making core unavailable.
func Block(core int) Event { return events.Block(core) }

// Unblock returns the event making core available.
func Unblock(core int) Event { return events.Unblock(core) }

// Public API errors - Re-export internal errors as stable contract
var (
	ErrClosed        = scheduler.ErrClosed
	ErrInvalidCore   = scheduler.ErrInvalidCore
	ErrJobDeleted    = scheduler.ErrJobDeleted
	ErrPinFailed     = scheduler.ErrPinFailed
	ErrWorkerCall    = scheduler.ErrWorkerCall
	ErrInvalidPakets = mergesort.ErrInvalidPakets
	ErrTooManyPakets = mergesort.ErrTooManyPakets
	ErrJobReleased   = mergesort.ErrJobReleased
)

// Scheduler is the public interface of the malleable scheduler.
//
// Lifecycle: New() → NewJob() → Schedule*() → Push()/BlockUntilDone() →
// DeleteJob() → Close().
type Scheduler interface {
	// NumCores returns the number of workers.
	NumCores() int

	// Notify queues an availability event for the listener. Returns
	// ErrClosed after Close. Out-of-range cores are ignored by the listener.
	Notify(ev Event) error

	// SetCoreAvailable is Notify for a single core.
	SetCoreAvailable(core int, available bool) error

	// NewJob creates an empty, unscheduled job.
	NewJob() (*Queue, error)

	// DeleteJob unassigns the job from every core and drains it. Blocks
	// until in-flight items finish. Idempotent.
	//
	// Must not be called from an Item. On Linux that returns ErrWorkerCall;
	// elsewhere the call waits on itself and never returns.
	DeleteJob(q *Queue) error

	// ScheduleJob assigns q to exactly the listed cores.
	ScheduleJob(q *Queue, cores []int) error

	// ScheduleMask assigns q to the cores whose mask entry is true.
	ScheduleMask(q *Queue, mask []bool) error

	// ScheduleToFirst assigns q to cores [0, n).
	ScheduleToFirst(q *Queue, n int) error

	// ScheduleToAll assigns q to every core.
	ScheduleToAll(q *Queue) error

	// Stats returns an operational snapshot.
	Stats() Stats

	// Close stops the listener, drains every job and stops the workers.
	// Idempotent. Same restriction as DeleteJob on calls from an Item.
	Close() error
}

// New starts a scheduler. It returns once every worker is running (and
// pinned, with Options.Pin) and asleep.
func New(opts Options) (Scheduler, error) {
	s, err := scheduler.New(opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Sort sorts data in place using exec for the parallel phases.
func Sort[T constraints.Ordered](exec Executor, data []T, opts SortOptions) (Report, error) {
	return mergesort.Sort(exec, data, opts)
}

// SortOnCores creates a job on s, schedules it to the first cores cores,
// sorts data with pakets pakets and deletes the job. cores must be at least 1.
func SortOnCores[T constraints.Ordered](s Scheduler, data []T, pakets, cores int) (Report, error) {
	if cores < 1 {
		return Report{}, fmt.Errorf("%w: sort needs at least one core, got %d", ErrInvalidCore, cores)
	}

	q, err := s.NewJob()
	if err != nil {
		return Report{}, err
	}
	defer s.DeleteJob(q)

	if err := s.ScheduleToFirst(q, cores); err != nil {
		return Report{}, err
	}
	return Sort(q, data, SortOptions{Pakets: pakets})
}
