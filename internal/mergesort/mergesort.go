// Package mergesort implements the four-phase parallel multiway mergesort
// on top of a work queue.
//
// Phases, separated by the queue barrier:
//  1. Sort: each paket is copied into its own run and sorted
//  2. Split: pakets-1 splitter rows are computed over the sorted runs
//  3. Merge: each paket merges its slice of every run into its output range
//  4. Copy (optional): merged ranges are copied back from a scratch buffer
//
// Merge paket i writes exactly the positions input paket i occupied, so no
// two items of a phase touch the same memory.
package mergesort

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/exp/constraints"

	"github.com/e7canasta/malms/internal/queue"
)

// exactSlack is added to the paket count to get the window size at which
// splitting switches to quickselect.
const exactSlack = 16

// Executor runs pushed items and provides the phase barrier.
// *queue.Queue satisfies it.
//
// Draining reports that the executor was torn down and drops pushed items;
// Sort checks it after every barrier.
type Executor interface {
	Push(item queue.Item)
	BlockUntilDone()
	Draining() bool
}

// Options configures one sort.
type Options struct {
	// Pakets is the number of chunks per phase. Must be in [1, len(data)]
	// for non-empty data.
	Pakets int

	// CopyBack merges into a scratch buffer and adds the Copy phase.
	CopyBack bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Report holds phase timings of one sort.
type Report struct {
	N      int
	Pakets int
	Sort   time.Duration
	Split  time.Duration
	Merge  time.Duration
	Copy   time.Duration
	Total  time.Duration
}

// Validate checks opts against an input of n elements.
func (o Options) Validate(n int) error {
	if o.Pakets <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPakets, o.Pakets)
	}
	if n > 0 && o.Pakets > n {
		return fmt.Errorf("%w: %d pakets for %d elements", ErrTooManyPakets, o.Pakets, n)
	}
	return nil
}

// job is the state shared by the items of one sort.
type job[T constraints.Ordered] struct {
	data       []T
	out        []T // data, or a scratch buffer with CopyBack
	offsets    []int
	runs       [][]T
	splitters  *Splitters
	exactBelow int

	mu      sync.Mutex
	failure *ItemPanic
}

// Sort sorts data ascending in place using the items it pushes to exec.
// The caller's goroutine only pushes and waits on barriers.
//
// Configuration errors are returned before anything is pushed. If exec is
// drained while the sort runs (job deleted, scheduler closed) Sort returns
// ErrJobReleased and data is left in an unspecified order. A panic in any
// item is re-raised here as *ItemPanic after the phase barrier; an
// inconsistent splitter table panics as well.
func Sort[T constraints.Ordered](exec Executor, data []T, opts Options) (Report, error) {
	if err := opts.Validate(len(data)); err != nil {
		return Report{}, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n, p := len(data), opts.Pakets
	report := Report{N: n, Pakets: p}
	if n == 0 {
		return report, nil
	}

	j := &job[T]{
		data:       data,
		out:        data,
		offsets:    offsets(n, p),
		runs:       make([][]T, p),
		exactBelow: p + exactSlack,
	}
	if opts.CopyBack {
		j.out = make([]T, n)
	}

	start := time.Now()
	// phase pushes items [from, to) of ph and waits for the barrier. A
	// barrier on a drained executor does not mean the items ran.
	phase := func(ph Phase, from, to int) (time.Duration, error) {
		t0 := time.Now()
		for i := from; i < to; i++ {
			exec.Push(workItem[T]{phase: ph, index: i, job: j})
		}
		exec.BlockUntilDone()
		j.rethrow()
		if exec.Draining() {
			logger.Warn("mergesort job released mid-sort", "phase", ph.String())
			return 0, fmt.Errorf("%w: during %s phase", ErrJobReleased, ph)
		}
		d := time.Since(t0)
		logger.Debug("mergesort phase done", "phase", ph.String(), "items", to-from, "duration", d)
		return d, nil
	}

	var err error
	if report.Sort, err = phase(PhaseSort, 0, p); err != nil {
		return report, err
	}

	lens := make([]int, p)
	for i, r := range j.runs {
		lens[i] = len(r)
	}
	j.splitters = newSplitters(lens)

	// Rows 0 and p are fixed.
	if report.Split, err = phase(PhaseSplit, 1, p); err != nil {
		return report, err
	}

	if err := j.splitters.verify(j.offsets); err != nil {
		panic(fmt.Sprintf("mergesort: invalid splitters: %v", err))
	}

	if report.Merge, err = phase(PhaseMerge, 0, p); err != nil {
		return report, err
	}
	if opts.CopyBack {
		if report.Copy, err = phase(PhaseCopy, 0, p); err != nil {
			return report, err
		}
	}

	j.runs, j.splitters, j.out = nil, nil, nil
	report.Total = time.Since(start)

	logger.Debug("mergesort done",
		"n", n,
		"pakets", p,
		"copy_back", opts.CopyBack,
		"total", report.Total)

	return report, nil
}

// offsets returns the p+1 paket boundaries of n elements. The first n%p
// pakets hold one extra element.
func offsets(n, p int) []int {
	off := make([]int, p+1)
	for i := 0; i < p; i++ {
		off[i+1] = off[i] + n/p
		if i < n%p {
			off[i+1]++
		}
	}
	return off
}

func (j *job[T]) compare(a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (j *job[T]) fail(p *ItemPanic) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failure == nil {
		j.failure = p
	}
}

// rethrow re-raises the first item panic on the controller.
func (j *job[T]) rethrow() {
	j.mu.Lock()
	p := j.failure
	j.mu.Unlock()
	if p != nil {
		panic(p)
	}
}
