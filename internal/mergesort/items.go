package mergesort

import (
	"runtime/debug"
	"slices"

	"golang.org/x/exp/constraints"

	"github.com/e7canasta/malms/internal/merge"
	"github.com/e7canasta/malms/internal/split"
)

// Phase identifies a mergesort phase and the kind of its work items.
type Phase uint8

const (
	PhaseSort Phase = iota
	PhaseSplit
	PhaseMerge
	PhaseCopy
)

func (p Phase) String() string {
	switch p {
	case PhaseSort:
		return "sort"
	case PhaseSplit:
		return "split"
	case PhaseMerge:
		return "merge"
	case PhaseCopy:
		return "copy"
	default:
		return "unknown"
	}
}

// workItem is one unit of a phase. index is the paket (Sort, Merge, Copy)
// or the splitter row (Split) it owns; items of one phase never share
// writes.
type workItem[T constraints.Ordered] struct {
	phase Phase
	index int
	job   *job[T]
}

// Execute implements queue.Item. A panic is recorded for the controller
// instead of killing the worker.
func (w workItem[T]) Execute() {
	defer func() {
		if v := recover(); v != nil {
			w.job.fail(&ItemPanic{Phase: w.phase, Index: w.index, Value: v, Stack: debug.Stack()})
		}
	}()

	switch w.phase {
	case PhaseSort:
		w.job.sortPaket(w.index)
	case PhaseSplit:
		w.job.splitRow(w.index)
	case PhaseMerge:
		w.job.mergePaket(w.index)
	case PhaseCopy:
		w.job.copyPaket(w.index)
	}
}

// sortPaket copies input paket i into its own run and sorts it.
func (j *job[T]) sortPaket(i int) {
	run := slices.Clone(j.data[j.offsets[i]:j.offsets[i+1]])
	slices.SortFunc(run, j.compare)
	j.runs[i] = run
}

// splitRow computes splitter row r: the cuts whose prefix equals the input
// offset of paket r.
func (j *job[T]) splitRow(r int) {
	cuts := split.SplitBounded(j.runs, j.offsets[r], j.exactBelow, nil)
	copy(j.splitters.Row(r), cuts)
}

// mergePaket merges the run slices between rows i and i+1 into output
// range i.
func (j *job[T]) mergePaket(i int) {
	parts := make([][]T, len(j.runs))
	for r, run := range j.runs {
		start, end := j.splitters.Bounds(i, r)
		parts[r] = run[start:end]
	}
	merge.Merge(j.out[j.offsets[i]:j.offsets[i+1]], parts)
}

// copyPaket copies merged range i from the scratch buffer into the input.
func (j *job[T]) copyPaket(i int) {
	copy(j.data[j.offsets[i]:j.offsets[i+1]], j.out[j.offsets[i]:j.offsets[i+1]])
}
