// Package split finds, for k sorted runs and a prefix size, the per-run cut
// points such that the elements before the cuts are exactly the prefix-size
// smallest elements of the union.
//
// Elements compare by (value, run, position). The order is total and
// strict even with duplicate values, so cuts are unique and the cuts for a
// larger prefix are never left of the cuts for a smaller one.
package split

import (
	"fmt"
	"math/rand"
	"slices"
	"sort"

	"golang.org/x/exp/constraints"
)

// DefaultExactBelow is the remaining window size at which reduction stops
// and quickselect takes over, for callers without a paket count.
const DefaultExactBelow = 16

// Split returns cuts with cuts[i] in [0, len(runs[i])] and sum(cuts) ==
// prefix. Every run must be sorted ascending.
//
// Panics if prefix is outside [0, total].
func Split[T constraints.Ordered](runs [][]T, prefix int) []int {
	return SplitBounded(runs, prefix, DefaultExactBelow, nil)
}

// SplitBounded is Split with an explicit reduction bound and random source.
// Reduction stops once at most exactBelow elements remain in the windows.
// A nil rng uses the math/rand global source.
func SplitBounded[T constraints.Ordered](runs [][]T, prefix, exactBelow int, rng *rand.Rand) []int {
	s := newState(runs, prefix)
	for s.reduce(exactBelow) {
	}
	return s.finish(rng)
}

// state holds the candidate window [first[i], last[i]) of every run.
// Everything left of first[i] is in the prefix, everything from last[i] on
// is out of it.
type state[T constraints.Ordered] struct {
	runs   [][]T
	first  []int
	last   []int
	n      int // Elements remaining in all windows
	target int // Elements still to take from the windows
}

func newState[T constraints.Ordered](runs [][]T, prefix int) *state[T] {
	s := &state[T]{
		runs:   runs,
		first:  make([]int, len(runs)),
		last:   make([]int, len(runs)),
		target: prefix,
	}
	for i, r := range runs {
		s.last[i] = len(r)
		s.n += len(r)
	}
	if prefix < 0 || prefix > s.n {
		panic(fmt.Sprintf("split: prefix %d outside [0, %d]", prefix, s.n))
	}
	return s
}

type median struct {
	run, pos, weight int
}

// reduce performs one weighted median-of-medians step. It returns false
// when the answer is trivial or the windows are small enough for the exact
// phase.
//
// Algorithm:
//  1. Median of every non-empty window, ordered by key
//  2. Weighted median M: first median whose cumulative weight reaches n/2
//  3. Per run, count keys < M by binary search
//  4. target <= below: drop everything >= M
//     otherwise: take everything < M plus M itself
func (s *state[T]) reduce(exactBelow int) bool {
	if s.target == 0 || s.target == s.n || s.n <= exactBelow {
		return false
	}

	meds := make([]median, 0, len(s.runs))
	for i := range s.runs {
		if w := s.last[i] - s.first[i]; w > 0 {
			meds = append(meds, median{run: i, pos: s.first[i] + w/2, weight: w})
		}
	}
	slices.SortFunc(meds, func(a, b median) int {
		return s.compareAt(a.run, a.pos, b.run, b.pos)
	})

	pick := meds[len(meds)-1]
	acc := 0
	for _, m := range meds {
		acc += m.weight
		if 2*acc >= s.n {
			pick = m
			break
		}
	}
	pivot := s.runs[pick.run][pick.pos]

	below := make([]int, len(s.runs))
	total := 0
	for i, r := range s.runs {
		first, last := s.first[i], s.last[i]
		switch {
		case first == last:
		case i < pick.run:
			// Equal values in a lower run order before the pivot.
			below[i] = sort.Search(last-first, func(j int) bool { return r[first+j] > pivot })
		case i > pick.run:
			below[i] = sort.Search(last-first, func(j int) bool { return r[first+j] >= pivot })
		default:
			below[i] = pick.pos - first
		}
		total += below[i]
	}

	if s.target <= total {
		for i := range s.runs {
			s.last[i] = s.first[i] + below[i]
		}
		s.n = total
		return true
	}

	for i := range s.runs {
		s.first[i] += below[i]
	}
	s.first[pick.run]++
	s.target -= total + 1
	s.n -= total + 1
	return true
}

// compareAt orders (value, run, pos) keys.
func (s *state[T]) compareAt(ra, pa, rb, pb int) int {
	if c := compare(s.runs[ra][pa], s.runs[rb][pb]); c != 0 {
		return c
	}
	if c := compare(ra, rb); c != 0 {
		return c
	}
	return compare(pa, pb)
}

// finish resolves the remaining target exactly and returns the cuts.
func (s *state[T]) finish(rng *rand.Rand) []int {
	switch {
	case s.target == 0:
		return slices.Clone(s.first)
	case s.target == s.n:
		return slices.Clone(s.last)
	}

	entries := make([]entry[T], 0, s.n)
	for i, r := range s.runs {
		for pos := s.first[i]; pos < s.last[i]; pos++ {
			entries = append(entries, entry[T]{value: r[pos], run: i, pos: pos})
		}
	}

	intn := rand.Intn
	if rng != nil {
		intn = rng.Intn
	}
	selectSmallest(entries, s.target, intn)

	cuts := slices.Clone(s.first)
	for _, e := range entries[:s.target] {
		cuts[e.run]++
	}
	return cuts
}

type entry[T constraints.Ordered] struct {
	value T
	run   int
	pos   int
}

func (a entry[T]) less(b entry[T]) bool {
	if a.value != b.value {
		return a.value < b.value
	}
	if a.run != b.run {
		return a.run < b.run
	}
	return a.pos < b.pos
}

// selectSmallest rearranges es so that es[:k] holds its k smallest entries.
// Randomized quickselect with a Hoare partition over distinct keys,
// expected linear time.
func selectSmallest[T constraints.Ordered](es []entry[T], k int, intn func(int) int) {
	lo, hi := 0, len(es)
	for hi-lo > 1 {
		pivot := es[lo+intn(hi-lo)]

		// After the scan es[lo:j+1] <= pivot <= es[i:hi] and j < i.
		i, j := lo, hi-1
		for i <= j {
			for es[i].less(pivot) {
				i++
			}
			for pivot.less(es[j]) {
				j--
			}
			if i <= j {
				es[i], es[j] = es[j], es[i]
				i++
				j--
			}
		}

		switch {
		case k <= j:
			hi = j + 1
		case k > i:
			lo = i
		default:
			// The boundary falls on the partition point or the pivot.
			return
		}
	}
}

func compare[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
