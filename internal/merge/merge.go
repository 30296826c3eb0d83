// Package merge implements a k-way merge of sorted runs over a loser tree.
package merge

import (
	"fmt"

	"golang.org/x/exp/constraints"
)

// Merge writes the sorted union of runs into dst and returns the number of
// elements written (the sum of run lengths). Runs must be sorted ascending;
// equal elements keep run order.
//
// Panics if dst is shorter than the sum of run lengths.
func Merge[T constraints.Ordered](dst []T, runs [][]T) int {
	n, live, last := 0, 0, -1
	for i, r := range runs {
		n += len(r)
		if len(r) > 0 {
			live++
			last = i
		}
	}
	if len(dst) < n {
		panic(fmt.Sprintf("merge: destination holds %d elements, runs hold %d", len(dst), n))
	}

	switch live {
	case 0:
		return 0
	case 1:
		return copy(dst, runs[last])
	}

	t := newLoserTree(runs)
	out := 0
	for t.live > 1 {
		dst[out] = t.pop()
		out++
	}

	// One run left: no comparisons needed.
	w := t.nodes[0]
	out += copy(dst[out:], runs[w][t.heads[w]:])
	return out
}

// loserTree is a tournament tree over k runs. Internal nodes hold the loser
// of each match; nodes[0] holds the overall winner.
//
// Layout: leaves are at positions [k, 2k), internal nodes at [1, k).
// The parent of position p is p/2; leaf i sits at position i+k.
type loserTree[T constraints.Ordered] struct {
	runs  [][]T
	heads []int // Next unread index per run
	dead  []bool
	nodes []int
	live  int
}

func newLoserTree[T constraints.Ordered](runs [][]T) *loserTree[T] {
	k := len(runs)
	t := &loserTree[T]{
		runs:  runs,
		heads: make([]int, k),
		dead:  make([]bool, k),
		nodes: make([]int, k),
	}
	for i, r := range runs {
		if len(r) == 0 {
			t.dead[i] = true
		} else {
			t.live++
		}
	}
	t.nodes[0] = t.build(1)
	return t
}

// build plays the subtree rooted at node, stores losers and returns the
// winning leaf.
func (t *loserTree[T]) build(node int) int {
	k := len(t.runs)
	left, right := 2*node, 2*node+1

	var lw, rw int
	if left >= k {
		lw = left - k
	} else {
		lw = t.build(left)
	}
	if right >= k {
		rw = right - k
	} else {
		rw = t.build(right)
	}

	if t.beats(lw, rw) {
		t.nodes[node] = rw
		return lw
	}
	t.nodes[node] = lw
	return rw
}

// beats reports whether leaf a wins against leaf b. Dead leaves always lose
// and ties go to the lower run index.
func (t *loserTree[T]) beats(a, b int) bool {
	if t.dead[b] {
		return true
	}
	if t.dead[a] {
		return false
	}
	va, vb := t.runs[a][t.heads[a]], t.runs[b][t.heads[b]]
	if va != vb {
		return va < vb
	}
	return a < b
}

// pop returns the current minimum, advances its run and replays.
func (t *loserTree[T]) pop() T {
	w := t.nodes[0]
	v := t.runs[w][t.heads[w]]

	t.heads[w]++
	if t.heads[w] == len(t.runs[w]) {
		t.dead[w] = true
		t.live--
	}
	t.replay(w)
	return v
}

// replay walks from leaf idx to the root; the loser stays at each node.
func (t *loserTree[T]) replay(idx int) {
	k := len(t.runs)
	winner := idx
	for pos := (idx + k) / 2; pos > 0; pos /= 2 {
		if stored := t.nodes[pos]; t.beats(stored, winner) {
			t.nodes[pos] = winner
			winner = stored
		}
	}
	t.nodes[0] = winner
}
