package mergesort

import "fmt"

// Splitters is the (pakets+1) x runs table of cut indexes produced by the
// Split phase. Row r holds, per sorted run, the index where merge paket r
// starts; row r+1 holds where it ends. Row 0 is all zeros and the last row
// holds the run lengths.
type Splitters struct {
	rows, cols int
	cuts       []int
}

func newSplitters(runLens []int) *Splitters {
	p := len(runLens)
	m := &Splitters{rows: p + 1, cols: p, cuts: make([]int, (p+1)*p)}
	copy(m.Row(p), runLens)
	return m
}

// Row returns row r as a mutable view.
func (m *Splitters) Row(r int) []int {
	return m.cuts[r*m.cols : (r+1)*m.cols]
}

// Bounds returns the [start, end) slice of run that merge paket paket reads.
func (m *Splitters) Bounds(paket, run int) (start, end int) {
	return m.Row(paket)[run], m.Row(paket+1)[run]
}

// verify checks that every column is non-decreasing and that row r sums to
// prefix[r].
func (m *Splitters) verify(prefix []int) error {
	for r := 0; r < m.rows; r++ {
		row := m.Row(r)
		sum := 0
		for c, v := range row {
			sum += v
			if r > 0 && v < m.Row(r-1)[c] {
				return fmt.Errorf("column %d decreases at row %d (%d < %d)", c, r, v, m.Row(r-1)[c])
			}
		}
		if sum != prefix[r] {
			return fmt.Errorf("row %d sums to %d, expected %d", r, sum, prefix[r])
		}
	}
	return nil
}
