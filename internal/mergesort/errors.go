package mergesort

import (
	"errors"
	"fmt"
)

// Configuration errors, reported before any item is pushed.
var (
	ErrInvalidPakets = errors.New("malms: paket count must be positive")
	ErrTooManyPakets = errors.New("malms: more pakets than elements")
)

// ErrJobReleased is returned when the executor is drained before every
// item of the sort ran.
var ErrJobReleased = errors.New("malms: job released before sort completed")

// ItemPanic is the value re-raised on the controller when a work item
// panicked on a worker.
type ItemPanic struct {
	Phase Phase
	Index int
	Value any
	Stack []byte
}

func (p *ItemPanic) Error() string {
	return fmt.Sprintf("mergesort: %s item %d panicked: %v", p.Phase, p.Index, p.Value)
}
