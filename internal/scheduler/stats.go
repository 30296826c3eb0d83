package scheduler

import "time"

// CoreStats is a snapshot of one core.
type CoreStats struct {
	// Index is the core index used in events and scheduling calls.
	Index int

	// CPU is the OS CPU the worker is pinned to, -1 when not pinned.
	CPU int

	// Available is false while the core is blocked.
	Available bool

	// Job is the assigned queue id, empty when unassigned.
	Job string

	// Executed counts items this core's worker has run.
	Executed uint64

	// Blocks and Unblocks count applied availability events.
	Blocks   uint64
	Unblocks uint64
}

// Stats is a snapshot of scheduler state. Fields are read without a global
// lock, so cores may be mutually inconsistent by a few events.
type Stats struct {
	Cores         []CoreStats
	Jobs          int
	Sleeping      int
	EventsApplied uint64
	EventsIgnored uint64
	Uptime        time.Duration
	Closed        bool
}

// AvailableCores counts cores not currently blocked.
func (s Stats) AvailableCores() int {
	n := 0
	for _, c := range s.Cores {
		if c.Available {
			n++
		}
	}
	return n
}

// Stats returns an operational snapshot.
func (s *Scheduler) Stats() Stats {
	cores := make([]CoreStats, len(s.cores))
	for i, c := range s.cores {
		cs := CoreStats{
			Index:     c.index,
			CPU:       c.cpu,
			Available: c.available.Load(),
			Executed:  c.executed.Load(),
			Blocks:    c.blocks.Load(),
			Unblocks:  c.unblocks.Load(),
		}
		if q := c.assigned.Load(); q != nil {
			cs.Job = q.ID().String()
		}
		cores[i] = cs
	}

	s.jobsMu.Lock()
	jobs, closed := len(s.jobs), s.closed
	s.jobsMu.Unlock()

	s.sleepMu.Lock()
	sleeping := s.sleeping
	s.sleepMu.Unlock()

	return Stats{
		Cores:         cores,
		Jobs:          jobs,
		Sleeping:      sleeping,
		EventsApplied: s.applied.Load(),
		EventsIgnored: s.ignored.Load(),
		Uptime:        time.Since(s.startedAt),
		Closed:        closed,
	}
}
