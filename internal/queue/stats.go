package queue

// Stats is a snapshot of queue operational state.
type Stats struct {
	// ID is the queue's unique identifier (string form).
	ID string

	// State is the lifecycle state at snapshot time.
	State State

	// Pending is the number of items not yet dequeued.
	Pending int

	// Active is the number of workers holding or executing an item.
	Active int

	// Sleeping is the number of workers blocked waiting for items.
	Sleeping int

	// Pushed is the lifetime count of Push calls.
	Pushed uint64

	// Executed is the lifetime count of items run to completion.
	Executed uint64

	// Dropped counts items that will never run (pushed or left pending
	// after ReleaseWaitingThreads). Should be 0 in a healthy job.
	Dropped uint64
}

// Stats returns a consistent snapshot (taken under the queue lock).
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		ID:       q.id.String(),
		State:    q.stateLocked(),
		Pending:  len(q.items),
		Active:   q.active,
		Sleeping: q.sleeping,
		Pushed:   q.pushed,
		Executed: q.executed,
		Dropped:  q.dropped,
	}
}
