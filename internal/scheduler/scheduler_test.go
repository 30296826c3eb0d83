package scheduler

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/malms/internal/events"
	"github.com/e7canasta/malms/internal/queue"
)

type funcItem func()

func (f funcItem) Execute() { f() }

func newScheduler(t *testing.T, cores int) *Scheduler {
	t.Helper()
	s, err := New(Options{Cores: cores})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newJob(t *testing.T, s *Scheduler) *queue.Queue {
	t.Helper()
	q, err := s.NewJob()
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return q
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func barrier(t *testing.T, q *queue.Queue) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		q.BlockUntilDone()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("barrier did not complete")
	}
}

// TestStartQuiescentAndClose validates lifecycle: New returns with every
// worker asleep, Close is idempotent and rejects later calls.
func TestStartQuiescentAndClose(t *testing.T) {
	s, err := New(Options{Cores: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stats := s.Stats()
	if len(stats.Cores) != 4 || stats.Sleeping != 4 {
		t.Fatalf("expected 4 sleeping cores, got cores=%d sleeping=%d", len(stats.Cores), stats.Sleeping)
	}
	if stats.AvailableCores() != 4 {
		t.Errorf("expected every core available at start, got %d", stats.AvailableCores())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := s.NewJob(); !errors.Is(err, ErrClosed) {
		t.Errorf("NewJob after Close: expected ErrClosed, got %v", err)
	}
	if err := s.Notify(events.Block(0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Notify after Close: expected ErrClosed, got %v", err)
	}
	if !s.Stats().Closed {
		t.Error("Stats().Closed is false after Close")
	}
}

func TestDefaultCoreCount(t *testing.T) {
	s := newScheduler(t, 0)
	if s.NumCores() != runtime.NumCPU() {
		t.Errorf("NumCores()=%d, expected %d", s.NumCores(), runtime.NumCPU())
	}
}

// TestRunsItemsOnScheduledCores validates items pushed to a scheduled job
// execute exactly once and the work spreads over the assigned cores only.
func TestRunsItemsOnScheduledCores(t *testing.T) {
	s := newScheduler(t, 4)
	q := newJob(t, s)

	if err := s.ScheduleJob(q, []int{1, 3}); err != nil {
		t.Fatalf("ScheduleJob: %v", err)
	}

	const n = 500
	var ran atomic.Int64
	for i := 0; i < n; i++ {
		q.Push(funcItem(func() { ran.Add(1) }))
	}
	barrier(t, q)

	if got := ran.Load(); got != n {
		t.Fatalf("ran %d items, expected %d", got, n)
	}

	stats := s.Stats()
	var executed uint64
	for _, c := range stats.Cores {
		executed += c.Executed
		if (c.Index == 0 || c.Index == 2) && c.Executed != 0 {
			t.Errorf("unassigned core %d executed %d items", c.Index, c.Executed)
		}
		if (c.Index == 1 || c.Index == 3) && c.Job != q.ID().String() {
			t.Errorf("core %d job=%q, expected %s", c.Index, c.Job, q.ID())
		}
	}
	if executed != n {
		t.Errorf("cores executed %d items total, expected %d", executed, n)
	}

	s.DeleteJob(q)
	if s.Stats().Jobs != 0 {
		t.Error("job still registered after DeleteJob")
	}
}

func TestScheduleErrors(t *testing.T) {
	s := newScheduler(t, 2)
	q := newJob(t, s)

	if err := s.ScheduleJob(q, []int{2}); !errors.Is(err, ErrInvalidCore) {
		t.Errorf("core 2 of 2: expected ErrInvalidCore, got %v", err)
	}
	if err := s.ScheduleJob(q, []int{-1}); !errors.Is(err, ErrInvalidCore) {
		t.Errorf("core -1: expected ErrInvalidCore, got %v", err)
	}
	if err := s.ScheduleToFirst(q, 3); !errors.Is(err, ErrInvalidCore) {
		t.Errorf("first 3 of 2: expected ErrInvalidCore, got %v", err)
	}
	if err := s.ScheduleMask(q, []bool{true, true, true}); !errors.Is(err, ErrInvalidCore) {
		t.Errorf("oversized mask: expected ErrInvalidCore, got %v", err)
	}

	s.DeleteJob(q)
	s.DeleteJob(q) // idempotent

	if err := s.ScheduleToAll(q); !errors.Is(err, ErrJobDeleted) {
		t.Errorf("deleted job: expected ErrJobDeleted, got %v", err)
	}
	if err := s.ScheduleToAll(queue.New()); !errors.Is(err, ErrJobDeleted) {
		t.Errorf("foreign queue: expected ErrJobDeleted, got %v", err)
	}
}

// TestBlockedCoreTakesNoNewItems validates malleability:
//  1. BLOCK_CORE on the only core: a pushed item does not run
//  2. UNBLOCK_CORE: the same item runs (no lost wakeup)
//
// The worker is parked inside the empty queue when the block arrives, which
// is the case the dispatch gate exists for.
func TestBlockedCoreTakesNoNewItems(t *testing.T) {
	s := newScheduler(t, 1)
	q := newJob(t, s)
	if err := s.ScheduleToAll(q); err != nil {
		t.Fatal(err)
	}

	// Let the worker park inside the queue.
	eventually(t, "worker parked in queue", func() bool { return q.Stats().Sleeping == 1 })

	if err := s.SetCoreAvailable(0, false); err != nil {
		t.Fatal(err)
	}
	eventually(t, "core 0 blocked", func() bool { return !s.Stats().Cores[0].Available })

	var ran atomic.Bool
	q.Push(funcItem(func() { ran.Store(true) }))

	time.Sleep(50 * time.Millisecond)
	if ran.Load() {
		t.Fatal("blocked core executed a new item")
	}

	if err := s.SetCoreAvailable(0, true); err != nil {
		t.Fatal(err)
	}
	barrier(t, q)
	if !ran.Load() {
		t.Fatal("item did not run after unblock")
	}

	stats := s.Stats()
	if stats.Cores[0].Blocks != 1 || stats.Cores[0].Unblocks != 1 {
		t.Errorf("expected 1 block and 1 unblock, got %+v", stats.Cores[0])
	}
}

// TestAvailabilityTogglingKeepsProgress validates liveness under churn:
// cores are blocked and unblocked while items flow; once every core is
// unblocked the barrier completes with every item executed.
func TestAvailabilityTogglingKeepsProgress(t *testing.T) {
	const cores = 4
	s := newScheduler(t, cores)
	q := newJob(t, s)
	if err := s.ScheduleToAll(q); err != nil {
		t.Fatal(err)
	}

	const n = 2000
	var ran atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			q.Push(funcItem(func() { ran.Add(1) }))
			if i%50 == 0 {
				time.Sleep(time.Millisecond)
			}
		}
	}()

	for round := 0; round < 100; round++ {
		core := round % cores
		if err := s.SetCoreAvailable(core, round%2 == 0); err != nil {
			t.Fatal(err)
		}
	}
	for core := 0; core < cores; core++ {
		if err := s.SetCoreAvailable(core, true); err != nil {
			t.Fatal(err)
		}
	}

	wg.Wait()
	eventually(t, "all cores available", func() bool { return s.Stats().AvailableCores() == cores })
	barrier(t, q)

	if got := ran.Load(); got != n {
		t.Fatalf("ran %d items, expected %d", got, n)
	}
	t.Logf("events applied: %d", s.Stats().EventsApplied)
}

func TestOutOfRangeEventsIgnored(t *testing.T) {
	s := newScheduler(t, 2)

	for _, ev := range []events.Event{events.Block(2), events.Unblock(-1), events.Block(100)} {
		if err := s.Notify(ev); err != nil {
			t.Fatalf("Notify(%v): %v", ev, err)
		}
	}
	eventually(t, "ignored events counted", func() bool { return s.Stats().EventsIgnored == 3 })

	if got := s.Stats().AvailableCores(); got != 2 {
		t.Errorf("out-of-range events changed availability: %d available", got)
	}
}

// TestReassignmentMovesWorkers validates ScheduleJob moves a core between
// queues: after reassignment the old queue receives no service.
func TestReassignmentMovesWorkers(t *testing.T) {
	s := newScheduler(t, 2)
	q1 := newJob(t, s)
	q2 := newJob(t, s)

	if err := s.ScheduleToAll(q1); err != nil {
		t.Fatal(err)
	}
	eventually(t, "workers parked in q1", func() bool { return q1.Stats().Sleeping == 2 })

	if err := s.ScheduleToAll(q2); err != nil {
		t.Fatal(err)
	}
	eventually(t, "workers left q1", func() bool { return q1.Stats().Sleeping == 0 })

	var ranOld, ranNew atomic.Bool
	q1.Push(funcItem(func() { ranOld.Store(true) }))
	q2.Push(funcItem(func() { ranNew.Store(true) }))

	barrier(t, q2)
	time.Sleep(20 * time.Millisecond)
	if !ranNew.Load() {
		t.Error("item on the new queue did not run")
	}
	if ranOld.Load() {
		t.Error("item on the old queue ran after reassignment")
	}

	// Releasing q1 drops its pending item without blocking.
	s.DeleteJob(q1)
	if st := q1.Stats(); st.Dropped != 1 || st.State != queue.Drained {
		t.Errorf("q1 after delete: %+v", st)
	}
}

// TestDeleteJobUnderLoad validates deletion synchronizes with dispatch:
// DeleteJob returns only after in-flight items finish, nothing of the job
// runs afterwards, and the cores go back to sleep.
func TestDeleteJobUnderLoad(t *testing.T) {
	s := newScheduler(t, 4)
	q := newJob(t, s)
	if err := s.ScheduleToAll(q); err != nil {
		t.Fatal(err)
	}

	var inFlight, ran atomic.Int64
	for i := 0; i < 400; i++ {
		q.Push(funcItem(func() {
			inFlight.Add(1)
			time.Sleep(100 * time.Microsecond)
			ran.Add(1)
			inFlight.Add(-1)
		}))
	}

	time.Sleep(5 * time.Millisecond)
	s.DeleteJob(q)

	if got := inFlight.Load(); got != 0 {
		t.Fatalf("%d items still executing after DeleteJob returned", got)
	}
	after := ran.Load()
	time.Sleep(20 * time.Millisecond)
	if ran.Load() != after {
		t.Fatal("items executed after DeleteJob returned")
	}

	st := q.Stats()
	if uint64(after)+st.Dropped != 400 {
		t.Errorf("ran=%d dropped=%d, expected sum 400", after, st.Dropped)
	}
	for _, c := range s.Stats().Cores {
		if c.Job != "" {
			t.Errorf("core %d still assigned to %s", c.Index, c.Job)
		}
	}
	eventually(t, "workers asleep", func() bool { return s.Stats().Sleeping == 4 })
	t.Logf("ran %d, dropped %d", after, st.Dropped)
}

// TestDeleteJobFromItem validates that an item deleting its own job, or
// closing the scheduler, gets ErrWorkerCall instead of waiting on itself.
func TestDeleteJobFromItem(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("worker thread detection needs gettid")
	}
	s := newScheduler(t, 2)
	q := newJob(t, s)
	if err := s.ScheduleToAll(q); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 2)
	q.Push(funcItem(func() {
		errs <- s.DeleteJob(q)
		errs <- s.Close()
	}))

	for _, call := range []string{"DeleteJob", "Close"} {
		select {
		case err := <-errs:
			if !errors.Is(err, ErrWorkerCall) {
				t.Errorf("%s from item: %v, expected ErrWorkerCall", call, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s from item did not return", call)
		}
	}

	barrier(t, q)
	if q.Draining() {
		t.Error("rejected DeleteJob drained the job")
	}
	if s.Stats().Closed {
		t.Error("rejected Close closed the scheduler")
	}
	if err := s.DeleteJob(q); err != nil {
		t.Errorf("DeleteJob from test goroutine: %v", err)
	}
}

// TestCloseWithLiveJobs validates teardown releases jobs nobody deleted and
// waits for their in-flight items.
func TestCloseWithLiveJobs(t *testing.T) {
	s, err := New(Options{Cores: 2})
	if err != nil {
		t.Fatal(err)
	}
	q := newJob(t, s)
	if err := s.ScheduleToAll(q); err != nil {
		t.Fatal(err)
	}

	started := make(chan struct{})
	var finished atomic.Bool
	q.Push(funcItem(func() {
		close(started)
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
	}))
	<-started

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(10 * time.Second):
		t.Fatal("Close did not return")
	}

	if !finished.Load() {
		t.Error("Close returned before the in-flight item finished")
	}
	if q.State() != queue.Drained {
		t.Errorf("live job not drained by Close: %v", q.State())
	}
}

func TestPinRejectsTooManyCores(t *testing.T) {
	_, err := New(Options{Cores: 1 << 16, Pin: true})
	if !errors.Is(err, ErrPinFailed) {
		t.Fatalf("expected ErrPinFailed, got %v", err)
	}
}

func TestPinnedWorkersRun(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("cpu affinity is linux only")
	}

	s, err := New(Options{Cores: 1, Pin: true})
	if err != nil {
		t.Skipf("pinning unavailable in this environment: %v", err)
	}
	defer s.Close()

	if cpu := s.Stats().Cores[0].CPU; cpu < 0 {
		t.Fatalf("pinned core reports cpu %d", cpu)
	}

	q := newJob(t, s)
	if err := s.ScheduleToAll(q); err != nil {
		t.Fatal(err)
	}
	var ran atomic.Int64
	for i := 0; i < 10; i++ {
		q.Push(funcItem(func() { ran.Add(1) }))
	}
	barrier(t, q)
	if ran.Load() != 10 {
		t.Errorf("ran %d items, expected 10", ran.Load())
	}
}
