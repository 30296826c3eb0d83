// Package malms implements a malleable multicore scheduler and a parallel
// multiway mergesort that runs on it.
//
// # Model
//
// A Scheduler owns one worker per core. Each worker is locked to its own OS
// thread and, with Options.Pin, bound to one CPU. Work is organised in jobs:
// a job is a FIFO work queue that any subset of cores can be assigned to.
// Cores become unavailable and available again at runtime through
// availability events (BLOCK_CORE / UNBLOCK_CORE). A blocked core finishes
// the item it is running and takes no new one until it is unblocked, so a
// running computation shrinks and grows without being restarted.
//
//	events (socket, MQTT, Notify) → listener → core availability
//	                                             │
//	job queue ──► workers on assigned, available cores ──► Item.Execute()
//
// # Mergesort
//
// Sort splits the input into pakets and runs four phases separated by the
// queue barrier:
//
//  1. Sort every paket independently
//  2. Split: compute exact splitters over the sorted runs
//  3. Merge every output range with a loser tree
//  4. Copy back from the scratch buffer (only with SortOptions.CopyBack)
//
// Paket count is independent of core count. Using more pakets than cores
// gives blocked cores less to strand.
//
// # Basic Usage
//
//	s, err := malms.New(malms.Options{Pin: true})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	report, err := malms.SortOnCores(s, data, 4*s.NumCores(), s.NumCores())
//
// Blocking core 2 from another goroutine while the sort runs:
//
//	s.Notify(malms.Block(2))
//
// # Thread Safety
//
// Scheduler methods are safe for concurrent use. Sort must be called from
// one controller goroutine per job; it is not itself an Item.
package malms
