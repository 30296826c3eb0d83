package scheduler

import "errors"

// Sentinel errors. Re-exported by the public package.
var (
	// ErrClosed is returned by operations on a closed scheduler.
	ErrClosed = errors.New("malms: scheduler closed")

	// ErrInvalidCore is returned when a core index is outside [0, cores).
	ErrInvalidCore = errors.New("malms: invalid core index")

	// ErrJobDeleted is returned when scheduling a queue that was deleted
	// or never created by this scheduler.
	ErrJobDeleted = errors.New("malms: job deleted")

	// ErrPinFailed is returned by New when a worker cannot be pinned to
	// its CPU.
	ErrPinFailed = errors.New("malms: cpu pinning failed")

	// ErrWorkerCall is returned by DeleteJob and Close when called from an
	// Item running on one of the scheduler's workers. Both wait for
	// in-flight items, which would include the caller.
	ErrWorkerCall = errors.New("malms: called from a scheduler worker")
)
