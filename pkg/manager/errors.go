package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady indicates the manager is still initializing and does not
	// accept scheduling requests yet.
	ErrNotReady = errors.New("cluster manager is not ready")

	// ErrUnknownPurpose indicates no scheduler exists for the purpose.
	ErrUnknownPurpose = errors.New("no scheduler for purpose")

	// ErrUnknownWorker indicates the worker ID is not registered.
	ErrUnknownWorker = errors.New("worker does not exist")

	// ErrSchedulingFailed indicates the purpose's scheduler could not place a task.
	ErrSchedulingFailed = errors.New("scheduling failed")
)

// SchedulingError carries the scheduler's reason verbatim.
type SchedulingError struct {
	Purpose string
	Reason  error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("failed in scheduling %s worker, reason: %v", e.Purpose, e.Reason)
}

func (e *SchedulingError) Unwrap() []error { return []error{ErrSchedulingFailed, e.Reason} }
