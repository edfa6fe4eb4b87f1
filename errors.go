package pacer

import (
	"errors"
	"fmt"
)

var (
	// ErrQueueFull is returned when a job is submitted to a Throttle whose
	// queue already holds its maximum number of waiting jobs. The job's
	// operation is never invoked.
	ErrQueueFull = errors.New("pacer: queue is full")

	// ErrClosed is returned for submissions to a closed Throttle, and
	// delivered to jobs still waiting when the Throttle is closed.
	ErrClosed = errors.New("pacer: throttle is closed")

	// ErrNilOperation is returned when Submit is called without an operation.
	ErrNilOperation = errors.New("pacer: nil operation")
)

// PanicError is delivered to the submitter of a job whose operation
// panicked. Other jobs on the same Throttle are not affected.
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("pacer: operation panicked: %v", e.Value)
}
