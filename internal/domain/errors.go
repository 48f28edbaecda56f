package domain

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned by read paths when a job ID does not exist,
// including jobs that were deleted mid-flight.
var ErrJobNotFound = errors.New("job not found")

// ErrJobNotReady is returned when a result is requested before the job has
// reached the complete status.
var ErrJobNotReady = errors.New("job result not ready")

// ValidationError rejects a submission before a job record is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

// InsufficientDataError means the geometry engine cannot build a traverse
// from the submitted rows. Terminal, not retried.
type InsufficientDataError struct {
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return "insufficient data: " + e.Reason
}

// StorageError wraps a blob storage I/O fault. Always retryable up to the
// orchestrator's attempt bound.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ExternalServiceError is a definitive failure reported by the training or
// inference service, or a contract violation in its responses. Terminal,
// not retried.
type ExternalServiceError struct {
	Op     string
	Reason string
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %s", e.Op, e.Reason)
}

// MergeError means predicted rows do not line up with the submitted predict
// set. Terminal.
type MergeError struct {
	Reason string
}

func (e *MergeError) Error() string {
	return "merge: " + e.Reason
}

// IsRetryable reports whether the orchestrator should retry the failed
// stage before marking the job failed. Storage faults and transient
// transport errors retry; everything typed terminal does not.
func IsRetryable(err error) bool {
	var (
		validationErr *ValidationError
		dataErr       *InsufficientDataError
		externalErr   *ExternalServiceError
		mergeErr      *MergeError
	)
	switch {
	case errors.As(err, &validationErr),
		errors.As(err, &dataErr),
		errors.As(err, &externalErr),
		errors.As(err, &mergeErr),
		errors.Is(err, ErrJobNotFound):
		return false
	}
	return true
}
