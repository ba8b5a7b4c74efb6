package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrJobNotFound  = errors.New("job not found")
	ErrNotCompleted = errors.New("job has no artifact")
	ErrStopped      = errors.New("tracker stopped")
)

// SubmissionError reports a creation request the backend rejected or never received.
type SubmissionError struct {
	Kind JobKind
	Err  error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit %s job: %v", e.Kind, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrInvalidInput, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func jobNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ErrJobNotFound, id)
}
