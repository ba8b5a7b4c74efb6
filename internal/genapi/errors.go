package genapi

import (
	"errors"
	"fmt"
)

// ErrNotFound matches any *NotFoundError with errors.Is.
var ErrNotFound = errors.New("job not found")

// RequestError reports a non-2xx response or a transport failure.
type RequestError struct {
	Op         string
	StatusCode int
	Detail     string
	Code       string
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Detail != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Detail)
	default:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// NotFoundError is returned when the backend no longer knows a job.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%v: %s", ErrNotFound, e.JobID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }
