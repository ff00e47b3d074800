package domain

import "fmt"

// InvalidInputError marks a work-level input problem (missing file,
// unsupported audio format). It is recovered inside the worker process and
// reported as a Failure outcome; it never kills the worker.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// SpawnError is returned when a worker process could not be started or did
// not report ready in time. Surfaces to callers as PoolUnavailable.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn worker: %v", e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
