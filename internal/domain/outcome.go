package domain

import "encoding/json"

// OutcomeKind enumerates the terminal states a WorkUnit can resolve to.
type OutcomeKind string

const (
	// OutcomeSuccess: the work function returned a result.
	OutcomeSuccess OutcomeKind = "success"
	// OutcomeFailure: the work function ran and reported a domain error.
	// The worker survives; FailureKind narrows the cause.
	OutcomeFailure OutcomeKind = "failure"
	// OutcomeTimeout: the call exceeded its deadline. The worker is
	// terminated and replaced, even if it might have eventually finished.
	OutcomeTimeout OutcomeKind = "timeout"
	// OutcomeWorkerCrashed: the worker process exited mid-call.
	OutcomeWorkerCrashed OutcomeKind = "worker_crashed"
	// OutcomeQueueTimeout: the call waited too long for a free worker
	// before even starting. Pure backpressure; no worker is implicated.
	OutcomeQueueTimeout OutcomeKind = "queue_timeout"
	// OutcomeDisabled: process isolation is turned off by configuration.
	OutcomeDisabled OutcomeKind = "disabled"
	// OutcomeShuttingDown: the pool was shut down while the call was pending.
	OutcomeShuttingDown OutcomeKind = "shutting_down"
	// OutcomePoolUnavailable: no worker could be spawned at all.
	OutcomePoolUnavailable OutcomeKind = "pool_unavailable"
)

// Failure kinds reported by the worker loop for OutcomeFailure.
const (
	FailInvalidInput = "invalid_input"
	FailTimeout      = "timeout"
	FailInternal     = "internal"
)

// Outcome is the tagged terminal result of a WorkUnit. Exactly one variant
// is populated: Result for success, FailureKind/Message for everything else.
type Outcome struct {
	Kind        OutcomeKind     `json:"kind"`
	Result      json.RawMessage `json:"result,omitempty"`
	FailureKind string          `json:"failure_kind,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// OK reports whether the outcome carries a result.
func (o Outcome) OK() bool { return o.Kind == OutcomeSuccess }

// CallerFault reports whether the outcome blames the caller's input rather
// than the pool. Used by the HTTP layer to pick 4xx vs 5xx.
func (o Outcome) CallerFault() bool {
	return o.Kind == OutcomeFailure && o.FailureKind == FailInvalidInput
}

func SuccessOutcome(result json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeSuccess, Result: result}
}

func FailureOutcome(failureKind, message string) Outcome {
	return Outcome{Kind: OutcomeFailure, FailureKind: failureKind, Message: message}
}

func TimeoutOutcome(message string) Outcome {
	return Outcome{Kind: OutcomeTimeout, Message: message}
}

func CrashedOutcome(message string) Outcome {
	return Outcome{Kind: OutcomeWorkerCrashed, Message: message}
}

func QueueTimeoutOutcome(message string) Outcome {
	return Outcome{Kind: OutcomeQueueTimeout, Message: message}
}
