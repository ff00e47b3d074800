// Package executor holds the pluggable work function run inside worker
// processes. The pool knows nothing about transcription; it dispatches
// payloads to whatever Executor the worker was started with.
package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voxserve/voxserve/internal/domain"
)

// Executor is the work function contract. Implementations may leak native
// memory freely; the worker process around them is disposable.
type Executor interface {
	// Init performs one-time setup (loading the native engine). Called once
	// per worker process, before the first Execute.
	Init(ctx context.Context) error
	// Execute runs one call. The returned bytes must be valid JSON; they are
	// passed through to the original caller untouched. Input problems should
	// be reported as *domain.InvalidInputError so they classify as caller
	// faults.
	Execute(ctx context.Context, p domain.Payload) (json.RawMessage, error)
}

// New returns the executor selected by engine name.
func New(engine string, cfg CommandConfig) (Executor, error) {
	switch engine {
	case "", "command":
		return NewCommand(cfg), nil
	case "echo":
		return Echo{}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q (expected command or echo)", engine)
	}
}
