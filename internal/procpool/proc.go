package procpool

import (
	"context"

	"github.com/voxserve/voxserve/internal/ipc"
)

// WorkerProc is one live worker process as seen by the supervisor. The real
// implementation wraps an exec.Cmd; tests substitute an in-memory fake
// through the SpawnFunc.
//
// A proc serves at most one request at a time. Results is closed when the
// process exits, however it exits; a closed Results channel mid-call means
// the worker crashed.
type WorkerProc interface {
	// PID of the underlying OS process.
	PID() int

	// Send writes one request frame to the worker's stdin.
	Send(req ipc.Request) error

	// Results delivers result frames. Closed on process exit.
	Results() <-chan ipc.Result

	// Close closes the worker's stdin, asking it to drain and exit.
	Close() error

	// Kill terminates the process immediately.
	Kill() error

	// Wait is closed once the process has fully exited.
	Wait() <-chan struct{}
}

// SpawnFunc starts one worker for the given slot and blocks until it has
// reported ready or ctx expires.
type SpawnFunc func(ctx context.Context, slot int) (WorkerProc, error)
