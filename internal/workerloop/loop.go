// Package workerloop implements the child side of the pool protocol. It runs
// inside every spawned worker process and executes exactly one request at a
// time for the lifetime of the process.
package workerloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/voxserve/voxserve/internal/domain"
	"github.com/voxserve/voxserve/internal/executor"
	"github.com/voxserve/voxserve/internal/ipc"
)

// Run performs one-time executor init, announces readiness with a hello
// frame, then blocks on the request stream. Returns nil when the supervisor
// closes stdin (graceful shutdown).
//
// The loop deliberately keeps no per-call state between iterations: anything
// the executor leaks is reclaimed wholesale when this process is recycled.
func Run(ctx context.Context, ex executor.Executor, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if err := ex.Init(ctx); err != nil {
		return fmt.Errorf("executor init: %w", err)
	}

	enc := json.NewEncoder(out)
	if err := enc.Encode(ipc.Envelope{Type: ipc.TypeHello, Hello: &ipc.Hello{PID: os.Getpid()}}); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	dec := json.NewDecoder(in)
	tasksDone := 0
	for {
		var req ipc.Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("shutdown signal received, exiting",
					slog.Int("tasks_completed", tasksDone),
				)
				return nil
			}
			return fmt.Errorf("decode request: %w", err)
		}

		res := runOne(ctx, ex, req, logger)
		if err := enc.Encode(ipc.Envelope{Type: ipc.TypeResult, Result: &res}); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
		tasksDone++
	}
}

// runOne executes a single request under its deadline and folds any failure
// into a classified Result. Nothing escapes unclassified — a panic in the
// executor becomes an internal failure, not a dead worker.
func runOne(ctx context.Context, ex executor.Executor, req ipc.Request, logger *slog.Logger) ipc.Result {
	log := logger.With(slog.String("unit_id", req.ID))

	callCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := safeExecute(callCtx, ex, req.Payload)
	if err == nil {
		log.Info("call completed", slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		return ipc.Result{ID: req.ID, OK: true, Result: raw}
	}

	kind := classify(err)
	log.Error("call failed",
		slog.String("kind", kind),
		slog.String("error", err.Error()),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return ipc.Result{ID: req.ID, OK: false, ErrKind: kind, ErrMsg: err.Error()}
}

func safeExecute(ctx context.Context, ex executor.Executor, p domain.Payload) (raw json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return ex.Execute(ctx, p)
}

func classify(err error) string {
	var invalid *domain.InvalidInputError
	switch {
	case errors.As(err, &invalid):
		return domain.FailInvalidInput
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailTimeout
	default:
		return domain.FailInternal
	}
}
