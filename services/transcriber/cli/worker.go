package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxserve/voxserve/internal/executor"
	"github.com/voxserve/voxserve/internal/workerloop"
)

// workerCmd is how the pool re-executes this binary as a child process. It
// is configured entirely through VOXSERVE_WORKER_* environment variables set
// by the spawner, never by flags, and is hidden from help output.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run as a pool worker process (spawned by serve, not for direct use)",
	Hidden: true,
	RunE:   runWorker,
}

func runWorker(_ *cobra.Command, _ []string) error {
	// Stdout belongs to the frame protocol; logs go to stderr, which the
	// parent passes through.
	logger := buildLogger(os.Stderr, os.Getenv("VOXSERVE_WORKER_LOG_LEVEL"), "worker").
		With(
			slog.String("worker_slot", os.Getenv("VOXSERVE_WORKER_SLOT")),
			slog.Int("pid", os.Getpid()),
		)

	ex, err := executor.New(os.Getenv("VOXSERVE_WORKER_ENGINE"), executor.CommandConfig{
		Path:            os.Getenv("VOXSERVE_WORKER_TRANSCRIBER_PATH"),
		DefaultLanguage: os.Getenv("VOXSERVE_WORKER_DEFAULT_LANGUAGE"),
	})
	if err != nil {
		return fmt.Errorf("executor: %w", err)
	}

	logger.Info("worker starting")
	if err := workerloop.Run(context.Background(), ex, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("worker loop failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
