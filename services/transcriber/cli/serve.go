package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/voxserve/voxserve/internal/procpool"
	"github.com/voxserve/voxserve/pkg/telemetry"
	"github.com/voxserve/voxserve/services/transcriber/config"
	"github.com/voxserve/voxserve/services/transcriber/handler"
	"github.com/voxserve/voxserve/services/transcriber/middleware"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the transcription HTTP server and worker pool",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-port", "8080", "HTTP server port")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")
	serveCmd.Flags().Bool("process-isolation", true, "run transcriptions in disposable worker processes")
	serveCmd.Flags().Int("pool-size", procpool.DefaultMaxWorkers, "maximum concurrent worker processes")
	serveCmd.Flags().Int("max-tasks-per-worker", procpool.DefaultMaxTasksPerWorker, "recycle a worker after this many calls")
	serveCmd.Flags().Duration("call-timeout", procpool.DefaultCallTimeout, "per-call execution deadline")
	serveCmd.Flags().Duration("kill-grace", procpool.DefaultKillGrace, "extra time before a wedged worker is killed")
	serveCmd.Flags().Duration("queue-wait", procpool.DefaultQueueWait, "how long a call may wait for a free worker")
	serveCmd.Flags().Int("queue-capacity", procpool.DefaultQueueCapacity, "maximum queued calls")
	serveCmd.Flags().Duration("idle-timeout", procpool.DefaultIdleTimeout, "reap workers idle longer than this")
	serveCmd.Flags().Duration("reap-interval", procpool.DefaultReapInterval, "idle reaper schedule")
	serveCmd.Flags().Duration("spawn-timeout", procpool.DefaultSpawnTimeout, "worker start plus engine init deadline")
	serveCmd.Flags().Float64("rate-limit-rps", 0, "submissions per second (0 disables rate limiting)")
	serveCmd.Flags().Int("rate-limit-burst", 1, "rate limiter burst size")
	serveCmd.Flags().Duration("monitor-interval", 15*time.Second, "pool memory sampling interval")
	serveCmd.Flags().String("engine", "command", "transcription engine: command | echo")
	serveCmd.Flags().String("transcriber-path", "/usr/local/bin/transcribe", "path to the transcriber binary")
	serveCmd.Flags().String("default-language", "", "language used when a request names none")
	serveCmd.Flags().Int64("max-upload-mb", 256, "maximum audio upload size in MiB")
	serveCmd.Flags().String("temp-dir", "", "directory for uploaded audio (empty: OS default)")

	bindFlag("http_port", serveCmd.Flags(), "http-port")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	bindFlag("process_isolation", serveCmd.Flags(), "process-isolation")
	bindFlag("pool_size", serveCmd.Flags(), "pool-size")
	bindFlag("max_tasks_per_worker", serveCmd.Flags(), "max-tasks-per-worker")
	bindFlag("call_timeout", serveCmd.Flags(), "call-timeout")
	bindFlag("kill_grace", serveCmd.Flags(), "kill-grace")
	bindFlag("queue_wait", serveCmd.Flags(), "queue-wait")
	bindFlag("queue_capacity", serveCmd.Flags(), "queue-capacity")
	bindFlag("idle_timeout", serveCmd.Flags(), "idle-timeout")
	bindFlag("reap_interval", serveCmd.Flags(), "reap-interval")
	bindFlag("spawn_timeout", serveCmd.Flags(), "spawn-timeout")
	bindFlag("rate_limit_rps", serveCmd.Flags(), "rate-limit-rps")
	bindFlag("rate_limit_burst", serveCmd.Flags(), "rate-limit-burst")
	bindFlag("monitor_interval", serveCmd.Flags(), "monitor-interval")
	bindFlag("engine", serveCmd.Flags(), "engine")
	bindFlag("transcriber_path", serveCmd.Flags(), "transcriber-path")
	bindFlag("default_language", serveCmd.Flags(), "default-language")
	bindFlag("max_upload_mb", serveCmd.Flags(), "max-upload-mb")
	bindFlag("temp_dir", serveCmd.Flags(), "temp-dir")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(os.Stdout, cfg.LogLevel, "transcriber")

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "transcriber", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	// ── worker pool ───────────────────────────────────────────────────────────
	spawn := procpool.NewExecSpawner(procpool.SpawnConfig{
		Engine:          cfg.Engine,
		TranscriberPath: cfg.TranscriberPath,
		DefaultLanguage: cfg.DefaultLanguage,
		LogLevel:        cfg.LogLevel,
	}, logger)

	pool := procpool.New(procpool.Config{
		Enabled:           cfg.ProcessIsolation,
		MaxWorkers:        cfg.PoolSize,
		MaxTasksPerWorker: cfg.MaxTasksPerWorker,
		CallTimeout:       cfg.CallTimeout,
		KillGrace:         cfg.KillGrace,
		QueueWait:         cfg.QueueWait,
		QueueCapacity:     cfg.QueueCapacity,
		IdleTimeout:       cfg.IdleTimeout,
		ReapInterval:      cfg.ReapInterval,
		SpawnTimeout:      cfg.SpawnTimeout,
	}, spawn,
		procpool.WithLogger(logger),
		procpool.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)
	if err := pool.Start(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}

	restHandler := handler.NewREST(pool, cfg.TempDir, cfg.MaxUploadMB<<20, logger)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.MaxBodySize(cfg.MaxUploadMB << 20))
	r.Get("/healthz", restHandler.Healthz)
	r.Get("/readyz", restHandler.Readyz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transcriptions", restHandler.CreateTranscription)
		r.Get("/pool/stats", restHandler.PoolStats)
		r.Get("/health", restHandler.Health)
	})

	httpSrv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: r,
		// Write timeout must cover a full synchronous transcription.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.CallTimeout + cfg.KillGrace + cfg.QueueWait + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── signal handling ───────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	// ── Prometheus metrics + memory monitor ───────────────────────────────────
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)
	go procpool.RunMonitor(runCtx, pool, cfg.MonitorInterval, logger)

	go func() {
		logger.Info("transcriber HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	<-quit
	logger.Info("shutting down...")
	runCancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	if err := pool.Shutdown(shutCtx); err != nil {
		logger.Error("pool shutdown error", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return nil
}
