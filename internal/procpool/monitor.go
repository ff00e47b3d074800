package procpool

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/voxserve/voxserve/pkg/telemetry"
)

// RunMonitor periodically samples pool state and process memory into the
// Prometheus gauges. The parent RSS staying flat while worker RSS saw-tooths
// across recycles is the observable proof the isolation boundary holds.
// Blocks until ctx is cancelled.
func RunMonitor(ctx context.Context, pool *Pool, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample(pool, logger)
		}
	}
}

func sample(pool *Pool, logger *slog.Logger) {
	st := pool.Stats()

	telemetry.PoolWorkers.WithLabelValues(string(StatusSpawning)).Set(float64(st.Spawning))
	telemetry.PoolWorkers.WithLabelValues(string(StatusIdle)).Set(float64(st.Idle))
	telemetry.PoolWorkers.WithLabelValues(string(StatusBusy)).Set(float64(st.Busy))
	telemetry.PoolWorkers.WithLabelValues(string(StatusRetiring)).Set(float64(st.Retiring))
	telemetry.PoolQueueDepth.Set(float64(st.QueueDepth))

	if rss, ok := processRSS(int32(os.Getpid())); ok {
		telemetry.ParentMemoryBytes.Set(float64(rss))
	}

	telemetry.WorkerMemoryBytes.Reset()
	var total uint64
	var live int
	for _, w := range st.Workers {
		if w.PID == 0 {
			continue
		}
		rss, ok := processRSS(int32(w.PID))
		if !ok {
			// Raced with a recycle or crash; the next tick catches up.
			continue
		}
		telemetry.WorkerMemoryBytes.WithLabelValues(strconv.Itoa(w.Slot)).Set(float64(rss))
		total += rss
		live++
	}
	telemetry.WorkersMemoryBytes.Set(float64(total))
	if live > 0 {
		telemetry.PerWorkerMemoryBytes.Set(float64(total) / float64(live))
	} else {
		telemetry.PerWorkerMemoryBytes.Set(0)
	}

	logger.Debug("pool memory sampled",
		slog.Int("live_workers", live),
		slog.Uint64("workers_rss_bytes", total),
	)
}

func processRSS(pid int32) (uint64, bool) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, false
	}
	mi, err := proc.MemoryInfo()
	if err != nil || mi == nil {
		return 0, false
	}
	return mi.RSS, true
}
