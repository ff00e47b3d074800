package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── API ─────────────────────────────────────────────────────────────────────

	APITranscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxserve",
		Subsystem: "api",
		Name:      "transcriptions_total",
		Help:      "Total transcription requests, labelled by outcome kind.",
	}, []string{"outcome"})

	APIRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voxserve",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "End-to-end HTTP request time, including queueing and the call itself.",
		Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"route"})

	// ─── Pool ────────────────────────────────────────────────────────────────────

	PoolOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "outcomes_total",
		Help:      "Terminal outcomes produced by the pool, by kind.",
	}, []string{"kind"})

	PoolWorkers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "workers",
		Help:      "Worker processes by lifecycle state.",
	}, []string{"state"})

	PoolQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "queue_depth",
		Help:      "Submissions waiting for a free worker.",
	})

	PoolWorkersSpawnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "workers_spawned_total",
		Help:      "Worker processes started since boot.",
	})

	PoolWorkersRecycledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "workers_recycled_total",
		Help:      "Workers retired after reaching the task-count threshold.",
	})

	PoolWorkersReapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "workers_reaped_total",
		Help:      "Idle workers terminated by the reaper to return memory to the OS.",
	})

	PoolTimeoutsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "timeouts_total",
		Help:      "Calls killed for exceeding their deadline.",
	})

	PoolCrashesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "crashes_total",
		Help:      "Worker processes that exited mid-call.",
	})

	PoolTaskDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "task_duration_seconds",
		Help:      "Worker-side execution time per call.",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	})

	PoolQueueWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "queue_wait_seconds",
		Help:      "Time from submission until a worker was acquired.",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
	})

	// ─── Memory ──────────────────────────────────────────────────────────────────
	// Fed by the pool monitor. The parent gauge staying flat while worker
	// gauges saw-tooth is the observable proof the process boundary works.

	ParentMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "parent_memory_bytes",
		Help:      "RSS of the supervisor process.",
	})

	WorkersMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "workers_memory_bytes",
		Help:      "Combined RSS of all live worker processes.",
	})

	WorkerMemoryBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "worker_memory_bytes",
		Help:      "RSS per worker slot.",
	}, []string{"slot"})

	PerWorkerMemoryBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voxserve",
		Subsystem: "pool",
		Name:      "per_worker_memory_bytes",
		Help:      "Average RSS across live workers.",
	})
)
