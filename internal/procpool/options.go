package procpool

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Defaults tuned for transcription workloads: long calls, heavy workers.
const (
	DefaultMaxWorkers        = 12
	DefaultMaxTasksPerWorker = 100
	DefaultCallTimeout       = 5 * time.Minute
	DefaultKillGrace         = 10 * time.Second
	DefaultQueueWait         = 30 * time.Second
	DefaultQueueCapacity     = 64
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultReapInterval      = time.Minute
	DefaultSpawnTimeout      = 30 * time.Second
)

// Config controls pool sizing and timing. Zero values fall back to the
// defaults above, except Enabled which must be set explicitly.
type Config struct {
	// Enabled gates the whole subsystem. When false no process is ever
	// spawned and every submission resolves to a Disabled outcome.
	Enabled bool

	// MaxWorkers caps concurrent worker processes.
	MaxWorkers int

	// MaxTasksPerWorker retires a worker after this many completed calls,
	// bounding the damage of native-library memory leaks.
	MaxTasksPerWorker int

	// CallTimeout is the per-call execution deadline, enforced by the worker
	// itself. The supervisor waits CallTimeout+KillGrace before concluding
	// the worker is wedged and killing it.
	CallTimeout time.Duration
	KillGrace   time.Duration

	// QueueWait bounds how long a submission may wait for a free worker.
	QueueWait time.Duration

	// QueueCapacity bounds the number of queued submissions. Arrivals beyond
	// it resolve to QueueTimeout immediately.
	QueueCapacity int

	// IdleTimeout and ReapInterval drive the idle reaper: workers idle
	// longer than IdleTimeout are terminated to give memory back to the OS.
	IdleTimeout  time.Duration
	ReapInterval time.Duration

	// SpawnTimeout bounds process start plus engine init plus the ready
	// handshake.
	SpawnTimeout time.Duration
}

func (c *Config) normalize() {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = DefaultMaxWorkers
	}
	if c.MaxTasksPerWorker <= 0 {
		c.MaxTasksPerWorker = DefaultMaxTasksPerWorker
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.KillGrace <= 0 {
		c.KillGrace = DefaultKillGrace
	}
	if c.QueueWait <= 0 {
		c.QueueWait = DefaultQueueWait
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = DefaultReapInterval
	}
	if c.SpawnTimeout <= 0 {
		c.SpawnTimeout = DefaultSpawnTimeout
	}
}

// Option customises a Pool at construction time.
type Option func(*Pool)

// WithLogger sets the pool's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRateLimit throttles submissions to rps calls per second with the given
// burst. rps <= 0 leaves rate limiting off. Waiting for a token counts
// against the submission's QueueWait budget.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pool) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}
