package procpool

import (
	"log/slog"
	"time"

	"github.com/voxserve/voxserve/pkg/telemetry"
)

// reapIdle terminates workers that have been idle past IdleTimeout, giving
// their memory back to the OS. The pool may shrink below MaxWorkers; the
// next submission respawns lazily. Nothing is reaped while submissions are
// queued, since a queued caller would just pay the spawn cost again.
func (p *Pool) reapIdle() {
	now := time.Now()

	p.mu.Lock()
	if p.closed || len(p.waiters) > 0 {
		p.mu.Unlock()
		return
	}
	var victims []*workerHandle
	for _, h := range p.handles {
		if h.status == StatusIdle && now.Sub(h.lastActive) >= p.cfg.IdleTimeout {
			h.status = StatusRetiring
			victims = append(victims, h)
		}
	}
	p.mu.Unlock()

	for _, h := range victims {
		telemetry.PoolWorkersReapedTotal.Inc()
		p.logger.Info("reaping idle worker",
			slog.Int("worker_slot", h.slot),
			slog.Int("generation", h.generation),
			slog.Duration("idle_for", now.Sub(h.lastActive)),
		)
		go p.retire(h, false)
	}
}
