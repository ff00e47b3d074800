package procpool

import (
	"sort"
	"time"
)

// WorkerStats is a point-in-time view of one slot.
type WorkerStats struct {
	Slot           int          `json:"slot"`
	Generation     int          `json:"generation"`
	PID            int          `json:"pid"`
	Status         WorkerStatus `json:"status"`
	TasksCompleted int          `json:"tasks_completed"`
	LastActiveAt   time.Time    `json:"last_active_at"`
}

// Stats is a consistent snapshot of the pool, taken under the lock.
type Stats struct {
	Enabled    bool          `json:"enabled"`
	MaxWorkers int           `json:"max_workers"`
	Live       int           `json:"live"`
	Spawning   int           `json:"spawning"`
	Idle       int           `json:"idle"`
	Busy       int           `json:"busy"`
	Retiring   int           `json:"retiring"`
	QueueDepth int           `json:"queue_depth"`
	Workers    []WorkerStats `json:"workers"`
}

// Stats snapshots the pool for the stats endpoint and the memory monitor.
func (p *Pool) Stats() Stats {
	st := Stats{
		Enabled:    p.cfg.Enabled,
		MaxWorkers: p.cfg.MaxWorkers,
	}

	p.mu.Lock()
	st.QueueDepth = len(p.waiters)
	for _, h := range p.handles {
		ws := WorkerStats{
			Slot:           h.slot,
			Generation:     h.generation,
			Status:         h.status,
			TasksCompleted: h.tasksDone,
			LastActiveAt:   h.lastActive,
		}
		if h.proc != nil {
			ws.PID = h.proc.PID()
		}
		st.Workers = append(st.Workers, ws)

		switch h.status {
		case StatusSpawning:
			st.Spawning++
		case StatusIdle:
			st.Idle++
			st.Live++
		case StatusBusy:
			st.Busy++
			st.Live++
		case StatusRetiring:
			st.Retiring++
			st.Live++
		}
	}
	p.mu.Unlock()

	sort.Slice(st.Workers, func(i, j int) bool { return st.Workers[i].Slot < st.Workers[j].Slot })
	return st
}
