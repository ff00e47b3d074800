package procpool

import "time"

// WorkerStatus is a worker slot's lifecycle state.
type WorkerStatus string

const (
	// StatusSpawning: slot reserved, process starting or initialising.
	StatusSpawning WorkerStatus = "spawning"
	// StatusIdle: live and waiting for work.
	StatusIdle WorkerStatus = "idle"
	// StatusBusy: executing exactly one call.
	StatusBusy WorkerStatus = "busy"
	// StatusRetiring: draining for recycle or reap; accepts no new work.
	StatusRetiring WorkerStatus = "retiring"
	// StatusDead: terminated, about to leave the handle map.
	StatusDead WorkerStatus = "dead"
)

// workerHandle is the supervisor's bookkeeping for one slot. Slot numbers
// are reused across process generations; generation disambiguates. All
// fields are guarded by the pool mutex except proc, which is written once
// before the handle becomes visible as idle.
type workerHandle struct {
	slot       int
	generation int
	proc       WorkerProc
	status     WorkerStatus
	tasksDone  int
	lastActive time.Time
}
