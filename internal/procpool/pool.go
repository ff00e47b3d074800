// Package procpool supervises a bounded pool of worker OS processes and
// dispatches work units to them. Process isolation is the point: the native
// transcription engine leaks memory and occasionally wedges, so every call
// runs in a child that can be killed and replaced without touching the
// parent. Workers are recycled after a fixed number of calls and reaped when
// idle; callers always get exactly one typed Outcome per submission.
package procpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/voxserve/voxserve/internal/domain"
	"github.com/voxserve/voxserve/internal/ipc"
	"github.com/voxserve/voxserve/pkg/retry"
	"github.com/voxserve/voxserve/pkg/telemetry"
)

// waiterResult hands either an acquired handle or a terminal outcome to a
// queued submission. handle == nil means the outcome is final.
type waiterResult struct {
	handle  *workerHandle
	outcome domain.Outcome
}

type waiter struct {
	ch chan waiterResult // buffered 1; delivery never blocks
}

// Pool owns every worker process. All submissions flow through Submit; the
// pool spawns lazily up to MaxWorkers and queues the rest in strict FIFO
// order.
type Pool struct {
	cfg     Config
	spawn   SpawnFunc
	logger  *slog.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	handles map[int]*workerHandle
	gens    map[int]int // last generation handed out per slot
	waiters []*waiter
	closed  bool

	inFlight sync.WaitGroup
	cron     *cron.Cron
}

// New builds a Pool. spawn is how worker processes are started; pass
// NewExecSpawner in production. The pool is inert until Start.
func New(cfg Config, spawn SpawnFunc, opts ...Option) *Pool {
	cfg.normalize()
	p := &Pool{
		cfg:     cfg,
		spawn:   spawn,
		logger:  slog.Default(),
		handles: make(map[int]*workerHandle),
		gens:    make(map[int]int),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start schedules the idle reaper. Workers themselves are spawned lazily on
// first demand, so a freshly started pool holds no processes.
func (p *Pool) Start() error {
	if !p.cfg.Enabled {
		p.logger.Info("process isolation disabled, pool will reject submissions")
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", p.cfg.ReapInterval), p.reapIdle); err != nil {
		return fmt.Errorf("schedule idle reaper: %w", err)
	}
	c.Start()
	p.cron = c
	p.logger.Info("pool started",
		slog.Int("max_workers", p.cfg.MaxWorkers),
		slog.Int("max_tasks_per_worker", p.cfg.MaxTasksPerWorker),
		slog.Duration("call_timeout", p.cfg.CallTimeout),
		slog.Duration("idle_timeout", p.cfg.IdleTimeout),
	)
	return nil
}

// Submit runs one payload on a worker process and blocks until a terminal
// outcome exists. Every submission resolves exactly once; there are no
// retries at this layer.
func (p *Pool) Submit(ctx context.Context, payload domain.Payload) domain.Outcome {
	out := p.submit(ctx, payload)
	telemetry.PoolOutcomesTotal.WithLabelValues(string(out.Kind)).Inc()
	return out
}

func (p *Pool) submit(ctx context.Context, payload domain.Payload) domain.Outcome {
	if !p.cfg.Enabled {
		return domain.Outcome{Kind: domain.OutcomeDisabled, Message: "process isolation is disabled"}
	}

	unit := domain.NewWorkUnit(payload)
	log := p.logger.With(slog.String("unit_id", unit.ID))

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return domain.Outcome{Kind: domain.OutcomeShuttingDown, Message: "pool is shutting down"}
	}
	p.inFlight.Add(1)
	p.mu.Unlock()
	defer p.inFlight.Done()

	if p.limiter != nil {
		rctx, cancel := context.WithTimeout(ctx, p.cfg.QueueWait)
		err := p.limiter.Wait(rctx)
		cancel()
		if err != nil {
			return domain.QueueTimeoutOutcome("rate limit: no capacity within queue wait")
		}
	}

	queued := time.Now()
	h, out := p.acquire(ctx)
	if h == nil {
		return out
	}
	telemetry.PoolQueueWaitSeconds.Observe(time.Since(queued).Seconds())

	return p.dispatch(h, unit, log)
}

// acquire returns a busy-marked handle, or a terminal outcome when none
// could be had. Submissions queue FIFO; a freed or freshly spawned worker
// always goes to the head waiter.
func (p *Pool) acquire(ctx context.Context) (*workerHandle, domain.Outcome) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, domain.Outcome{Kind: domain.OutcomeShuttingDown, Message: "pool is shutting down"}
	}

	if h := p.idleLocked(); h != nil {
		h.status = StatusBusy
		p.mu.Unlock()
		return h, domain.Outcome{}
	}

	if len(p.waiters) >= p.cfg.QueueCapacity {
		p.mu.Unlock()
		return nil, domain.QueueTimeoutOutcome("queue is full")
	}

	w := &waiter{ch: make(chan waiterResult, 1)}
	p.waiters = append(p.waiters, w)
	telemetry.PoolQueueDepth.Set(float64(len(p.waiters)))

	var slot, gen int
	grow := len(p.handles) < p.cfg.MaxWorkers
	if grow {
		slot, gen = p.reserveSlotLocked()
	}
	p.mu.Unlock()

	if grow {
		go p.spawnInto(slot, gen)
	}

	timer := time.NewTimer(p.cfg.QueueWait)
	defer timer.Stop()

	select {
	case r := <-w.ch:
		if r.handle == nil {
			return nil, r.outcome
		}
		return r.handle, domain.Outcome{}
	case <-timer.C:
		if h := p.cancelWaiter(w); h != nil {
			return h, domain.Outcome{}
		}
		return nil, domain.QueueTimeoutOutcome(fmt.Sprintf("no worker available within %s", p.cfg.QueueWait))
	case <-ctx.Done():
		if h := p.cancelWaiter(w); h != nil {
			return h, domain.Outcome{}
		}
		return nil, domain.QueueTimeoutOutcome("cancelled while waiting for a worker: " + ctx.Err().Error())
	}
}

// cancelWaiter removes w from the queue. A handle delivered in the same
// instant is not wasted: it is returned so the caller proceeds with it.
func (p *Pool) cancelWaiter(w *waiter) *workerHandle {
	p.mu.Lock()
	for i, x := range p.waiters {
		if x == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	telemetry.PoolQueueDepth.Set(float64(len(p.waiters)))
	p.mu.Unlock()

	select {
	case r := <-w.ch:
		if r.handle != nil {
			return r.handle
		}
	default:
	}
	return nil
}

func (p *Pool) idleLocked() *workerHandle {
	for slot := 0; slot < p.cfg.MaxWorkers; slot++ {
		if h, ok := p.handles[slot]; ok && h.status == StatusIdle {
			return h
		}
	}
	return nil
}

// reserveSlotLocked claims the lowest free slot with a Spawning placeholder
// so concurrent submissions cannot over-spawn. Generations count up per slot
// across process replacements.
func (p *Pool) reserveSlotLocked() (int, int) {
	slot := 0
	for {
		if _, ok := p.handles[slot]; !ok {
			break
		}
		slot++
	}
	gen := p.gens[slot] + 1
	p.gens[slot] = gen
	p.handles[slot] = &workerHandle{slot: slot, generation: gen, status: StatusSpawning}
	return slot, gen
}

// spawnInto starts a worker for a reserved slot. On success the handle turns
// idle and is offered to the head waiter; on total failure with no other
// workers alive, every queued submission resolves to PoolUnavailable.
func (p *Pool) spawnInto(slot, gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SpawnTimeout)
	defer cancel()

	var proc WorkerProc
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		OnRetry: func(attempt int, err error) {
			p.logger.Warn("worker spawn failed, retrying",
				slog.Int("worker_slot", slot),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		},
	}, func() error {
		var serr error
		proc, serr = p.spawn(ctx, slot)
		return serr
	})

	p.mu.Lock()
	h, ok := p.handles[slot]
	if !ok || h.generation != gen {
		// Slot was torn down while we were spawning (shutdown).
		p.mu.Unlock()
		if err == nil {
			_ = proc.Kill()
		}
		return
	}

	if err != nil {
		delete(p.handles, slot)
		if len(p.handles) == 0 {
			p.failWaitersLocked(domain.Outcome{
				Kind:    domain.OutcomePoolUnavailable,
				Message: "no worker could be spawned: " + err.Error(),
			})
		}
		p.mu.Unlock()
		p.logger.Error("worker spawn failed",
			slog.Int("worker_slot", slot),
			slog.String("error", err.Error()),
		)
		return
	}

	h.proc = proc
	h.status = StatusIdle
	h.tasksDone = 0
	h.lastActive = time.Now()
	telemetry.PoolWorkersSpawnedTotal.Inc()
	p.deliverLocked(h)
	p.mu.Unlock()

	p.logger.Info("worker spawned",
		slog.Int("worker_slot", slot),
		slog.Int("generation", gen),
		slog.Int("worker_pid", proc.PID()),
	)
}

// deliverLocked hands an idle handle to the head waiter, if any.
func (p *Pool) deliverLocked(h *workerHandle) {
	if h.status != StatusIdle || len(p.waiters) == 0 {
		return
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	telemetry.PoolQueueDepth.Set(float64(len(p.waiters)))
	h.status = StatusBusy
	w.ch <- waiterResult{handle: h}
}

func (p *Pool) failWaitersLocked(out domain.Outcome) {
	for _, w := range p.waiters {
		w.ch <- waiterResult{outcome: out}
	}
	p.waiters = nil
	telemetry.PoolQueueDepth.Set(0)
}

// dispatch runs one unit on an already-busy handle. The worker enforces
// CallTimeout itself; the supervisor's timer adds KillGrace on top, and
// firing it means the worker is wedged and gets killed. A result arriving
// after that is dropped with the process.
func (p *Pool) dispatch(h *workerHandle, unit domain.WorkUnit, log *slog.Logger) domain.Outcome {
	req := ipc.Request{ID: unit.ID, Payload: unit.Payload, Timeout: p.cfg.CallTimeout}
	start := time.Now()

	if err := h.proc.Send(req); err != nil {
		log.Error("dispatch to worker failed",
			slog.Int("worker_slot", h.slot),
			slog.String("error", err.Error()),
		)
		telemetry.PoolCrashesTotal.Inc()
		p.replace(h, true)
		return domain.CrashedOutcome("worker rejected request: " + err.Error())
	}

	timer := time.NewTimer(p.cfg.CallTimeout + p.cfg.KillGrace)
	defer timer.Stop()

	select {
	case res, ok := <-h.proc.Results():
		if !ok {
			log.Error("worker exited mid-call", slog.Int("worker_slot", h.slot))
			telemetry.PoolCrashesTotal.Inc()
			p.replace(h, true)
			return domain.CrashedOutcome("worker process exited mid-call")
		}
		telemetry.PoolTaskDurationSeconds.Observe(time.Since(start).Seconds())
		return p.settle(h, unit, res, log)
	case <-timer.C:
		log.Warn("call deadline exceeded, killing worker",
			slog.Int("worker_slot", h.slot),
			slog.Duration("deadline", p.cfg.CallTimeout+p.cfg.KillGrace),
		)
		telemetry.PoolTimeoutsTotal.Inc()
		p.replace(h, true)
		return domain.TimeoutOutcome(fmt.Sprintf("no result within %s", p.cfg.CallTimeout+p.cfg.KillGrace))
	}
}

func (p *Pool) settle(h *workerHandle, unit domain.WorkUnit, res ipc.Result, log *slog.Logger) domain.Outcome {
	if res.ID != unit.ID {
		log.Error("worker answered with wrong unit id",
			slog.Int("worker_slot", h.slot),
			slog.String("got", res.ID),
		)
		telemetry.PoolCrashesTotal.Inc()
		p.replace(h, true)
		return domain.CrashedOutcome("worker broke the frame protocol")
	}

	if res.OK {
		p.release(h)
		return domain.SuccessOutcome(res.Result)
	}

	if res.ErrKind == domain.FailTimeout {
		// The worker hit its own deadline. The call was interrupted inside
		// the native engine, so the process state is suspect: replace it.
		telemetry.PoolTimeoutsTotal.Inc()
		p.replace(h, true)
		return domain.TimeoutOutcome(res.ErrMsg)
	}

	p.release(h)
	return domain.FailureOutcome(res.ErrKind, res.ErrMsg)
}

// release returns a handle after a completed call: back to idle, or into
// retirement once it hits the per-worker task threshold.
func (p *Pool) release(h *workerHandle) {
	p.mu.Lock()
	h.tasksDone++
	h.lastActive = time.Now()

	if p.closed {
		// Shutdown owns the handle map now.
		p.mu.Unlock()
		return
	}

	if h.tasksDone >= p.cfg.MaxTasksPerWorker {
		h.status = StatusRetiring
		p.mu.Unlock()
		telemetry.PoolWorkersRecycledTotal.Inc()
		p.logger.Info("recycling worker",
			slog.Int("worker_slot", h.slot),
			slog.Int("generation", h.generation),
			slog.Int("tasks_done", h.tasksDone),
		)
		go p.retire(h, true)
		return
	}

	h.status = StatusIdle
	p.deliverLocked(h)
	p.mu.Unlock()
}

// retire gracefully stops a worker: close stdin, give it KillGrace to exit,
// then kill. With respawn the slot is refilled eagerly (recycle); without,
// the pool shrinks and the next submission respawns lazily (reap).
func (p *Pool) retire(h *workerHandle, respawn bool) {
	_ = h.proc.Close()
	select {
	case <-h.proc.Wait():
	case <-time.After(p.cfg.KillGrace):
		_ = h.proc.Kill()
		<-h.proc.Wait()
	}

	p.mu.Lock()
	cur, ok := p.handles[h.slot]
	owned := ok && cur == h
	if owned {
		delete(p.handles, h.slot)
	}
	var slot, gen int
	grow := respawn && owned && !p.closed
	if grow {
		slot, gen = p.reserveSlotLocked()
	}
	p.mu.Unlock()

	if grow {
		p.spawnInto(slot, gen)
	}
}

// replace removes a handle whose process is dead or condemned, kills it, and
// optionally reserves a successor. Never blocks on the dying process.
func (p *Pool) replace(h *workerHandle, respawn bool) {
	p.mu.Lock()
	cur, ok := p.handles[h.slot]
	if !ok || cur != h {
		p.mu.Unlock()
		return
	}
	h.status = StatusDead
	delete(p.handles, h.slot)
	var slot, gen int
	grow := respawn && !p.closed
	if grow {
		slot, gen = p.reserveSlotLocked()
	}
	p.mu.Unlock()

	_ = h.proc.Kill()

	if grow {
		go p.spawnInto(slot, gen)
	}
}

// Shutdown stops the pool: queued submissions resolve to ShuttingDown,
// in-flight calls are waited for up to ctx, then every worker is asked to
// exit and killed if ctx runs out first. Idempotent.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.failWaitersLocked(domain.Outcome{Kind: domain.OutcomeShuttingDown, Message: "pool is shutting down"})
	p.mu.Unlock()

	if p.cron != nil {
		<-p.cron.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		p.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("shutdown deadline reached with calls still in flight")
	}

	p.mu.Lock()
	handles := make([]*workerHandle, 0, len(p.handles))
	for _, h := range p.handles {
		handles = append(handles, h)
	}
	p.handles = make(map[int]*workerHandle)
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		if h.proc == nil {
			continue // still spawning; spawnInto will notice and kill
		}
		proc := h.proc
		g.Go(func() error {
			_ = proc.Close()
			select {
			case <-proc.Wait():
			case <-gctx.Done():
				_ = proc.Kill()
			}
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("pool shut down", slog.Int("workers_stopped", len(handles)))
	return err
}
