package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/store"
	"github.com/Theauxm/manifold/work"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithInterval sets how often the dispatcher polls for claimable work.
func WithInterval(d time.Duration) Option {
	return func(p *Dispatcher) { p.interval = d }
}

// WithBatchSize caps how many entries one tick may claim.
func WithBatchSize(n int) Option {
	return func(p *Dispatcher) { p.batchSize = n }
}

// WithMaxActive sets the global soft cap on concurrent executions.
// Zero means no global cap.
func WithMaxActive(n int) Option {
	return func(p *Dispatcher) { p.maxActive = n }
}

// WithVisibilityTimeout sets how long a claim stays valid before the
// recovery sweep presumes its holder dead.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(p *Dispatcher) { p.visibility = d }
}

// WithRecoveryInterval sets how often the recovery sweep runs. Zero
// disables the periodic sweep; the startup sweep still runs.
func WithRecoveryInterval(d time.Duration) Option {
	return func(p *Dispatcher) { p.recoveryInterval = d }
}

// WithLimiter sets the local per-group claim rate limiter.
func WithLimiter(l *Limiter) Option {
	return func(p *Dispatcher) { p.limiter = l }
}

// WithShutdownGrace sets how long Stop waits for in-flight executions
// before cancelling them.
func WithShutdownGrace(d time.Duration) Option {
	return func(p *Dispatcher) { p.grace = d }
}

// Dispatcher polls for claimable work, gates claims on capacity, and
// runs claimed entries through the Executor.
type Dispatcher struct {
	store    store.Store
	executor *Executor
	limiter  *Limiter
	logger   *slog.Logger
	workerID id.WorkerID

	interval         time.Duration
	batchSize        int
	maxActive        int
	visibility       time.Duration
	recoveryInterval time.Duration
	grace            time.Duration

	runCtx    context.Context
	runCancel context.CancelFunc

	stopCh chan struct{}
	wg     sync.WaitGroup
	execWg sync.WaitGroup
}

// New creates a Dispatcher.
func New(st store.Store, executor *Executor, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, runCancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		store:            st,
		executor:         executor,
		limiter:          NewLimiter(),
		logger:           logger.With("component", "dispatcher"),
		workerID:         id.NewWorkerID(),
		interval:         5 * time.Second,
		batchSize:        50,
		visibility:       30 * time.Minute,
		recoveryInterval: 5 * time.Minute,
		grace:            30 * time.Second,
		runCtx:           runCtx,
		runCancel:        runCancel,
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WorkerID returns the dispatcher's unique worker identifier, recorded
// as ClaimedBy on every execution it starts.
func (d *Dispatcher) WorkerID() id.WorkerID { return d.workerID }

// Start launches the claim loop and the recovery sweep.
func (d *Dispatcher) Start(_ context.Context) error {
	d.wg.Add(2)
	go d.claimLoop()
	go d.recoveryLoop()
	d.logger.Info("dispatcher started",
		slog.String("worker_id", d.workerID.String()),
		slog.Duration("interval", d.interval),
		slog.Int("max_active", d.maxActive))
	return nil
}

// Stop halts polling, then waits up to the grace period for in-flight
// executions. Past the grace period their contexts are cancelled and
// the workflows finish as Cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	close(d.stopCh)
	d.wg.Wait()

	done := make(chan struct{})
	go func() {
		d.execWg.Wait()
		close(done)
	}()

	graceTimer := time.NewTimer(d.grace)
	defer graceTimer.Stop()

	select {
	case <-done:
		d.logger.Info("dispatcher stopped gracefully")
	case <-graceTimer.C:
		d.logger.Warn("shutdown grace elapsed, cancelling in-flight executions")
		d.runCancel()
		d.execWg.Wait()
	case <-ctx.Done():
		d.runCancel()
		d.execWg.Wait()
	}
	d.runCancel()
	return nil
}

func (d *Dispatcher) claimLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.tick()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.tick()
		}
	}
}

// tick claims up to one batch of work within current capacity and
// launches executions for whatever it wins.
func (d *Dispatcher) tick() {
	ctx := d.runCtx

	counts, err := d.store.CountActive(ctx)
	if err != nil {
		d.logger.Error("count active error", slog.String("error", err.Error()))
		return
	}

	capacity := d.batchSize
	if d.maxActive > 0 {
		free := d.maxActive - counts.Global
		if free <= 0 {
			return
		}
		if free < capacity {
			capacity = free
		}
	}

	entries, err := d.store.ListClaimable(ctx, time.Now().UTC(), d.batchSize)
	if err != nil {
		d.logger.Error("list claimable error", slog.String("error", err.Error()))
		return
	}

	claimed := 0
	for _, entry := range entries {
		if claimed >= capacity {
			return
		}

		g, err := groupOf(ctx, d.store, entry)
		if err != nil {
			d.logger.Warn("resolve group failed",
				slog.String("work_id", entry.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if g != nil {
			// Disabling a group pauses its queued entries too.
			if !g.Enabled {
				continue
			}
			if g.MaxActiveJobs > 0 && counts.PerGroup[g.ID] >= g.MaxActiveJobs {
				continue
			}
			if !d.limiter.Allow(g.Name) {
				continue
			}
		}

		if d.claim(ctx, entry) {
			claimed++
			if g != nil {
				counts.PerGroup[g.ID]++
			}
		}
	}
}

// claim attempts the atomic claim for one entry and, on success,
// launches its execution. Returns whether the claim was won.
func (d *Dispatcher) claim(ctx context.Context, entry *work.Entry) bool {
	expiry := time.Now().UTC().Add(d.visibility)
	md := &metadata.Metadata{
		Entity:         manifold.NewEntity(),
		ID:             id.NewMetadataID(),
		Name:           entry.WorkflowName,
		State:          metadata.StatePending,
		ManifestID:     entry.ManifestID,
		Input:          entry.Input,
		ClaimedBy:      d.workerID,
		ClaimExpiresAt: &expiry,
	}

	won, err := d.store.DispatchWork(ctx, entry.ID, md)
	if err != nil {
		d.logger.Error("claim error",
			slog.String("work_id", entry.ID.String()),
			slog.String("error", err.Error()))
		return false
	}
	if !won {
		return false
	}

	d.execWg.Add(1)
	go func() {
		defer d.execWg.Done()
		if err := d.executor.Execute(d.runCtx, md); err != nil {
			d.logger.Error("execution error",
				slog.String("work_id", entry.ID.String()),
				slog.String("workflow", entry.WorkflowName),
				slog.String("error", err.Error()))
		}
	}()
	return true
}
