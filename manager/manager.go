package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/backoff"
	"github.com/Theauxm/manifold/deadletter"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/manifest"
	"github.com/Theauxm/manifold/store"
	"github.com/Theauxm/manifold/work"
)

// DefaultLockName is the advisory lock guarding the scheduling cycle.
const DefaultLockName = "manifold:manager"

// Option configures a Manager.
type Option func(*Manager)

// WithInterval sets how often the manager attempts a cycle.
func WithInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithDependentBoost sets the priority bump dependent manifests get at
// enqueue time, so downstream work runs ahead of new upstream rounds.
func WithDependentBoost(boost int) Option {
	return func(m *Manager) { m.boost = boost }
}

// WithBackoff sets the requeue delay strategy for failing manifests.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(m *Manager) { m.backoff = strategy }
}

// WithLockName overrides the advisory lock name. Two deployments
// sharing a database can schedule independently with distinct names.
func WithLockName(name string) Option {
	return func(m *Manager) { m.lockName = name }
}

// Manager owns the scheduling cycle tick loop.
type Manager struct {
	store     store.Store
	evaluator *manifest.Evaluator
	backoff   backoff.Strategy
	logger    *slog.Logger

	interval time.Duration
	boost    int
	lockName string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Manager.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:     st,
		evaluator: manifest.NewEvaluator(),
		backoff:   backoff.DefaultStrategy(),
		logger:    logger.With("component", "manager"),
		interval:  30 * time.Second,
		boost:     8,
		lockName:  DefaultLockName,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the cycle tick loop.
func (m *Manager) Start(_ context.Context) error {
	m.wg.Add(1)
	go m.tickLoop()
	m.logger.Info("manager started", slog.Duration("interval", m.interval))
	return nil
}

// Stop signals the loop to stop and waits for it to finish.
func (m *Manager) Stop(_ context.Context) error {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("manager stopped")
	return nil
}

func (m *Manager) tickLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Run one cycle immediately at start.
	m.tick()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Manager) tick() {
	ctx := context.Background()
	if _, err := m.RunCycle(ctx); err != nil {
		m.logger.Error("cycle error", slog.String("error", err.Error()))
	}
}

// RunCycle attempts one scheduling cycle under the leader lock.
// Returns false when another process held the lock and the cycle was
// skipped. Exported so tests and operator tooling can drive cycles
// without the tick loop.
func (m *Manager) RunCycle(ctx context.Context) (bool, error) {
	return m.store.WithLeaderLock(ctx, m.lockName, m.cycle)
}

// cycle is one full pass: load projections, reap exhausted manifests,
// evaluate independents, then dependents, enqueueing work as it goes.
// A failure on one manifest is logged and never aborts the rest.
func (m *Manager) cycle(ctx context.Context, tx store.Cycle) error {
	now := time.Now().UTC()

	projections, err := tx.ListProjections(ctx)
	if err != nil {
		return fmt.Errorf("load projections: %w", err)
	}

	byID := make(map[string]*manifest.Projection, len(projections))
	for _, p := range projections {
		byID[p.ID.String()] = p
	}

	reaped := m.reap(ctx, tx, projections, now)

	// Independents first, dependents second: a parent enqueued this
	// cycle is not yet successful, so its dependents stay quiet until
	// it finishes — but a dependent whose parent succeeded since the
	// last cycle is picked up in the same pass ordering every time.
	for _, p := range projections {
		if p.IsDependent() {
			continue
		}
		m.evaluate(ctx, tx, p, byID, reaped, now)
	}
	for _, p := range projections {
		if !p.IsDependent() {
			continue
		}
		m.evaluate(ctx, tx, p, byID, reaped, now)
	}

	return nil
}

// reap parks every manifest that exhausted its retry budget and has no
// unresolved dead letter. A letter is only raised when a failure
// postdates the most recent letter, so an acknowledged letter stays
// quiet until the manifest fails again. Returns the set of manifest
// IDs parked this cycle.
func (m *Manager) reap(ctx context.Context, tx store.Cycle, projections []*manifest.Projection, now time.Time) map[string]bool {
	reaped := make(map[string]bool)
	for _, p := range projections {
		if !m.exhausted(p) || p.HasAwaitingDeadLetter {
			continue
		}
		if p.LastDeadLetteredAt != nil &&
			(p.LastFailureAt == nil || !p.LastFailureAt.After(*p.LastDeadLetteredAt)) {
			continue
		}

		letter := &deadletter.Entry{
			Entity:       manifold.NewEntity(),
			ID:           id.NewDeadLetterID(),
			ManifestID:   p.ID,
			Status:       deadletter.StatusAwaitingIntervention,
			Reason:       fmt.Sprintf("workflow %s failed %d times (budget %d)", p.WorkflowName, p.FailureCount, p.MaxRetries),
			FailureCount: p.FailureCount,
		}
		if err := tx.PushDeadLetter(ctx, letter); err != nil {
			m.logger.Error("dead letter push failed",
				slog.String("manifest", p.ExternalID),
				slog.String("error", err.Error()))
			continue
		}
		reaped[p.ID.String()] = true
		m.logger.Warn("manifest dead lettered",
			slog.String("manifest", p.ExternalID),
			slog.Int("failure_count", p.FailureCount),
			slog.Int("max_retries", p.MaxRetries))
	}
	return reaped
}

// exhausted reports whether the manifest's failure streak has used up
// its retry budget. MaxRetries <= 0 means an unlimited budget.
func (m *Manager) exhausted(p *manifest.Projection) bool {
	return p.MaxRetries > 0 && p.FailureCount >= p.MaxRetries
}

// evaluate applies the queueing guards and, when the manifest is due,
// enqueues a work entry.
func (m *Manager) evaluate(ctx context.Context, tx store.Cycle, p *manifest.Projection, byID map[string]*manifest.Projection, reaped map[string]bool, now time.Time) {
	switch {
	case !p.GroupEnabled:
		m.logger.Debug("skipping manifest in disabled group",
			slog.String("manifest", p.ExternalID),
			slog.String("group", p.GroupName))
		return
	case reaped[p.ID.String()], p.HasAwaitingDeadLetter, m.exhausted(p):
		return
	case p.HasQueuedWork, p.HasActiveExecution:
		return
	}

	var parent *manifest.Projection
	if !p.DependsOn.IsNil() {
		parent = byID[p.DependsOn.String()]
	}

	due, err := m.evaluator.IsDue(p, now, parent)
	if err != nil {
		m.logger.Error("due evaluation failed",
			slog.String("manifest", p.ExternalID),
			slog.String("error", err.Error()))
		return
	}
	if !due {
		return
	}

	priority := p.GroupPriority
	if p.IsDependent() {
		priority += m.boost
	}

	entry := &work.Entry{
		Entity:       manifold.NewEntity(),
		ID:           id.NewWorkID(),
		ManifestID:   p.ID,
		WorkflowName: p.WorkflowName,
		Input:        p.Input,
		InputType:    p.InputType,
		Status:       work.StatusQueued,
		Priority:     priority,
	}
	// A failing manifest is re-queued with a delay so a tight failure
	// loop cannot monopolize the dispatchers.
	if p.FailureCount > 0 {
		entry.AvailableAt = now.Add(m.backoff.Delay(p.FailureCount))
	}

	if err := tx.EnqueueWork(ctx, entry); err != nil {
		if errors.Is(err, manifold.ErrAlreadyQueued) {
			return
		}
		m.logger.Error("enqueue failed",
			slog.String("manifest", p.ExternalID),
			slog.String("error", err.Error()))
		return
	}

	m.logger.Info("manifest queued",
		slog.String("manifest", p.ExternalID),
		slog.String("workflow", p.WorkflowName),
		slog.Int("priority", priority))
}
