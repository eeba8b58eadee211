// Package cleanup prunes terminal execution history on a schedule, so
// long-lived deployments do not accumulate unbounded metadata.
package cleanup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Theauxm/manifold/store"
)

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithInterval sets how often the cleaner runs. Zero disables it.
func WithInterval(d time.Duration) Option {
	return func(c *Cleaner) { c.interval = d }
}

// WithRetention sets how long terminal execution records are kept.
func WithRetention(d time.Duration) Option {
	return func(c *Cleaner) { c.retention = d }
}

// WithWorkflows restricts pruning to the named workflows. Empty means
// all workflows.
func WithWorkflows(names ...string) Option {
	return func(c *Cleaner) { c.workflows = names }
}

// Cleaner deletes terminal execution records past their retention.
// Active executions and the manifests themselves are never touched.
type Cleaner struct {
	store     store.Store
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	workflows []string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Cleaner.
func New(st store.Store, logger *slog.Logger, opts ...Option) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cleaner{
		store:     st,
		logger:    logger.With("component", "cleanup"),
		interval:  time.Hour,
		retention: 30 * 24 * time.Hour,
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the pruning loop. A zero interval disables pruning.
func (c *Cleaner) Start(_ context.Context) error {
	if c.interval <= 0 {
		c.logger.Info("cleanup disabled")
		return nil
	}
	c.wg.Add(1)
	go c.loop()
	c.logger.Info("cleanup started",
		slog.Duration("interval", c.interval),
		slog.Duration("retention", c.retention))
	return nil
}

// Stop signals the loop to stop and waits for it to finish.
func (c *Cleaner) Stop(_ context.Context) error {
	if c.interval <= 0 {
		return nil
	}
	close(c.stopCh)
	c.wg.Wait()
	c.logger.Info("cleanup stopped")
	return nil
}

func (c *Cleaner) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Prune(context.Background())
		}
	}
}

// Prune deletes terminal records older than the retention window.
// Exported so operator tooling can trigger an immediate prune.
func (c *Cleaner) Prune(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-c.retention)
	deleted, err := c.store.DeleteTerminalBefore(ctx, cutoff, c.workflows)
	if err != nil {
		c.logger.Error("prune error", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		c.logger.Info("pruned execution history",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff))
	}
}
