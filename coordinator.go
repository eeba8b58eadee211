package manifold

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Coordinator.
type Option func(*Coordinator) error

// Storer is the minimal store interface held by the Coordinator.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles; implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for the polling loops the engine wires in
// (manager, dispatcher, cleanup).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Coordinator is the top-level handle for a Manifold instance. It owns the
// configuration, logger, and store, and starts/stops the polling loops the
// engine package attaches. Create one with New() and functional options,
// then wire subsystems with engine.Build.
type Coordinator struct {
	config  Config
	logger  *slog.Logger
	store   Storer
	runners []runner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Coordinator with the given options.
func New(opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *slog.Logger { return c.logger }

// Store returns the coordinator's store.
func (c *Coordinator) Store() Storer { return c.store }

// Config returns a copy of the coordinator's configuration.
func (c *Coordinator) Config() Config { return c.config }

// AddRunner attaches a polling loop (called by the engine package).
func (c *Coordinator) AddRunner(r runner) { c.runners = append(c.runners, r) }

// Start begins all attached polling loops in attachment order.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.store == nil {
		return ErrNoStore
	}
	for _, r := range c.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	c.started = true
	return nil
}

// Stop shuts down the polling loops in reverse attachment order, then
// closes the store.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.started {
		for i := len(c.runners) - 1; i >= 0; i-- {
			if err := c.runners[i].Stop(ctx); err != nil {
				c.logger.Error("runner stop error", slog.String("error", err.Error()))
			}
		}
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithStore sets the persistence backend for the coordinator.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Coordinator) error {
		c.store = s
		return nil
	}
}

// WithLogger sets the structured logger for the coordinator.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) error {
		c.logger = l
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) error {
		c.config = cfg
		return nil
	}
}

// WithManagerInterval sets how often the manifest manager runs a cycle.
func WithManagerInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.ManagerInterval = d
		return nil
	}
}

// WithDispatcherInterval sets how often the dispatcher polls the work queue.
func WithDispatcherInterval(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.DispatcherInterval = d
		return nil
	}
}

// WithMaxActiveJobs caps concurrent executions across all groups.
// Zero means unlimited.
func WithMaxActiveJobs(n int) Option {
	return func(c *Coordinator) error {
		c.config.MaxActiveJobs = n
		return nil
	}
}

// WithVisibilityTimeout sets the lease after which a dispatched but
// unfinished execution is considered abandoned.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.VisibilityTimeout = d
		return nil
	}
}

// WithShutdownGracePeriod sets how long in-flight executions may continue
// after Stop before cancellation.
func WithShutdownGracePeriod(d time.Duration) Option {
	return func(c *Coordinator) error {
		c.config.ShutdownGracePeriod = d
		return nil
	}
}

// WithCleanup enables the metadata cleanup loop for the named workflows.
func WithCleanup(interval, retention time.Duration, workflows ...string) Option {
	return func(c *Coordinator) error {
		c.config.CleanupInterval = interval
		c.config.CleanupRetention = retention
		c.config.CleanupWorkflows = workflows
		return nil
	}
}
