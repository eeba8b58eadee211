package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/backoff"
	"github.com/Theauxm/manifold/cleanup"
	"github.com/Theauxm/manifold/deadletter"
	"github.com/Theauxm/manifold/dispatcher"
	"github.com/Theauxm/manifold/manager"
	"github.com/Theauxm/manifold/manifest"
	mw "github.com/Theauxm/manifold/middleware"
	"github.com/Theauxm/manifold/store"
	"github.com/Theauxm/manifold/workflow"
)

// Engine wraps a Coordinator with wired subsystems. Use Build() to
// create one.
type Engine struct {
	coord  *manifold.Coordinator
	store  store.Store
	logger *slog.Logger

	registry *workflow.Registry
	mws      []mw.Middleware
	bo       backoff.Strategy
	limits   []dispatcher.GroupLimit

	mgr       *manager.Manager
	activator *manager.Activator
	disp      *dispatcher.Dispatcher
	cleaner   *cleanup.Cleaner
	letters   *deadletter.Service

	seeds []*seed

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// seed is one declared manifest awaiting Seed().
type seed struct {
	m              *manifest.Manifest
	groupName      string
	groupPriority  int
	groupMaxActive int
	parentExternal string
}

// Option configures an Engine.
type Option func(*Engine)

// WithMiddleware appends middleware to the workflow execution chain,
// inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the requeue delay strategy for failing manifests.
// Defaults to backoff.DefaultStrategy() (exponential with jitter).
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithGroupLimits configures local per-group claim rate limits.
func WithGroupLimits(limits ...dispatcher.GroupLimit) Option {
	return func(eng *Engine) { eng.limits = append(eng.limits, limits...) }
}

// WithTracerProvider sets a custom OTel TracerProvider. When unset the
// global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When unset the
// global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// Build creates an Engine from a Coordinator. The Coordinator's store
// must implement store.Store.
func Build(c *manifold.Coordinator, opts ...Option) (*Engine, error) {
	logger := c.Logger()

	if c.Store() == nil {
		return nil, manifold.ErrNoStore
	}
	st, ok := c.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("manifold: store does not implement store.Store")
	}

	eng := &Engine{
		coord:    c,
		store:    st,
		logger:   logger,
		registry: workflow.NewRegistry(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/Theauxm/manifold"))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/Theauxm/manifold"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging.
	// The per-manifest timeout wraps innermost, applied by the executor.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
	}
	allMws = append(allMws, eng.mws...)

	cfg := c.Config()

	eng.mgr = manager.New(st, logger,
		manager.WithInterval(cfg.ManagerInterval),
		manager.WithDependentBoost(cfg.DependentPriorityBoost),
		manager.WithBackoff(eng.bo),
	)
	eng.activator = manager.NewActivator(st, cfg.DependentPriorityBoost, logger)

	executor := dispatcher.NewExecutor(st, eng.registry, logger, allMws...)
	eng.disp = dispatcher.New(st, executor, logger,
		dispatcher.WithInterval(cfg.DispatcherInterval),
		dispatcher.WithBatchSize(cfg.DispatchBatchSize),
		dispatcher.WithMaxActive(cfg.MaxActiveJobs),
		dispatcher.WithVisibilityTimeout(cfg.VisibilityTimeout),
		dispatcher.WithRecoveryInterval(cfg.RecoveryInterval),
		dispatcher.WithShutdownGrace(cfg.ShutdownGracePeriod),
		dispatcher.WithLimiter(dispatcher.NewLimiter(eng.limits...)),
	)

	eng.cleaner = cleanup.New(st, logger,
		cleanup.WithInterval(cfg.CleanupInterval),
		cleanup.WithRetention(cfg.CleanupRetention),
		cleanup.WithWorkflows(cfg.CleanupWorkflows...),
	)

	eng.letters = deadletter.NewService(st, st, st, cfg.DependentPriorityBoost, logger)

	// Manager first so due work exists by the first dispatcher tick;
	// cleanup last. Stop runs in reverse.
	c.AddRunner(eng.mgr)
	c.AddRunner(eng.disp)
	c.AddRunner(eng.cleaner)

	return eng, nil
}

// RegisterWorkflow registers a typed workflow with the engine.
func RegisterWorkflow[In, Out any](eng *Engine, def *workflow.Definition[In, Out]) {
	workflow.Register(eng.registry, def)
}

// RegisterManifest declares a manifest to be seeded at Start. The
// definition is validated and serialized immediately; persistence and
// parent resolution happen in Seed.
func RegisterManifest[T any](eng *Engine, def *manifest.Definition[T]) error {
	m, err := def.Build(context.Background())
	if err != nil {
		return err
	}
	eng.seeds = append(eng.seeds, &seed{
		m:              m,
		groupName:      def.GroupName(),
		groupPriority:  def.GroupPriority,
		groupMaxActive: def.GroupMaxActive,
		parentExternal: def.DependsOn,
	})
	return nil
}

// Start migrates the schema, seeds declared manifests, validates the
// dependency graph, and starts the polling loops.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := eng.Seed(ctx); err != nil {
		return fmt.Errorf("seed manifests: %w", err)
	}
	return eng.coord.Start(ctx)
}

// Stop gracefully shuts down the polling loops and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.coord.Stop(ctx)
}

// Registry returns the workflow registry.
func (eng *Engine) Registry() *workflow.Registry { return eng.registry }

// Manager returns the scheduling manager.
func (eng *Engine) Manager() *manager.Manager { return eng.mgr }

// Dispatcher returns the work dispatcher.
func (eng *Engine) Dispatcher() *dispatcher.Dispatcher { return eng.disp }

// DeadLetters returns the dead letter resolution service.
func (eng *Engine) DeadLetters() *deadletter.Service { return eng.letters }

// Activator returns the dormant dependent activator.
func (eng *Engine) Activator() *manager.Activator { return eng.activator }
