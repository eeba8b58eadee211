package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/manifest"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/middleware"
	"github.com/Theauxm/manifold/store"
	"github.com/Theauxm/manifold/work"
	"github.com/Theauxm/manifold/workflow"
)

// Executor drives one claimed work entry through its workflow: resolve
// the handler, validate the execution record, run the workflow through
// the middleware chain, and persist the terminal transition in a
// single write. The dispatched entry stays behind, linked to its
// record, until metadata cleanup cascades it.
type Executor struct {
	store    store.Store
	registry *workflow.Registry
	mw       middleware.Middleware
	logger   *slog.Logger
}

// NewExecutor creates an Executor. The middleware are applied
// outermost-first around every workflow invocation.
func NewExecutor(st store.Store, registry *workflow.Registry, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:    st,
		registry: registry,
		mw:       middleware.Chain(mws...),
		logger:   logger.With("component", "executor"),
	}
}

// Execute runs the workflow behind a freshly claimed entry. md is the
// execution record created at claim time. The returned error reports
// infrastructure problems only; a workflow failure is recorded on the
// execution record and returns nil.
func (e *Executor) Execute(ctx context.Context, md *metadata.Metadata) error {
	// Re-read the record before touching it: a recovery sweep or
	// another process may have driven it since the claim, and a record
	// that is not Pending must never be overwritten.
	stored, err := e.store.GetMetadata(ctx, md.ID)
	if err != nil {
		return fmt.Errorf("load execution record: %w", err)
	}
	if stored.State != metadata.StatePending {
		return fmt.Errorf("%w: execution %s is %s, want %s",
			manifold.ErrInvalidState, md.ID, stored.State, metadata.StatePending)
	}

	// Resolve the handler and, for manifest-linked work, the manifest
	// whose timeout bounds this run.
	handler, err := e.registry.Get(md.Name)
	if err != nil {
		return e.fail(ctx, md, "load", err)
	}

	var timeout time.Duration
	if !md.ManifestID.IsNil() {
		m, mErr := e.store.GetManifest(ctx, md.ManifestID)
		if mErr == nil {
			timeout = m.Timeout
		} else if !errors.Is(mErr, manifold.ErrManifestNotFound) {
			return e.fail(ctx, md, "load", mErr)
		}
		// A deleted manifest detaches the record; the run proceeds.
	}

	md.State = metadata.StateInProgress
	md.StartTime = time.Now().UTC()
	if err := e.store.UpdateMetadata(ctx, md); err != nil {
		return fmt.Errorf("mark in progress: %w", err)
	}

	chain := middleware.Chain(e.mw, middleware.Timeout(timeout))
	output, runErr := chain(ctx, md, func(ctx context.Context) ([]byte, error) {
		return handler(ctx, md.Input)
	})

	end := time.Now().UTC()
	md.EndTime = &end
	md.ClaimExpiresAt = nil

	// Terminal writes go out on a detached context: at shutdown the run
	// context is already cancelled, and the Cancelled state must still
	// reach the store.
	persistCtx := context.WithoutCancel(ctx)

	if runErr == nil {
		md.State = metadata.StateCompleted
		md.Output = output
		var lastSuccess *time.Time
		if !md.ManifestID.IsNil() {
			lastSuccess = &end
		}
		if err := e.store.FinishExecution(persistCtx, md, lastSuccess); err != nil {
			return fmt.Errorf("persist success: %w", err)
		}
		return nil
	}

	// Shutdown and operator cancellation surface as context.Canceled;
	// a Cancelled record never counts toward the failure budget.
	if errors.Is(runErr, context.Canceled) {
		md.State = metadata.StateCancelled
		md.FailureReason = runErr.Error()
	} else {
		md.State = metadata.StateFailed
		md.FailureStep = "execute"
		md.FailureException = fmt.Sprintf("%T", runErr)
		md.FailureReason = runErr.Error()
	}
	if err := e.store.FinishExecution(persistCtx, md, nil); err != nil {
		return fmt.Errorf("persist failure: %w", err)
	}
	return nil
}

// fail records a pre-execution failure (handler missing, load error)
// on the execution record.
func (e *Executor) fail(ctx context.Context, md *metadata.Metadata, step string, cause error) error {
	now := time.Now().UTC()
	md.State = metadata.StateFailed
	md.StartTime = now
	md.EndTime = &now
	md.ClaimExpiresAt = nil
	md.FailureStep = step
	md.FailureException = fmt.Sprintf("%T", cause)
	md.FailureReason = cause.Error()

	if err := e.store.FinishExecution(context.WithoutCancel(ctx), md, nil); err != nil {
		return fmt.Errorf("persist %s failure: %w", step, err)
	}
	e.logger.Error("execution failed before running",
		slog.String("workflow", md.Name),
		slog.String("step", step),
		slog.String("error", cause.Error()))
	return nil
}

// groupOf resolves the group a work entry dispatches under, or nil for
// detached entries.
func groupOf(ctx context.Context, st store.Store, entry *work.Entry) (*manifest.Group, error) {
	if entry.ManifestID.IsNil() {
		return nil, nil
	}
	m, err := st.GetManifest(ctx, entry.ManifestID)
	if err != nil {
		return nil, err
	}
	g, err := st.GetGroup(ctx, m.GroupID)
	if err != nil {
		return nil, err
	}
	return g, nil
}
