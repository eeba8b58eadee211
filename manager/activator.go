package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/manifest"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/store"
	"github.com/Theauxm/manifold/work"
)

// Activator wakes dormant-dependent manifests. A dormant dependent is
// never queued by due evaluation; a running parent workflow activates
// it explicitly, usually to hand it input computed mid-run.
type Activator struct {
	store  store.Store
	boost  int
	logger *slog.Logger
}

// NewActivator creates an Activator. boost matches the manager's
// dependent priority bump.
func NewActivator(st store.Store, boost int, logger *slog.Logger) *Activator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Activator{
		store:  st,
		boost:  boost,
		logger: logger.With("component", "activator"),
	}
}

// Activation names one dormant dependent to wake, with an optional
// input override.
type Activation struct {
	ExternalID string
	Input      any
}

// Activate enqueues work for the dormant-dependent manifest named by
// externalID on behalf of parent, the execution record of the
// currently running parent workflow. The manifest must be a dormant
// dependent and must declare parent's manifest as its dependency.
// input, when non-nil, replaces the manifest's stored input for this
// activation only. A child that is already queued or executing is
// skipped with a warning, returning a nil entry and no error.
func (a *Activator) Activate(ctx context.Context, parent *metadata.Metadata, externalID string, input any) (*work.Entry, error) {
	m, err := a.store.GetManifestByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if m.Schedule != manifest.ScheduleDormantDependent {
		return nil, fmt.Errorf("%w: %s is %s", manifold.ErrNotDormantDependent, externalID, m.Schedule)
	}
	if parent == nil || parent.ManifestID.IsNil() || m.DependsOn.String() != parent.ManifestID.String() {
		return nil, fmt.Errorf("%w: %s", manifold.ErrNotChildOfParent, externalID)
	}

	// Same guards as the automatic evaluation pass: a queued entry or
	// an active execution means the child is already on its way, and
	// queueing again would run it twice.
	queued, err := a.store.HasQueuedWork(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	active, err := a.hasActiveExecution(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if queued || active {
		a.logger.Warn("activation skipped, child already queued or running",
			slog.String("manifest", externalID),
			slog.Bool("queued", queued),
			slog.Bool("active", active))
		return nil, nil
	}

	payload := m.Input
	inputType := m.InputType
	if input != nil {
		payload, err = json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("marshal activation input for %s: %w", externalID, err)
		}
		inputType = fmt.Sprintf("%T", input)
	}

	priority := a.boost
	if g, err := a.store.GetGroup(ctx, m.GroupID); err == nil {
		priority = g.Priority + a.boost
	}

	entry := &work.Entry{
		Entity:       manifold.NewEntity(),
		ID:           id.NewWorkID(),
		ManifestID:   m.ID,
		WorkflowName: m.WorkflowName,
		Input:        payload,
		InputType:    inputType,
		Status:       work.StatusQueued,
		Priority:     priority,
	}
	if err := a.store.EnqueueWork(ctx, entry); err != nil {
		// Lost a race to another activation or the manager cycle.
		if errors.Is(err, manifold.ErrAlreadyQueued) {
			a.logger.Warn("activation skipped, child queued concurrently",
				slog.String("manifest", externalID))
			return nil, nil
		}
		return nil, fmt.Errorf("activate %s: %w", externalID, err)
	}

	a.logger.Info("dormant dependent activated",
		slog.String("manifest", externalID),
		slog.String("parent_metadata_id", parent.ID.String()),
		slog.String("work_id", entry.ID.String()))
	return entry, nil
}

// ActivateMany activates a batch of dormant dependents for the same
// parent. Failures are isolated per activation: the rest of the batch
// still runs, and the returned error joins every failure.
func (a *Activator) ActivateMany(ctx context.Context, parent *metadata.Metadata, activations []Activation) ([]*work.Entry, error) {
	var entries []*work.Entry
	var errs []error
	for _, act := range activations {
		entry, err := a.Activate(ctx, parent, act.ExternalID, act.Input)
		if err != nil {
			a.logger.Error("activation failed",
				slog.String("manifest", act.ExternalID),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", act.ExternalID, err))
			continue
		}
		if entry != nil {
			entries = append(entries, entry)
		}
	}
	return entries, errors.Join(errs...)
}

func (a *Activator) hasActiveExecution(ctx context.Context, manifestID id.ManifestID) (bool, error) {
	for _, state := range []metadata.State{metadata.StatePending, metadata.StateInProgress} {
		records, err := a.store.ListMetadata(ctx, metadata.ListOpts{ManifestID: manifestID, State: state, Limit: 1})
		if err != nil {
			return false, err
		}
		if len(records) > 0 {
			return true, nil
		}
	}
	return false, nil
}
