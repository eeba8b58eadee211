package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/deadletter"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/manager"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/work"
)

// Operator surface: manual triggers, enable/disable switches, dead
// letter resolution, and history queries. These run against the store
// directly and never wait for a manager cycle.

// Trigger queues the manifest named by externalID immediately,
// regardless of its schedule. It is the only way to run a
// manual-trigger (ScheduleNone) manifest. input, when non-nil,
// replaces the manifest's stored input for this run only. Returns
// manifold.ErrAlreadyQueued when an undispatched entry already exists.
func (eng *Engine) Trigger(ctx context.Context, externalID string, input any) (*work.Entry, error) {
	m, err := eng.store.GetManifestByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	payload := m.Input
	inputType := m.InputType
	if input != nil {
		payload, err = json.Marshal(input)
		if err != nil {
			return nil, fmt.Errorf("marshal trigger input for %s: %w", externalID, err)
		}
		inputType = fmt.Sprintf("%T", input)
	}

	priority := 0
	if g, err := eng.store.GetGroup(ctx, m.GroupID); err == nil {
		priority = g.Priority
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
	if err := eng.store.EnqueueWork(ctx, entry); err != nil {
		return nil, err
	}

	eng.logger.Info("manifest triggered",
		slog.String("manifest", externalID),
		slog.String("work_id", entry.ID.String()))
	return entry, nil
}

// TriggerWorkflow queues a one-off run of a registered workflow with no
// backing manifest. The execution is detached: it bypasses the
// at-most-one-queued rule, per-group caps, and the failure budget, and
// never advances any schedule.
func (eng *Engine) TriggerWorkflow(ctx context.Context, name string, input any) (*work.Entry, error) {
	if !eng.registry.Has(name) {
		return nil, fmt.Errorf("%w: %q", manifold.ErrWorkflowNotRegistered, name)
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}

	entry := &work.Entry{
		Entity:       manifold.NewEntity(),
		ID:           id.NewWorkID(),
		WorkflowName: name,
		Input:        payload,
		InputType:    fmt.Sprintf("%T", input),
		Status:       work.StatusQueued,
	}
	if err := eng.store.EnqueueWork(ctx, entry); err != nil {
		return nil, err
	}

	eng.logger.Info("workflow triggered",
		slog.String("workflow", name),
		slog.String("work_id", entry.ID.String()))
	return entry, nil
}

// Activate wakes the dormant-dependent manifest named by externalID on
// behalf of the running parent execution. A child already queued or
// executing is skipped, returning a nil entry. See manager.Activator.
func (eng *Engine) Activate(ctx context.Context, parent *metadata.Metadata, externalID string, input any) (*work.Entry, error) {
	return eng.activator.Activate(ctx, parent, externalID, input)
}

// ActivateMany wakes a batch of dormant dependents for the same parent,
// isolating failures per activation. See manager.Activator.
func (eng *Engine) ActivateMany(ctx context.Context, parent *metadata.Metadata, activations []manager.Activation) ([]*work.Entry, error) {
	return eng.activator.ActivateMany(ctx, parent, activations)
}

// EnableManifest resumes automatic scheduling for the manifest.
func (eng *Engine) EnableManifest(ctx context.Context, externalID string) error {
	return eng.setManifestEnabled(ctx, externalID, true)
}

// DisableManifest pauses automatic scheduling for the manifest.
// Already-queued and in-flight work is unaffected.
func (eng *Engine) DisableManifest(ctx context.Context, externalID string) error {
	return eng.setManifestEnabled(ctx, externalID, false)
}

func (eng *Engine) setManifestEnabled(ctx context.Context, externalID string, enabled bool) error {
	m, err := eng.store.GetManifestByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if err := eng.store.SetManifestEnabled(ctx, m.ID, enabled); err != nil {
		return err
	}
	eng.logger.Info("manifest enabled flag set",
		slog.String("manifest", externalID),
		slog.Bool("enabled", enabled))
	return nil
}

// EnableGroup resumes scheduling and dispatch for the whole group.
func (eng *Engine) EnableGroup(ctx context.Context, name string) error {
	return eng.setGroupEnabled(ctx, name, true)
}

// DisableGroup pauses the whole group: its manifests are not evaluated
// and its already-queued entries are not claimed. In-flight executions
// run to completion.
func (eng *Engine) DisableGroup(ctx context.Context, name string) error {
	return eng.setGroupEnabled(ctx, name, false)
}

func (eng *Engine) setGroupEnabled(ctx context.Context, name string, enabled bool) error {
	g, err := eng.store.GetGroupByName(ctx, name)
	if err != nil {
		return err
	}
	if err := eng.store.SetGroupEnabled(ctx, g.ID, enabled); err != nil {
		return err
	}
	eng.logger.Info("group enabled flag set",
		slog.String("group", name),
		slog.Bool("enabled", enabled))
	return nil
}

// RetryDeadLetter requeues the manifest behind a dead letter and marks
// the letter Retried.
func (eng *Engine) RetryDeadLetter(ctx context.Context, deadLetterID id.DeadLetterID, note string) (*work.Entry, error) {
	return eng.letters.Retry(ctx, deadLetterID, note)
}

// AcknowledgeDeadLetter closes a dead letter without requeueing.
func (eng *Engine) AcknowledgeDeadLetter(ctx context.Context, deadLetterID id.DeadLetterID, note string) error {
	return eng.letters.Acknowledge(ctx, deadLetterID, note)
}

// History returns execution records matching opts, newest first.
func (eng *Engine) History(ctx context.Context, opts metadata.ListOpts) ([]*metadata.Metadata, error) {
	return eng.store.ListMetadata(ctx, opts)
}

// ListDeadLetters returns dead letters matching opts, newest first.
func (eng *Engine) ListDeadLetters(ctx context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	return eng.store.ListDeadLetters(ctx, opts)
}
