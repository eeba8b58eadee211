package deadletter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/manifest"
	"github.com/Theauxm/manifold/work"
)

// Service implements operator resolution of dead letters. Resolution
// runs outside the manager cycle: it is an interactive path and does
// not need the leader lock.
type Service struct {
	letters   Store
	manifests manifest.Store
	queue     work.Store
	boost     int
	logger    *slog.Logger
}

// NewService creates a dead letter resolution service. boost is the
// priority bump applied when retrying dependent manifests, matching
// the one the manager applies at enqueue time.
func NewService(letters Store, manifests manifest.Store, queue work.Store, boost int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		letters:   letters,
		manifests: manifests,
		queue:     queue,
		boost:     boost,
		logger:    logger.With("component", "deadletter"),
	}
}

// Retry requeues the manifest behind an unresolved letter and marks
// the letter Retried. The new entry carries the manifest's current
// input snapshot; overriding input is an Enqueue call, not a retry.
func (s *Service) Retry(ctx context.Context, deadLetterID id.DeadLetterID, note string) (*work.Entry, error) {
	letter, err := s.letters.GetDeadLetter(ctx, deadLetterID)
	if err != nil {
		return nil, err
	}
	if letter.Status.Resolved() {
		return nil, fmt.Errorf("%w: %s is %s", manifold.ErrDeadLetterResolved, letter.ID, letter.Status)
	}

	m, err := s.manifests.GetManifest(ctx, letter.ManifestID)
	if err != nil {
		return nil, fmt.Errorf("load manifest for dead letter %s: %w", letter.ID, err)
	}

	priority := 0
	if g, err := s.manifests.GetGroup(ctx, m.GroupID); err == nil {
		priority = g.Priority
	}
	if m.IsDependent() {
		priority += s.boost
	}

	entry := &work.Entry{
		Entity:       manifold.NewEntity(),
		ID:           id.NewWorkID(),
		ManifestID:   m.ID,
		WorkflowName: m.WorkflowName,
		Input:        m.Input,
		InputType:    m.InputType,
		Status:       work.StatusQueued,
		Priority:     priority,
	}
	if err := s.queue.EnqueueWork(ctx, entry); err != nil {
		return nil, fmt.Errorf("requeue manifest %s: %w", m.ExternalID, err)
	}

	now := time.Now()
	letter.Status = StatusRetried
	letter.ResolvedAt = &now
	letter.ResolutionNote = note
	if err := s.letters.UpdateDeadLetter(ctx, letter); err != nil {
		return nil, err
	}

	s.logger.Info("dead letter retried",
		"dead_letter_id", letter.ID,
		"manifest", m.ExternalID,
		"work_id", entry.ID)
	return entry, nil
}

// Acknowledge closes an unresolved letter without requeueing. The
// manifest's failure streak is untouched, so it stays out of automatic
// queueing until an operator retries it.
func (s *Service) Acknowledge(ctx context.Context, deadLetterID id.DeadLetterID, note string) error {
	letter, err := s.letters.GetDeadLetter(ctx, deadLetterID)
	if err != nil {
		return err
	}
	if letter.Status.Resolved() {
		return fmt.Errorf("%w: %s is %s", manifold.ErrDeadLetterResolved, letter.ID, letter.Status)
	}

	now := time.Now()
	letter.Status = StatusAcknowledged
	letter.ResolvedAt = &now
	letter.ResolutionNote = note
	if err := s.letters.UpdateDeadLetter(ctx, letter); err != nil {
		return err
	}

	s.logger.Info("dead letter acknowledged",
		"dead_letter_id", letter.ID,
		"manifest_id", letter.ManifestID)
	return nil
}
