package work

import (
	"context"
	"time"

	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/metadata"
)

// Store defines the persistence contract for the work queue.
type Store interface {
	// EnqueueWork inserts a Queued entry. At most one Queued entry may
	// exist per manifest; a second enqueue for the same manifest returns
	// manifold.ErrAlreadyQueued. Entries without a manifest are never
	// deduplicated.
	EnqueueWork(ctx context.Context, e *Entry) error

	// GetWork retrieves an entry by ID.
	GetWork(ctx context.Context, workID id.WorkID) (*Entry, error)

	// ListClaimable returns up to limit Queued entries available at now,
	// ordered by priority descending, then CreatedAt ascending, then ID.
	ListClaimable(ctx context.Context, now time.Time, limit int) ([]*Entry, error)

	// DispatchWork atomically claims a Queued entry: it creates the
	// execution record, marks the entry Dispatched, and links the two.
	// Returns false without error when another process already claimed
	// the entry; the caller moves on to the next candidate.
	DispatchWork(ctx context.Context, workID id.WorkID, md *metadata.Metadata) (bool, error)

	// DeleteWork removes an entry: operator cancellation of queued
	// work. Dispatched entries are otherwise removed only by the
	// metadata cleanup cascade.
	DeleteWork(ctx context.Context, workID id.WorkID) error

	// HasQueuedWork reports whether the manifest has a Queued entry.
	HasQueuedWork(ctx context.Context, manifestID id.ManifestID) (bool, error)

	// CountWork returns the number of entries per status.
	CountWork(ctx context.Context) (map[Status]int64, error)
}
