package deadletter

import (
	"context"

	"github.com/Theauxm/manifold/id"
)

// ListOpts filters dead letter queries. Zero-value fields are ignored.
type ListOpts struct {
	Status     Status
	ManifestID id.ManifestID
	Limit      int
	Offset     int
}

// Store defines the persistence contract for dead letters.
type Store interface {
	// PushDeadLetter inserts a new letter.
	PushDeadLetter(ctx context.Context, e *Entry) error

	// GetDeadLetter retrieves a letter by ID.
	GetDeadLetter(ctx context.Context, deadLetterID id.DeadLetterID) (*Entry, error)

	// UpdateDeadLetter persists status and resolution fields.
	UpdateDeadLetter(ctx context.Context, e *Entry) error

	// ListDeadLetters returns letters matching opts, newest first.
	ListDeadLetters(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// HasAwaiting reports whether the manifest has an unresolved letter.
	HasAwaiting(ctx context.Context, manifestID id.ManifestID) (bool, error)

	// CountDeadLetters returns the number of letters per status.
	CountDeadLetters(ctx context.Context) (map[Status]int64, error)
}
