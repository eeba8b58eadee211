package metadata

import (
	"context"
	"time"

	"github.com/Theauxm/manifold/id"
)

// ListOpts filters and pages execution history queries.
// Zero-value fields are ignored.
type ListOpts struct {
	Name       string
	State      State
	ManifestID id.ManifestID
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// ActiveCounts is the concurrency snapshot the dispatcher gates on.
type ActiveCounts struct {
	// Global is the total number of Pending and InProgress executions.
	Global int
	// PerGroup maps group ID to its active count. Executions without a
	// manifest count globally but under no group.
	PerGroup map[id.GroupID]int
}

// Store defines the persistence contract for execution records.
type Store interface {
	// CreateMetadata inserts a new execution record.
	CreateMetadata(ctx context.Context, m *Metadata) error

	// GetMetadata retrieves an execution by ID.
	GetMetadata(ctx context.Context, metadataID id.MetadataID) (*Metadata, error)

	// UpdateMetadata persists mutable fields (state, output, failure
	// detail, claim fields, end time).
	UpdateMetadata(ctx context.Context, m *Metadata) error

	// ListMetadata returns executions matching opts, newest first.
	ListMetadata(ctx context.Context, opts ListOpts) ([]*Metadata, error)

	// CountActive returns the concurrency snapshot at now.
	CountActive(ctx context.Context) (*ActiveCounts, error)

	// FinishExecution writes the terminal transition in one shot: the
	// metadata row is updated and, when lastSuccessfulRun is non-nil,
	// the owning manifest's LastSuccessfulRun is advanced to it in the
	// same operation. A crash can therefore never record a success
	// without advancing the schedule, or vice versa.
	FinishExecution(ctx context.Context, m *Metadata, lastSuccessfulRun *time.Time) error

	// ListExpiredClaims returns active executions whose visibility
	// deadline passed before now. The recovery sweep fails these.
	ListExpiredClaims(ctx context.Context, now time.Time) ([]*Metadata, error)

	// DeleteTerminalBefore removes terminal executions whose start
	// time predates cutoff. When names is non-empty only those
	// workflows are touched. Work queue entries referencing deleted
	// rows go with them.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, names []string) (int64, error)
}
