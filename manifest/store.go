package manifest

import (
	"context"
	"time"

	"github.com/Theauxm/manifold/id"
)

// Projection is the lightweight view of a manifest the manager evaluates.
// The aggregate flags are computed database-side (COUNT/EXISTS subqueries)
// so cycle cost stays independent of execution-history size.
type Projection struct {
	Manifest

	GroupName     string `json:"group_name"`
	GroupEnabled  bool   `json:"group_enabled"`
	GroupPriority int    `json:"group_priority"`

	// FailureCount is the number of Failed executions since the most
	// recent Completed one. Cancelled executions never count.
	FailureCount int `json:"failure_count"`
	// HasAwaitingDeadLetter reports an unresolved dead letter.
	HasAwaitingDeadLetter bool `json:"has_awaiting_dead_letter"`
	// HasQueuedWork reports an undispatched work queue entry.
	HasQueuedWork bool `json:"has_queued_work"`
	// HasActiveExecution reports a Pending or InProgress execution.
	HasActiveExecution bool `json:"has_active_execution"`
	// LastFailureAt is the end time of the most recent Failed execution.
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	// LastDeadLetteredAt is when the most recent dead letter (any status)
	// was created. The reaper only creates a new dead letter when a
	// failure postdates it, so an acknowledged letter is not re-raised
	// until the manifest fails again.
	LastDeadLetteredAt *time.Time `json:"last_dead_lettered_at,omitempty"`
}

// Store defines the persistence contract for manifests and groups.
type Store interface {
	// UpsertManifest creates or updates a manifest keyed by ExternalID.
	// On update the stored ID, Enabled flag, and LastSuccessfulRun are
	// preserved, so an operator disable outlives a redeploy.
	UpsertManifest(ctx context.Context, m *Manifest) error

	// GetManifest retrieves a manifest by ID.
	GetManifest(ctx context.Context, manifestID id.ManifestID) (*Manifest, error)

	// GetManifestByExternalID retrieves a manifest by its stable key.
	GetManifestByExternalID(ctx context.Context, externalID string) (*Manifest, error)

	// ListManifests returns all manifests.
	ListManifests(ctx context.Context) ([]*Manifest, error)

	// DeleteManifest removes a manifest. Manifests depending on it get
	// their DependsOn cleared (never cascaded).
	DeleteManifest(ctx context.Context, manifestID id.ManifestID) error

	// DeleteManifestsNotIn removes every manifest whose ExternalID is not
	// in keep, returning the number deleted. Used by startup seeding to
	// drop orphans.
	DeleteManifestsNotIn(ctx context.Context, keep []string) (int64, error)

	// SetManifestEnabled flips the manifest enable flag.
	SetManifestEnabled(ctx context.Context, manifestID id.ManifestID, enabled bool) error

	// ListProjections returns projections for all enabled manifests,
	// including disabled-group members (the manager applies the group
	// guard itself so it can log the skip).
	ListProjections(ctx context.Context) ([]*Projection, error)

	// UpsertGroup creates or updates a group keyed by Name.
	UpsertGroup(ctx context.Context, g *Group) error

	// GetGroup retrieves a group by ID.
	GetGroup(ctx context.Context, groupID id.GroupID) (*Group, error)

	// GetGroupByName retrieves a group by its unique name.
	GetGroupByName(ctx context.Context, name string) (*Group, error)

	// ListGroups returns all groups.
	ListGroups(ctx context.Context) ([]*Group, error)

	// SetGroupEnabled flips the group enable flag.
	SetGroupEnabled(ctx context.Context, groupID id.GroupID, enabled bool) error

	// DeleteOrphanGroups removes groups with zero remaining manifests,
	// returning the number deleted. Run during startup cleanup.
	DeleteOrphanGroups(ctx context.Context) (int64, error)

	// AdvanceLastSuccessfulRun sets the manifest's last successful run.
	// Dependent-manifest evaluation reads this signal.
	AdvanceLastSuccessfulRun(ctx context.Context, manifestID id.ManifestID, at time.Time) error
}
