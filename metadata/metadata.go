package metadata

import (
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
)

// State is the workflow execution state.
type State string

const (
	// StatePending means the execution record exists but the workflow
	// has not started running.
	StatePending State = "pending"
	// StateInProgress means the workflow is running.
	StateInProgress State = "in_progress"
	// StateCompleted is the successful terminal state.
	StateCompleted State = "completed"
	// StateFailed is the unsuccessful terminal state.
	StateFailed State = "failed"
	// StateCancelled marks executions interrupted by shutdown or an
	// operator. Cancelled attempts never count toward failure budgets.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Active reports whether the state occupies a concurrency slot.
func (s State) Active() bool {
	return s == StatePending || s == StateInProgress
}

// Metadata is a single workflow execution record.
type Metadata struct {
	manifold.Entity

	ID id.MetadataID `json:"id"`

	// Name is the workflow name snapshotted at claim time.
	Name string `json:"name"`

	State State `json:"state"`

	// ManifestID links the execution to its scheduling manifest. Nil
	// for ad-hoc operator triggers.
	ManifestID id.ManifestID `json:"manifest_id,omitempty"`

	// ParentID links a child execution spawned mid-workflow to the
	// execution that spawned it.
	ParentID id.MetadataID `json:"parent_id,omitempty"`

	Input  []byte `json:"input,omitempty"`
	Output []byte `json:"output,omitempty"`

	StartTime time.Time  `json:"start_time,omitzero"`
	EndTime   *time.Time `json:"end_time,omitempty"`

	// Failure detail, set only when State is Failed.
	FailureStep      string `json:"failure_step,omitempty"`
	FailureException string `json:"failure_exception,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
	StackTrace       string `json:"stack_trace,omitempty"`

	// ClaimedBy identifies the dispatcher process holding the claim.
	ClaimedBy id.WorkerID `json:"claimed_by,omitempty"`
	// ClaimExpiresAt is the visibility deadline; an active execution
	// past it is presumed orphaned and eligible for recovery.
	ClaimExpiresAt *time.Time `json:"claim_expires_at,omitempty"`
}

// Duration returns the wall time of a finished execution, or zero.
func (m *Metadata) Duration() time.Duration {
	if m.EndTime == nil || m.StartTime.IsZero() {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}
