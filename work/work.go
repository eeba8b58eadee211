package work

import (
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	// StatusQueued means the entry is waiting to be claimed.
	StatusQueued Status = "queued"
	// StatusDispatched means a dispatcher claimed the entry and an
	// execution record exists for it.
	StatusDispatched Status = "dispatched"
)

// Entry is a single dispatchable unit of work. Entries carry a snapshot
// of the workflow name and input taken at enqueue time, so a later edit
// to the manifest never changes work already in flight.
type Entry struct {
	manifold.Entity

	ID id.WorkID `json:"id"`

	// ManifestID links back to the scheduling manifest. Nil for
	// ad-hoc entries enqueued by an operator trigger without one.
	ManifestID id.ManifestID `json:"manifest_id,omitempty"`

	WorkflowName string `json:"workflow_name"`
	Input        []byte `json:"input,omitempty"`
	InputType    string `json:"input_type,omitempty"`

	Status Status `json:"status"`

	// Priority orders claims: higher first, ties broken by CreatedAt
	// then ID. Copied from the group at enqueue time, plus the
	// dependent boost when applicable.
	Priority int `json:"priority"`

	// AvailableAt delays claiming; the zero value means immediately.
	// Requeues after a failure carry a backoff here.
	AvailableAt time.Time `json:"available_at,omitzero"`

	// MetadataID is set when the entry is dispatched and points at the
	// execution record created in the same transaction.
	MetadataID id.MetadataID `json:"metadata_id,omitempty"`
}

// Available reports whether the entry may be claimed at now.
func (e *Entry) Available(now time.Time) bool {
	return e.AvailableAt.IsZero() || !e.AvailableAt.After(now)
}
