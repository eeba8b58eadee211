package deadletter

import (
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
)

// Status is the resolution state of a dead letter.
type Status string

const (
	// StatusAwaitingIntervention means no operator has acted yet. At
	// most one letter per manifest may hold this status.
	StatusAwaitingIntervention Status = "awaiting_intervention"
	// StatusRetried means an operator requeued the manifest.
	StatusRetried Status = "retried"
	// StatusAcknowledged means an operator closed the letter without
	// requeueing; the manifest stays parked until retried.
	StatusAcknowledged Status = "acknowledged"
)

// Resolved reports whether an operator has acted on the letter.
func (s Status) Resolved() bool {
	return s == StatusRetried || s == StatusAcknowledged
}

// Entry is one dead-lettering event for a manifest.
type Entry struct {
	manifold.Entity

	ID         id.DeadLetterID `json:"id"`
	ManifestID id.ManifestID   `json:"manifest_id"`

	Status Status `json:"status"`

	// Reason summarizes why the manifest was parked, including the
	// failure count that tripped the budget.
	Reason string `json:"reason"`

	// FailureCount is the consecutive-failure tally at parking time.
	FailureCount int `json:"failure_count"`

	// ResolvedAt and ResolutionNote are set when an operator acts.
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolutionNote string     `json:"resolution_note,omitempty"`
}
