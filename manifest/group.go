package manifest

import (
	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
)

// MaxGroupPriority is the upper bound for group priorities.
const MaxGroupPriority = 31

// Group is a named bucket of manifests sharing dispatch controls.
// Every manifest belongs to exactly one group; manifests scheduled
// without an explicit group land in a group named after their own
// external ID.
type Group struct {
	manifold.Entity

	ID   id.GroupID `json:"id"`
	Name string     `json:"name"`
	// MaxActiveJobs caps concurrent executions for this group.
	// Zero means no group-specific cap.
	MaxActiveJobs int `json:"max_active_jobs,omitempty"`
	// Priority determines dispatch ordering (0–31, higher first).
	Priority int  `json:"priority"`
	Enabled  bool `json:"enabled"`
}
