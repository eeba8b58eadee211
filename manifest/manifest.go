package manifest

import (
	"fmt"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
)

// ScheduleType determines how a manifest becomes due.
type ScheduleType string

const (
	// ScheduleCron fires on a standard 5-field cron expression
	// (minute resolution; @every/@daily descriptors also accepted).
	ScheduleCron ScheduleType = "cron"
	// ScheduleInterval fires when the configured duration has elapsed
	// since the last successful run (or creation, if never run).
	ScheduleInterval ScheduleType = "interval"
	// ScheduleDependent fires when the parent manifest's last successful
	// run advances past this manifest's own.
	ScheduleDependent ScheduleType = "dependent"
	// ScheduleDormantDependent never fires automatically; the parent
	// workflow must activate it explicitly at runtime.
	ScheduleDormantDependent ScheduleType = "dormant_dependent"
	// ScheduleNone is manual-trigger only.
	ScheduleNone ScheduleType = "none"
)

// Manifest is a persisted job definition.
type Manifest struct {
	manifold.Entity

	ID           id.ManifestID `json:"id"`
	ExternalID   string        `json:"external_id"`
	WorkflowName string        `json:"workflow_name"`
	Input        []byte        `json:"input,omitempty"`
	InputType    string        `json:"input_type,omitempty"`
	Schedule     ScheduleType  `json:"schedule"`
	// CronExpression is set iff Schedule is ScheduleCron.
	CronExpression string `json:"cron_expression,omitempty"`
	// Interval is set iff Schedule is ScheduleInterval.
	Interval time.Duration `json:"interval,omitempty"`
	// DependsOn is set iff Schedule is ScheduleDependent or
	// ScheduleDormantDependent.
	DependsOn         id.ManifestID `json:"depends_on,omitempty"`
	GroupID           id.GroupID    `json:"group_id"`
	Enabled           bool          `json:"enabled"`
	MaxRetries        int           `json:"max_retries"`
	Timeout           time.Duration `json:"timeout,omitempty"`
	LastSuccessfulRun *time.Time    `json:"last_successful_run,omitempty"`
}

// IsDependent reports whether the manifest's schedule requires a parent.
func (m *Manifest) IsDependent() bool {
	return m.Schedule == ScheduleDependent || m.Schedule == ScheduleDormantDependent
}

// Validate checks the schedule-shape invariants: exactly one of
// {CronExpression, Interval} for time-based schedules, neither otherwise,
// and DependsOn set iff the schedule is dependent.
func (m *Manifest) Validate() error {
	switch m.Schedule {
	case ScheduleCron:
		if m.CronExpression == "" {
			return fmt.Errorf("manifest %q: cron schedule requires an expression", m.ExternalID)
		}
		if m.Interval != 0 {
			return fmt.Errorf("manifest %q: cron schedule must not set an interval", m.ExternalID)
		}
	case ScheduleInterval:
		if m.Interval <= 0 {
			return fmt.Errorf("manifest %q: interval schedule requires a positive interval", m.ExternalID)
		}
		if m.CronExpression != "" {
			return fmt.Errorf("manifest %q: interval schedule must not set a cron expression", m.ExternalID)
		}
	case ScheduleDependent, ScheduleDormantDependent, ScheduleNone:
		if m.CronExpression != "" || m.Interval != 0 {
			return fmt.Errorf("manifest %q: %s schedule must not set cron or interval", m.ExternalID, m.Schedule)
		}
	default:
		return fmt.Errorf("manifest %q: unknown schedule type %q", m.ExternalID, m.Schedule)
	}

	if m.IsDependent() && m.DependsOn.IsNil() {
		return fmt.Errorf("manifest %q: %s schedule requires a parent manifest", m.ExternalID, m.Schedule)
	}
	if !m.IsDependent() && !m.DependsOn.IsNil() {
		return fmt.Errorf("manifest %q: %s schedule must not set a parent manifest", m.ExternalID, m.Schedule)
	}
	return nil
}
