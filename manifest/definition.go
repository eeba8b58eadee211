package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Definition is a typed manifest definition used for startup seeding and
// runtime scheduling calls. T is the workflow input type (JSON-serializable).
// The zero Group means "a group named after ExternalID".
type Definition[T any] struct {
	// ExternalID is the stable upsert key.
	ExternalID string

	// WorkflowName is the registered workflow to execute.
	WorkflowName string

	// Schedule selects the due-evaluation mode.
	Schedule ScheduleType

	// CronExpression applies when Schedule is ScheduleCron.
	CronExpression string

	// Interval applies when Schedule is ScheduleInterval.
	Interval time.Duration

	// DependsOn is the parent manifest's ExternalID for dependent and
	// dormant-dependent schedules.
	DependsOn string

	// Group names the containing group. Empty defaults to ExternalID.
	Group string

	// GroupPriority is applied when the group is created (0–31).
	GroupPriority int

	// GroupMaxActive caps the group's concurrent executions when the
	// group is created. Zero means no cap.
	GroupMaxActive int

	// MaxRetries is the failure budget before dead-lettering.
	MaxRetries int

	// Timeout bounds a single execution. Zero means no deadline.
	Timeout time.Duration

	// Input is the default workflow input.
	Input T
}

// GroupName returns the effective group name.
func (d *Definition[T]) GroupName() string {
	if d.Group != "" {
		return d.Group
	}
	return d.ExternalID
}

// Build converts the definition into a Manifest ready for upsert.
// The parent ExternalID is resolved against the store by the caller;
// Build only validates shape and serializes the input.
func (d *Definition[T]) Build(_ context.Context) (*Manifest, error) {
	if d.Schedule == ScheduleCron {
		if _, err := ParseCron(d.CronExpression); err != nil {
			return nil, fmt.Errorf("manifest %q: invalid cron expression %q: %w", d.ExternalID, d.CronExpression, err)
		}
	}
	if d.GroupPriority < 0 || d.GroupPriority > MaxGroupPriority {
		return nil, fmt.Errorf("manifest %q: group priority %d out of range [0, %d]", d.ExternalID, d.GroupPriority, MaxGroupPriority)
	}

	input, err := json.Marshal(d.Input)
	if err != nil {
		return nil, fmt.Errorf("manifest %q: marshal input: %w", d.ExternalID, err)
	}

	m := &Manifest{
		ExternalID:     d.ExternalID,
		WorkflowName:   d.WorkflowName,
		Input:          input,
		InputType:      fmt.Sprintf("%T", d.Input),
		Schedule:       d.Schedule,
		CronExpression: d.CronExpression,
		Interval:       d.Interval,
		Enabled:        true,
		MaxRetries:     d.MaxRetries,
		Timeout:        d.Timeout,
	}
	return m, nil
}
