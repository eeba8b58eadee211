package manifold

import "time"

// Config holds configuration for the Coordinator and its polling loops.
type Config struct {
	// ManagerInterval is how often the manifest manager evaluates schedules.
	ManagerInterval time.Duration

	// DispatcherInterval is how often the dispatcher polls the work queue.
	// Independent of ManagerInterval: the two loops communicate only through
	// the work queue, so a freshly queued entry may wait one extra tick.
	DispatcherInterval time.Duration

	// DispatchBatchSize is the maximum number of queued entries considered
	// per dispatcher tick.
	DispatchBatchSize int

	// MaxActiveJobs caps the number of executions in Pending or InProgress
	// state across all groups. Zero means unlimited. The cap is soft under
	// concurrent dispatch from multiple processes.
	MaxActiveJobs int

	// DependentPriorityBoost is added to the group priority when queueing
	// dependent or dormant-dependent manifests, so downstream work runs
	// ahead of same-group time-based work.
	DependentPriorityBoost int

	// VisibilityTimeout is the lease on a dispatched execution. An
	// InProgress execution older than this with no live claim is considered
	// abandoned and becomes eligible for the recovery sweep.
	VisibilityTimeout time.Duration

	// RecoveryInterval is how often the recovery sweep runs after the
	// startup sweep. Zero disables the periodic sweep (startup only).
	RecoveryInterval time.Duration

	// ShutdownGracePeriod is how long in-flight executions may keep running
	// after Stop before their contexts are cancelled.
	ShutdownGracePeriod time.Duration

	// CleanupInterval is how often terminal metadata cleanup runs.
	// Zero disables the cleanup loop.
	CleanupInterval time.Duration

	// CleanupRetention is the minimum age of terminal metadata rows before
	// cleanup may delete them.
	CleanupRetention time.Duration

	// CleanupWorkflows restricts terminal metadata cleanup to the named
	// workflows. Empty means cleanup covers all workflows.
	CleanupWorkflows []string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ManagerInterval:        30 * time.Second,
		DispatcherInterval:     5 * time.Second,
		DispatchBatchSize:      50,
		MaxActiveJobs:          0,
		DependentPriorityBoost: 8,
		VisibilityTimeout:      30 * time.Minute,
		RecoveryInterval:       5 * time.Minute,
		ShutdownGracePeriod:    30 * time.Second,
		CleanupInterval:        0,
		CleanupRetention:       30 * 24 * time.Hour,
	}
}
