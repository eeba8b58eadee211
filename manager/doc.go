// Package manager runs the scheduling cycle: on each tick the leader
// loads manifest projections, parks retry-exhausted manifests as dead
// letters, evaluates which manifests are due, and enqueues work for
// them. Leadership is an advisory lock taken per tick, so any number
// of processes can run a manager and exactly one cycle executes at a
// time.
package manager
