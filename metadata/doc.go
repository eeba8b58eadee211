// Package metadata records workflow executions: one row per attempt,
// created when a dispatcher claims work and driven through the state
// machine Pending → InProgress → Completed | Failed | Cancelled.
// Terminal rows are the system's execution history.
package metadata
