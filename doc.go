// Package manifold provides manifest-driven scheduling and dispatch of
// background jobs. A manifest is a persisted job definition (what workflow
// to run, how it is scheduled, how many retries it gets); manifold decides
// which manifests are due, queues each exactly once, dispatches queued work
// under global and per-group concurrency limits, records every execution
// attempt, and parks manifests that exhaust their retries in a dead-letter
// queue for operator resolution.
//
// Manifold is a library, not a service. Import it, configure a store,
// register workflows and manifests, and start the coordinator.
//
// # Quick Start
//
//	c, err := manifold.New(
//	    manifold.WithStore(pgStore),
//	    manifold.WithMaxActiveJobs(20),
//	)
//
// # Architecture
//
// Manifold follows a composable store pattern where each subsystem
// (manifest, work, metadata, deadletter) defines its own store interface
// and a single backend implements all of them. Multiple processes may run
// against one relational store: scheduling cycles are serialized by a
// non-blocking advisory lock, and work-queue claims use row-level
// SKIP LOCKED selection so every process makes forward progress.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package manifold
