// Package dispatcher claims queued work and drives workflow
// executions. Any number of dispatchers may poll the same store:
// claims go through an atomic claim-and-create operation, so an entry
// is only ever executed once. Capacity is gated against live database
// counts (global and per-group), with an optional local per-group rate
// limiter on top.
package dispatcher
