// Package work holds the dispatch queue: entries created by the manager
// when a manifest comes due, claimed atomically by dispatchers, and
// removed once the execution they spawned reaches a terminal state.
package work
