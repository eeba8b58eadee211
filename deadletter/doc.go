// Package deadletter parks manifests that exhausted their retry budget.
// A manifest with an unresolved dead letter is excluded from automatic
// queueing until an operator retries or acknowledges the letter.
package deadletter
