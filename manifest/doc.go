// Package manifest defines the persisted job definitions that drive
// Manifold: the Manifest entity (what to run and how it is scheduled),
// the Group entity (dispatch controls shared by a set of manifests),
// the schedule evaluator that decides when a manifest is due, and the
// startup validation of the cross-group dependency graph.
package manifest
