// Package engine wires all Manifold subsystems together. It builds the
// workflow registry, middleware chain, manager, dispatcher, and cleanup
// loop from a Coordinator, seeds declared manifests into the store, and
// exposes the operator surface (manual triggers, enable/disable, dead
// letter resolution, history queries).
//
// This package exists to break the import cycle: the root manifold
// package defines Entity and Config (imported by every subsystem) and
// so cannot import those packages back. The engine package sits above
// all subsystem packages and below the application layer.
package engine
