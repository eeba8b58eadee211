package manifold

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("manifold: no store configured")
	ErrStoreClosed = errors.New("manifold: store closed")

	// Not found errors.
	ErrManifestNotFound   = errors.New("manifold: manifest not found")
	ErrGroupNotFound      = errors.New("manifold: manifest group not found")
	ErrWorkEntryNotFound  = errors.New("manifold: work queue entry not found")
	ErrMetadataNotFound   = errors.New("manifold: metadata not found")
	ErrDeadLetterNotFound = errors.New("manifold: dead letter not found")

	// Conflict errors.
	ErrAlreadyQueued = errors.New("manifold: manifest already has a queued work entry")

	// State errors.
	ErrInvalidState       = errors.New("manifold: invalid state transition")
	ErrDeadLetterResolved = errors.New("manifold: dead letter already resolved")

	// Activation errors.
	ErrNotDormantDependent = errors.New("manifold: manifest is not a dormant dependent")
	ErrNotChildOfParent    = errors.New("manifold: manifest does not depend on the activating parent")

	// Registry errors.
	ErrWorkflowNotRegistered = errors.New("manifold: workflow not registered")

	// Configuration errors.
	ErrDependencyCycle = errors.New("manifold: manifest group dependency cycle")
)
