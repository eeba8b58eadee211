// Package store defines the aggregate persistence interface. Each
// subsystem (manifest, work, metadata, deadletter) defines its own
// store interface; the composite Store composes them all. Backends:
// Postgres and Memory.
package store

import (
	"context"

	"github.com/Theauxm/manifold/deadletter"
	"github.com/Theauxm/manifold/manifest"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/work"
)

// Cycle is the view of the store a manager cycle runs against. On the
// Postgres backend every Cycle method executes inside the transaction
// holding the leader lock, so a full cycle commits or rolls back as one
// unit.
type Cycle interface {
	manifest.Store
	work.Store
	metadata.Store
	deadletter.Store
}

// Store is the aggregate persistence interface. Each subsystem store
// is a composable interface; a single backend implements all of them.
type Store interface {
	Cycle

	// WithLeaderLock runs fn while holding the named advisory lock,
	// giving fn a Cycle scoped to the lock's transaction. It returns
	// false without calling fn when another process holds the lock —
	// the caller simply skips this tick.
	WithLeaderLock(ctx context.Context, name string, fn func(ctx context.Context, tx Cycle) error) (bool, error)

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
