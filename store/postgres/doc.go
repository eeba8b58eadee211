// Package postgres provides the production store backend using pgx/v5.
//
// Concurrency control maps onto native PostgreSQL primitives:
//
//   - work claims use FOR UPDATE SKIP LOCKED inside an UPDATE CTE, so
//     competing dispatchers never block or double-claim
//   - manager leadership uses pg_try_advisory_xact_lock, so the lock
//     can never outlive its transaction — a crashed leader releases it
//     implicitly
//   - the at-most-one-queued-entry-per-manifest invariant is a partial
//     unique index, enforced even against racing writers
//
// All schema migrations are embedded SQL files applied in filename
// order and tracked in manifold_migrations.
package postgres
