package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/work"
)

const workColumns = `
	id, manifest_id, workflow_name, input, input_type, status,
	priority, available_at, metadata_id, created_at, updated_at`

// EnqueueWork inserts a Queued entry. The partial unique index on
// (manifest_id) WHERE status = 'queued' turns a duplicate enqueue into
// manifold.ErrAlreadyQueued even against racing writers.
func (q *queries) EnqueueWork(ctx context.Context, e *work.Entry) error {
	if e.ID.IsNil() {
		e.ID = id.NewWorkID()
	}
	var availableAt *time.Time
	if !e.AvailableAt.IsZero() {
		availableAt = &e.AvailableAt
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO manifold_work_queue (
			id, manifest_id, workflow_name, input, input_type, status,
			priority, available_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at`,
		e.ID, e.ManifestID, e.WorkflowName, e.Input, e.InputType,
		string(e.Status), e.Priority, availableAt,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return manifold.ErrAlreadyQueued
		}
		return fmt.Errorf("manifold/postgres: enqueue work: %w", err)
	}
	return nil
}

// GetWork retrieves an entry by ID.
func (q *queries) GetWork(ctx context.Context, workID id.WorkID) (*work.Entry, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+workColumns+` FROM manifold_work_queue WHERE id = $1`,
		workID,
	)
	e, err := scanWork(row)
	if err != nil {
		if isNoRows(err) {
			return nil, manifold.ErrWorkEntryNotFound
		}
		return nil, fmt.Errorf("manifold/postgres: get work: %w", err)
	}
	return e, nil
}

// ListClaimable returns up to limit Queued entries available at now in
// dispatch order.
func (q *queries) ListClaimable(ctx context.Context, now time.Time, limit int) ([]*work.Entry, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+workColumns+`
		FROM manifold_work_queue
		WHERE status = 'queued'
		  AND (available_at IS NULL OR available_at <= $1)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: list claimable: %w", err)
	}
	defer rows.Close()

	var result []*work.Entry
	for rows.Next() {
		e, err := scanWork(rows)
		if err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan work: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// DispatchWork claims a Queued entry with FOR UPDATE SKIP LOCKED,
// creates the execution record, and links the two — all in one
// statement, so competing dispatchers never block on each other and a
// claim can never exist without its execution record.
func (q *queries) DispatchWork(ctx context.Context, workID id.WorkID, md *metadata.Metadata) (bool, error) {
	if md.ID.IsNil() {
		md.ID = id.NewMetadataID()
	}
	tag, err := q.db.Exec(ctx, `
		WITH claimed AS (
			SELECT id FROM manifold_work_queue
			WHERE id = $1 AND status = 'queued'
			FOR UPDATE SKIP LOCKED
		), created AS (
			INSERT INTO manifold_metadata (
				id, name, state, manifest_id, parent_id, input,
				claimed_by, claim_expires_at, created_at, updated_at
			)
			SELECT $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()
			FROM claimed
		)
		UPDATE manifold_work_queue w
		SET status = 'dispatched', metadata_id = $2, updated_at = NOW()
		FROM claimed c
		WHERE w.id = c.id`,
		workID, md.ID, md.Name, string(md.State), md.ManifestID,
		md.ParentID, md.Input, md.ClaimedBy, md.ClaimExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("manifold/postgres: dispatch work: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteWork removes an entry.
func (q *queries) DeleteWork(ctx context.Context, workID id.WorkID) error {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM manifold_work_queue WHERE id = $1`, workID,
	)
	if err != nil {
		return fmt.Errorf("manifold/postgres: delete work: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manifold.ErrWorkEntryNotFound
	}
	return nil
}

// HasQueuedWork reports whether the manifest has a Queued entry.
func (q *queries) HasQueuedWork(ctx context.Context, manifestID id.ManifestID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM manifold_work_queue
			WHERE manifest_id = $1 AND status = 'queued'
		)`,
		manifestID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("manifold/postgres: has queued work: %w", err)
	}
	return exists, nil
}

// CountWork returns the number of entries per status.
func (q *queries) CountWork(ctx context.Context) (map[work.Status]int64, error) {
	rows, err := q.db.Query(ctx,
		`SELECT status, COUNT(*) FROM manifold_work_queue GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: count work: %w", err)
	}
	defer rows.Close()

	counts := make(map[work.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan work count: %w", err)
		}
		counts[work.Status(status)] = n
	}
	return counts, rows.Err()
}

func scanWork(row pgx.Row) (*work.Entry, error) {
	e := &work.Entry{}
	var availableAt *time.Time
	if err := row.Scan(
		&e.ID, &e.ManifestID, &e.WorkflowName, &e.Input, &e.InputType,
		&e.Status, &e.Priority, &availableAt, &e.MetadataID,
		&e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if availableAt != nil {
		e.AvailableAt = *availableAt
	}
	return e, nil
}
