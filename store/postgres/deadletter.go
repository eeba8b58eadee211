package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/deadletter"
	"github.com/Theauxm/manifold/id"
)

const deadLetterColumns = `
	id, manifest_id, status, reason, failure_count,
	resolved_at, resolution_note, created_at, updated_at`

// PushDeadLetter inserts a new letter. The partial unique index on
// (manifest_id) WHERE status = 'awaiting_intervention' keeps racing
// reapers from parking the same manifest twice.
func (q *queries) PushDeadLetter(ctx context.Context, e *deadletter.Entry) error {
	if e.ID.IsNil() {
		e.ID = id.NewDeadLetterID()
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO manifold_dead_letters (
			id, manifest_id, status, reason, failure_count,
			resolved_at, resolution_note, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING created_at, updated_at`,
		e.ID, e.ManifestID, string(e.Status), e.Reason,
		e.FailureCount, e.ResolvedAt, e.ResolutionNote,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("manifold/postgres: push dead letter: %w", err)
	}
	return nil
}

// GetDeadLetter retrieves a letter by ID.
func (q *queries) GetDeadLetter(ctx context.Context, deadLetterID id.DeadLetterID) (*deadletter.Entry, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM manifold_dead_letters WHERE id = $1`,
		deadLetterID,
	)
	e, err := scanDeadLetter(row)
	if err != nil {
		if isNoRows(err) {
			return nil, manifold.ErrDeadLetterNotFound
		}
		return nil, fmt.Errorf("manifold/postgres: get dead letter: %w", err)
	}
	return e, nil
}

// UpdateDeadLetter persists status and resolution fields.
func (q *queries) UpdateDeadLetter(ctx context.Context, e *deadletter.Entry) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE manifold_dead_letters SET
			status = $2, reason = $3, failure_count = $4,
			resolved_at = $5, resolution_note = $6, updated_at = NOW()
		WHERE id = $1`,
		e.ID, string(e.Status), e.Reason, e.FailureCount,
		e.ResolvedAt, e.ResolutionNote,
	)
	if err != nil {
		return fmt.Errorf("manifold/postgres: update dead letter: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manifold.ErrDeadLetterNotFound
	}
	return nil
}

// ListDeadLetters returns letters matching opts, newest first.
func (q *queries) ListDeadLetters(ctx context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	query := `SELECT ` + deadLetterColumns + ` FROM manifold_dead_letters WHERE TRUE`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if !opts.ManifestID.IsNil() {
		query += fmt.Sprintf(" AND manifest_id = $%d", argIdx)
		args = append(args, opts.ManifestID)
		argIdx++
	}

	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: list dead letters: %w", err)
	}
	defer rows.Close()

	var result []*deadletter.Entry
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan dead letter: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// HasAwaiting reports whether the manifest has an unresolved letter.
func (q *queries) HasAwaiting(ctx context.Context, manifestID id.ManifestID) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM manifold_dead_letters
			WHERE manifest_id = $1 AND status = 'awaiting_intervention'
		)`,
		manifestID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("manifold/postgres: has awaiting dead letter: %w", err)
	}
	return exists, nil
}

// CountDeadLetters returns the number of letters per status.
func (q *queries) CountDeadLetters(ctx context.Context) (map[deadletter.Status]int64, error) {
	rows, err := q.db.Query(ctx,
		`SELECT status, COUNT(*) FROM manifold_dead_letters GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: count dead letters: %w", err)
	}
	defer rows.Close()

	counts := make(map[deadletter.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan dead letter count: %w", err)
		}
		counts[deadletter.Status(status)] = n
	}
	return counts, rows.Err()
}

func scanDeadLetter(row pgx.Row) (*deadletter.Entry, error) {
	e := &deadletter.Entry{}
	if err := row.Scan(
		&e.ID, &e.ManifestID, &e.Status, &e.Reason, &e.FailureCount,
		&e.ResolvedAt, &e.ResolutionNote, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return e, nil
}
