package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/metadata"
)

const metadataColumns = `
	id, name, state, manifest_id, parent_id, input, output,
	start_time, end_time, failure_step, failure_exception,
	failure_reason, stack_trace, claimed_by, claim_expires_at,
	created_at, updated_at`

// CreateMetadata inserts a new execution record.
func (q *queries) CreateMetadata(ctx context.Context, m *metadata.Metadata) error {
	if m.ID.IsNil() {
		m.ID = id.NewMetadataID()
	}
	var startTime *time.Time
	if !m.StartTime.IsZero() {
		startTime = &m.StartTime
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO manifold_metadata (
			id, name, state, manifest_id, parent_id, input, output,
			start_time, end_time, failure_step, failure_exception,
			failure_reason, stack_trace, claimed_by, claim_expires_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		RETURNING created_at, updated_at`,
		m.ID, m.Name, string(m.State), m.ManifestID, m.ParentID,
		m.Input, m.Output, startTime, m.EndTime, m.FailureStep,
		m.FailureException, m.FailureReason, m.StackTrace,
		m.ClaimedBy, m.ClaimExpiresAt,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("manifold/postgres: create metadata: %w", err)
	}
	return nil
}

// GetMetadata retrieves an execution by ID.
func (q *queries) GetMetadata(ctx context.Context, metadataID id.MetadataID) (*metadata.Metadata, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+metadataColumns+` FROM manifold_metadata WHERE id = $1`,
		metadataID,
	)
	m, err := scanMetadata(row)
	if err != nil {
		if isNoRows(err) {
			return nil, manifold.ErrMetadataNotFound
		}
		return nil, fmt.Errorf("manifold/postgres: get metadata: %w", err)
	}
	return m, nil
}

// UpdateMetadata persists mutable fields of an execution record.
func (q *queries) UpdateMetadata(ctx context.Context, m *metadata.Metadata) error {
	var startTime *time.Time
	if !m.StartTime.IsZero() {
		startTime = &m.StartTime
	}
	tag, err := q.db.Exec(ctx, `
		UPDATE manifold_metadata SET
			state = $2, output = $3, start_time = $4, end_time = $5,
			failure_step = $6, failure_exception = $7, failure_reason = $8,
			stack_trace = $9, claimed_by = $10, claim_expires_at = $11,
			updated_at = NOW()
		WHERE id = $1`,
		m.ID, string(m.State), m.Output, startTime, m.EndTime,
		m.FailureStep, m.FailureException, m.FailureReason,
		m.StackTrace, m.ClaimedBy, m.ClaimExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("manifold/postgres: update metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manifold.ErrMetadataNotFound
	}
	return nil
}

// ListMetadata returns executions matching opts, newest first.
func (q *queries) ListMetadata(ctx context.Context, opts metadata.ListOpts) ([]*metadata.Metadata, error) {
	query := `SELECT ` + metadataColumns + ` FROM manifold_metadata WHERE TRUE`
	args := []any{}
	argIdx := 1

	if opts.Name != "" {
		query += fmt.Sprintf(" AND name = $%d", argIdx)
		args = append(args, opts.Name)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}
	if !opts.ManifestID.IsNil() {
		query += fmt.Sprintf(" AND manifest_id = $%d", argIdx)
		args = append(args, opts.ManifestID)
		argIdx++
	}
	if !opts.Since.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, opts.Since)
		argIdx++
	}
	if !opts.Until.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, opts.Until)
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
		return nil, fmt.Errorf("manifold/postgres: list metadata: %w", err)
	}
	defer rows.Close()

	var result []*metadata.Metadata
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan metadata: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// CountActive returns the concurrency snapshot: total active
// executions plus a per-group breakdown via the owning manifest.
func (q *queries) CountActive(ctx context.Context) (*metadata.ActiveCounts, error) {
	counts := &metadata.ActiveCounts{PerGroup: make(map[id.GroupID]int)}

	err := q.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM manifold_metadata
		WHERE state IN ('pending', 'in_progress')`,
	).Scan(&counts.Global)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: count active: %w", err)
	}

	rows, err := q.db.Query(ctx, `
		SELECT mf.group_id, COUNT(*)
		FROM manifold_metadata md
		JOIN manifold_manifests mf ON mf.id = md.manifest_id
		WHERE md.state IN ('pending', 'in_progress')
		GROUP BY mf.group_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: count active per group: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var gid id.GroupID
		var n int
		if err := rows.Scan(&gid, &n); err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan active count: %w", err)
		}
		counts.PerGroup[gid] = n
	}
	return counts, rows.Err()
}

// FinishExecution writes the terminal transition and, when
// lastSuccessfulRun is non-nil, advances the owning manifest's
// LastSuccessfulRun in the same statement.
func (q *queries) FinishExecution(ctx context.Context, m *metadata.Metadata, lastSuccessfulRun *time.Time) error {
	var startTime *time.Time
	if !m.StartTime.IsZero() {
		startTime = &m.StartTime
	}

	if lastSuccessfulRun == nil {
		return q.UpdateMetadata(ctx, m)
	}

	var manifestID id.ManifestID
	err := q.db.QueryRow(ctx, `
		WITH finished AS (
			UPDATE manifold_metadata SET
				state = $2, output = $3, start_time = $4, end_time = $5,
				failure_step = $6, failure_exception = $7, failure_reason = $8,
				stack_trace = $9, claimed_by = $10, claim_expires_at = $11,
				updated_at = NOW()
			WHERE id = $1
			RETURNING manifest_id
		), advanced AS (
			UPDATE manifold_manifests mf
			SET last_successful_run = $12, updated_at = NOW()
			FROM finished f
			WHERE mf.id = f.manifest_id
		)
		SELECT manifest_id FROM finished`,
		m.ID, string(m.State), m.Output, startTime, m.EndTime,
		m.FailureStep, m.FailureException, m.FailureReason,
		m.StackTrace, m.ClaimedBy, m.ClaimExpiresAt,
		*lastSuccessfulRun,
	).Scan(&manifestID)
	if err != nil {
		if isNoRows(err) {
			return manifold.ErrMetadataNotFound
		}
		return fmt.Errorf("manifold/postgres: finish execution: %w", err)
	}
	return nil
}

// ListExpiredClaims returns active executions past their visibility
// deadline, oldest first.
func (q *queries) ListExpiredClaims(ctx context.Context, now time.Time) ([]*metadata.Metadata, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+metadataColumns+`
		FROM manifold_metadata
		WHERE state IN ('pending', 'in_progress')
		  AND claim_expires_at IS NOT NULL
		  AND claim_expires_at < $1
		ORDER BY created_at ASC`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: list expired claims: %w", err)
	}
	defer rows.Close()

	var result []*metadata.Metadata
	for rows.Next() {
		m, err := scanMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan expired claim: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// DeleteTerminalBefore removes terminal executions whose start time
// predates cutoff, along with any work queue entries referencing them.
func (q *queries) DeleteTerminalBefore(ctx context.Context, cutoff time.Time, names []string) (int64, error) {
	if names == nil {
		names = []string{}
	}
	var deleted int64
	err := q.db.QueryRow(ctx, `
		WITH doomed AS (
			DELETE FROM manifold_metadata
			WHERE state IN ('completed', 'failed', 'cancelled')
			  AND start_time < $1
			  AND (cardinality($2::text[]) = 0 OR name = ANY($2))
			RETURNING id
		), scrubbed AS (
			DELETE FROM manifold_work_queue w
			USING doomed d
			WHERE w.metadata_id = d.id
		)
		SELECT COUNT(*) FROM doomed`,
		cutoff, names,
	).Scan(&deleted)
	if err != nil {
		return 0, fmt.Errorf("manifold/postgres: delete terminal metadata: %w", err)
	}
	return deleted, nil
}

func scanMetadata(row pgx.Row) (*metadata.Metadata, error) {
	m := &metadata.Metadata{}
	var startTime *time.Time
	if err := row.Scan(
		&m.ID, &m.Name, &m.State, &m.ManifestID, &m.ParentID,
		&m.Input, &m.Output, &startTime, &m.EndTime,
		&m.FailureStep, &m.FailureException, &m.FailureReason,
		&m.StackTrace, &m.ClaimedBy, &m.ClaimExpiresAt,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if startTime != nil {
		m.StartTime = *startTime
	}
	return m, nil
}
