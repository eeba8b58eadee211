package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/manifest"
)

const manifestColumns = `
	id, external_id, workflow_name, input, input_type, schedule,
	cron_expression, interval_ns, depends_on, group_id, enabled,
	max_retries, timeout_ns, last_successful_run, created_at, updated_at`

// UpsertManifest creates or updates a manifest keyed by ExternalID.
// The stored ID, Enabled flag, and LastSuccessfulRun survive updates
// (an operator disable outlives a redeploy); the caller's struct is
// refreshed with all three.
func (q *queries) UpsertManifest(ctx context.Context, m *manifest.Manifest) error {
	if m.ID.IsNil() {
		m.ID = id.NewManifestID()
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO manifold_manifests (
			id, external_id, workflow_name, input, input_type, schedule,
			cron_expression, interval_ns, depends_on, group_id, enabled,
			max_retries, timeout_ns, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		ON CONFLICT (external_id) DO UPDATE SET
			workflow_name = EXCLUDED.workflow_name,
			input = EXCLUDED.input,
			input_type = EXCLUDED.input_type,
			schedule = EXCLUDED.schedule,
			cron_expression = EXCLUDED.cron_expression,
			interval_ns = EXCLUDED.interval_ns,
			depends_on = EXCLUDED.depends_on,
			group_id = EXCLUDED.group_id,
			max_retries = EXCLUDED.max_retries,
			timeout_ns = EXCLUDED.timeout_ns,
			updated_at = NOW()
		RETURNING id, enabled, last_successful_run, created_at, updated_at`,
		m.ID, m.ExternalID, m.WorkflowName, m.Input, m.InputType,
		string(m.Schedule), m.CronExpression, m.Interval.Nanoseconds(),
		m.DependsOn, m.GroupID, m.Enabled, m.MaxRetries,
		m.Timeout.Nanoseconds(),
	).Scan(&m.ID, &m.Enabled, &m.LastSuccessfulRun, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("manifold/postgres: upsert manifest %q: %w", m.ExternalID, err)
	}
	return nil
}

// GetManifest retrieves a manifest by ID.
func (q *queries) GetManifest(ctx context.Context, manifestID id.ManifestID) (*manifest.Manifest, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+manifestColumns+` FROM manifold_manifests WHERE id = $1`,
		manifestID,
	)
	m, err := scanManifest(row)
	if err != nil {
		if isNoRows(err) {
			return nil, manifold.ErrManifestNotFound
		}
		return nil, fmt.Errorf("manifold/postgres: get manifest: %w", err)
	}
	return m, nil
}

// GetManifestByExternalID retrieves a manifest by its stable key.
func (q *queries) GetManifestByExternalID(ctx context.Context, externalID string) (*manifest.Manifest, error) {
	row := q.db.QueryRow(ctx,
		`SELECT `+manifestColumns+` FROM manifold_manifests WHERE external_id = $1`,
		externalID,
	)
	m, err := scanManifest(row)
	if err != nil {
		if isNoRows(err) {
			return nil, manifold.ErrManifestNotFound
		}
		return nil, fmt.Errorf("manifold/postgres: get manifest by external id: %w", err)
	}
	return m, nil
}

// ListManifests returns all manifests ordered by ExternalID.
func (q *queries) ListManifests(ctx context.Context) ([]*manifest.Manifest, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+manifestColumns+` FROM manifold_manifests ORDER BY external_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: list manifests: %w", err)
	}
	defer rows.Close()
	return collectManifests(rows)
}

// DeleteManifest removes a manifest. The depends_on foreign key has
// ON DELETE SET NULL, so dependents are detached, never cascaded.
func (q *queries) DeleteManifest(ctx context.Context, manifestID id.ManifestID) error {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM manifold_manifests WHERE id = $1`, manifestID,
	)
	if err != nil {
		return fmt.Errorf("manifold/postgres: delete manifest: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manifold.ErrManifestNotFound
	}
	return nil
}

// DeleteManifestsNotIn removes every manifest not in keep.
func (q *queries) DeleteManifestsNotIn(ctx context.Context, keep []string) (int64, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := q.db.Exec(ctx,
		`DELETE FROM manifold_manifests WHERE NOT (external_id = ANY($1))`, keep,
	)
	if err != nil {
		return 0, fmt.Errorf("manifold/postgres: delete orphan manifests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetManifestEnabled flips the manifest enable flag.
func (q *queries) SetManifestEnabled(ctx context.Context, manifestID id.ManifestID, enabled bool) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE manifold_manifests SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		manifestID, enabled,
	)
	if err != nil {
		return fmt.Errorf("manifold/postgres: set manifest enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manifold.ErrManifestNotFound
	}
	return nil
}

// ListProjections returns projections for all enabled manifests with
// the aggregate flags computed database-side, so evaluation cost does
// not grow with execution history fetched over the wire.
func (q *queries) ListProjections(ctx context.Context) ([]*manifest.Projection, error) {
	rows, err := q.db.Query(ctx, `
		SELECT
			m.id, m.external_id, m.workflow_name, m.input, m.input_type,
			m.schedule, m.cron_expression, m.interval_ns, m.depends_on,
			m.group_id, m.enabled, m.max_retries, m.timeout_ns,
			m.last_successful_run, m.created_at, m.updated_at,
			g.name, g.enabled, g.priority,
			(SELECT COUNT(*) FROM manifold_metadata f
				WHERE f.manifest_id = m.id AND f.state = 'failed'
				  AND COALESCE(f.end_time, f.created_at) > COALESCE(
					(SELECT MAX(c.end_time) FROM manifold_metadata c
						WHERE c.manifest_id = m.id AND c.state = 'completed'),
					'epoch'::timestamptz)),
			EXISTS(SELECT 1 FROM manifold_dead_letters d
				WHERE d.manifest_id = m.id AND d.status = 'awaiting_intervention'),
			EXISTS(SELECT 1 FROM manifold_work_queue w
				WHERE w.manifest_id = m.id AND w.status = 'queued'),
			EXISTS(SELECT 1 FROM manifold_metadata a
				WHERE a.manifest_id = m.id AND a.state IN ('pending', 'in_progress')),
			(SELECT MAX(COALESCE(f.end_time, f.created_at)) FROM manifold_metadata f
				WHERE f.manifest_id = m.id AND f.state = 'failed'),
			(SELECT MAX(d.created_at) FROM manifold_dead_letters d
				WHERE d.manifest_id = m.id)
		FROM manifold_manifests m
		JOIN manifold_groups g ON g.id = m.group_id
		WHERE m.enabled
		ORDER BY m.external_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: list projections: %w", err)
	}
	defer rows.Close()

	var result []*manifest.Projection
	for rows.Next() {
		p := &manifest.Projection{}
		var intervalNS, timeoutNS int64
		if err := rows.Scan(
			&p.ID, &p.ExternalID, &p.WorkflowName, &p.Input, &p.InputType,
			&p.Schedule, &p.CronExpression, &intervalNS, &p.DependsOn,
			&p.GroupID, &p.Enabled, &p.MaxRetries, &timeoutNS,
			&p.LastSuccessfulRun, &p.CreatedAt, &p.UpdatedAt,
			&p.GroupName, &p.GroupEnabled, &p.GroupPriority,
			&p.FailureCount, &p.HasAwaitingDeadLetter, &p.HasQueuedWork,
			&p.HasActiveExecution, &p.LastFailureAt, &p.LastDeadLetteredAt,
		); err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan projection: %w", err)
		}
		p.Interval = time.Duration(intervalNS)
		p.Timeout = time.Duration(timeoutNS)
		result = append(result, p)
	}
	return result, rows.Err()
}

// UpsertGroup creates or updates a group keyed by Name. The Enabled
// flag survives updates.
func (q *queries) UpsertGroup(ctx context.Context, g *manifest.Group) error {
	if g.ID.IsNil() {
		g.ID = id.NewGroupID()
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO manifold_groups (id, name, max_active_jobs, priority, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			max_active_jobs = EXCLUDED.max_active_jobs,
			priority = EXCLUDED.priority,
			updated_at = NOW()
		RETURNING id, enabled, created_at, updated_at`,
		g.ID, g.Name, g.MaxActiveJobs, g.Priority, g.Enabled,
	).Scan(&g.ID, &g.Enabled, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("manifold/postgres: upsert group %q: %w", g.Name, err)
	}
	return nil
}

// GetGroup retrieves a group by ID.
func (q *queries) GetGroup(ctx context.Context, groupID id.GroupID) (*manifest.Group, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, name, max_active_jobs, priority, enabled, created_at, updated_at
		FROM manifold_groups WHERE id = $1`,
		groupID,
	)
	g, err := scanGroup(row)
	if err != nil {
		if isNoRows(err) {
			return nil, manifold.ErrGroupNotFound
		}
		return nil, fmt.Errorf("manifold/postgres: get group: %w", err)
	}
	return g, nil
}

// GetGroupByName retrieves a group by its unique name.
func (q *queries) GetGroupByName(ctx context.Context, name string) (*manifest.Group, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, name, max_active_jobs, priority, enabled, created_at, updated_at
		FROM manifold_groups WHERE name = $1`,
		name,
	)
	g, err := scanGroup(row)
	if err != nil {
		if isNoRows(err) {
			return nil, manifold.ErrGroupNotFound
		}
		return nil, fmt.Errorf("manifold/postgres: get group by name: %w", err)
	}
	return g, nil
}

// ListGroups returns all groups ordered by name.
func (q *queries) ListGroups(ctx context.Context) ([]*manifest.Group, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, max_active_jobs, priority, enabled, created_at, updated_at
		FROM manifold_groups ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("manifold/postgres: list groups: %w", err)
	}
	defer rows.Close()

	var result []*manifest.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan group: %w", err)
		}
		result = append(result, g)
	}
	return result, rows.Err()
}

// SetGroupEnabled flips the group enable flag.
func (q *queries) SetGroupEnabled(ctx context.Context, groupID id.GroupID, enabled bool) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE manifold_groups SET enabled = $2, updated_at = NOW() WHERE id = $1`,
		groupID, enabled,
	)
	if err != nil {
		return fmt.Errorf("manifold/postgres: set group enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manifold.ErrGroupNotFound
	}
	return nil
}

// DeleteOrphanGroups removes groups with zero remaining manifests.
func (q *queries) DeleteOrphanGroups(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM manifold_groups g
		WHERE NOT EXISTS (
			SELECT 1 FROM manifold_manifests m WHERE m.group_id = g.id
		)`,
	)
	if err != nil {
		return 0, fmt.Errorf("manifold/postgres: delete orphan groups: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AdvanceLastSuccessfulRun sets the manifest's last successful run.
func (q *queries) AdvanceLastSuccessfulRun(ctx context.Context, manifestID id.ManifestID, at time.Time) error {
	tag, err := q.db.Exec(ctx, `
		UPDATE manifold_manifests
		SET last_successful_run = $2, updated_at = NOW()
		WHERE id = $1`,
		manifestID, at,
	)
	if err != nil {
		return fmt.Errorf("manifold/postgres: advance last successful run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return manifold.ErrManifestNotFound
	}
	return nil
}

func scanManifest(row pgx.Row) (*manifest.Manifest, error) {
	m := &manifest.Manifest{}
	var intervalNS, timeoutNS int64
	if err := row.Scan(
		&m.ID, &m.ExternalID, &m.WorkflowName, &m.Input, &m.InputType,
		&m.Schedule, &m.CronExpression, &intervalNS, &m.DependsOn,
		&m.GroupID, &m.Enabled, &m.MaxRetries, &timeoutNS,
		&m.LastSuccessfulRun, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Interval = time.Duration(intervalNS)
	m.Timeout = time.Duration(timeoutNS)
	return m, nil
}

func collectManifests(rows pgx.Rows) ([]*manifest.Manifest, error) {
	var result []*manifest.Manifest
	for rows.Next() {
		m, err := scanManifest(rows)
		if err != nil {
			return nil, fmt.Errorf("manifold/postgres: scan manifest: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanGroup(row pgx.Row) (*manifest.Group, error) {
	g := &manifest.Group{}
	if err := row.Scan(
		&g.ID, &g.Name, &g.MaxActiveJobs, &g.Priority, &g.Enabled,
		&g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return g, nil
}
