// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/deadletter"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/manifest"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/store"
	"github.com/Theauxm/manifold/work"
)

// Ensure Store implements the aggregate interface at compile time.
var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	manifests map[string]*manifest.Manifest
	groups    map[string]*manifest.Group
	entries   map[string]*work.Entry
	records   map[string]*metadata.Metadata
	letters   map[string]*deadletter.Entry

	// leaders holds one try-lock per advisory lock name, so two
	// in-process managers contend the way two processes would against
	// Postgres.
	leadersMu sync.Mutex
	leaders   map[string]*sync.Mutex
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		manifests: make(map[string]*manifest.Manifest),
		groups:    make(map[string]*manifest.Group),
		entries:   make(map[string]*work.Entry),
		records:   make(map[string]*metadata.Metadata),
		letters:   make(map[string]*deadletter.Entry),
		leaders:   make(map[string]*sync.Mutex),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close / WithLeaderLock
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// WithLeaderLock runs fn under the named try-lock. The memory backend
// has no transactions, so fn operates on the store directly; failures
// inside fn are not rolled back.
func (m *Store) WithLeaderLock(ctx context.Context, name string, fn func(ctx context.Context, tx store.Cycle) error) (bool, error) {
	m.leadersMu.Lock()
	lock, ok := m.leaders[name]
	if !ok {
		lock = &sync.Mutex{}
		m.leaders[name] = lock
	}
	m.leadersMu.Unlock()

	if !lock.TryLock() {
		return false, nil
	}
	defer lock.Unlock()

	return true, fn(ctx, m)
}

// ──────────────────────────────────────────────────
// Manifest Store
// ──────────────────────────────────────────────────

// UpsertManifest creates or updates a manifest keyed by ExternalID.
// The stored ID, Enabled flag, and LastSuccessfulRun survive updates.
func (m *Store) UpsertManifest(_ context.Context, mf *manifest.Manifest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, existing := range m.manifests {
		if existing.ExternalID != mf.ExternalID {
			continue
		}
		cp := *mf
		cp.ID = existing.ID
		cp.Enabled = existing.Enabled
		cp.LastSuccessfulRun = existing.LastSuccessfulRun
		cp.CreatedAt = existing.CreatedAt
		cp.UpdatedAt = now
		m.manifests[existing.ID.String()] = &cp
		mf.ID = existing.ID
		mf.Enabled = existing.Enabled
		mf.LastSuccessfulRun = existing.LastSuccessfulRun
		return nil
	}

	cp := *mf
	if cp.ID.IsNil() {
		cp.ID = id.NewManifestID()
		mf.ID = cp.ID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.manifests[cp.ID.String()] = &cp
	return nil
}

// GetManifest retrieves a manifest by ID.
func (m *Store) GetManifest(_ context.Context, manifestID id.ManifestID) (*manifest.Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mf, ok := m.manifests[manifestID.String()]
	if !ok {
		return nil, manifold.ErrManifestNotFound
	}
	cp := *mf
	return &cp, nil
}

// GetManifestByExternalID retrieves a manifest by its stable key.
func (m *Store) GetManifestByExternalID(_ context.Context, externalID string) (*manifest.Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, mf := range m.manifests {
		if mf.ExternalID == externalID {
			cp := *mf
			return &cp, nil
		}
	}
	return nil, manifold.ErrManifestNotFound
}

// ListManifests returns all manifests sorted by ExternalID.
func (m *Store) ListManifests(_ context.Context) ([]*manifest.Manifest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*manifest.Manifest, 0, len(m.manifests))
	for _, mf := range m.manifests {
		cp := *mf
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ExternalID < result[k].ExternalID
	})
	return result, nil
}

// DeleteManifest removes a manifest and clears dependents' DependsOn.
func (m *Store) DeleteManifest(_ context.Context, manifestID id.ManifestID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteManifestLocked(manifestID)
}

func (m *Store) deleteManifestLocked(manifestID id.ManifestID) error {
	key := manifestID.String()
	if _, ok := m.manifests[key]; !ok {
		return manifold.ErrManifestNotFound
	}
	delete(m.manifests, key)
	for _, other := range m.manifests {
		if other.DependsOn.String() == key {
			other.DependsOn = id.Nil
		}
	}
	return nil
}

// DeleteManifestsNotIn removes every manifest not in keep.
func (m *Store) DeleteManifestsNotIn(_ context.Context, keep []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keepSet := make(map[string]struct{}, len(keep))
	for _, k := range keep {
		keepSet[k] = struct{}{}
	}

	var doomed []id.ManifestID
	for _, mf := range m.manifests {
		if _, ok := keepSet[mf.ExternalID]; !ok {
			doomed = append(doomed, mf.ID)
		}
	}
	for _, mid := range doomed {
		_ = m.deleteManifestLocked(mid)
	}
	return int64(len(doomed)), nil
}

// SetManifestEnabled flips the manifest enable flag.
func (m *Store) SetManifestEnabled(_ context.Context, manifestID id.ManifestID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	mf, ok := m.manifests[manifestID.String()]
	if !ok {
		return manifold.ErrManifestNotFound
	}
	mf.Enabled = enabled
	mf.UpdatedAt = time.Now().UTC()
	return nil
}

// ListProjections returns projections for all enabled manifests with
// their aggregate flags computed.
func (m *Store) ListProjections(_ context.Context) ([]*manifest.Projection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*manifest.Projection, 0, len(m.manifests))
	for _, mf := range m.manifests {
		if !mf.Enabled {
			continue
		}
		p := &manifest.Projection{Manifest: *mf}

		if g, ok := m.groups[mf.GroupID.String()]; ok {
			p.GroupName = g.Name
			p.GroupEnabled = g.Enabled
			p.GroupPriority = g.Priority
		}

		m.fillExecutionAggregates(p)
		m.fillQueueAggregates(p)
		m.fillDeadLetterAggregates(p)

		result = append(result, p)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ExternalID < result[k].ExternalID
	})
	return result, nil
}

func (m *Store) fillExecutionAggregates(p *manifest.Projection) {
	key := p.ID.String()
	var lastCompleted time.Time
	for _, md := range m.records {
		if md.ManifestID.String() != key {
			continue
		}
		if md.State.Active() {
			p.HasActiveExecution = true
		}
		if md.State == metadata.StateCompleted && md.EndTime != nil && md.EndTime.After(lastCompleted) {
			lastCompleted = *md.EndTime
		}
	}
	for _, md := range m.records {
		if md.ManifestID.String() != key || md.State != metadata.StateFailed {
			continue
		}
		end := md.CreatedAt
		if md.EndTime != nil {
			end = *md.EndTime
		}
		if !end.After(lastCompleted) {
			continue
		}
		p.FailureCount++
		if p.LastFailureAt == nil || end.After(*p.LastFailureAt) {
			e := end
			p.LastFailureAt = &e
		}
	}
}

func (m *Store) fillQueueAggregates(p *manifest.Projection) {
	key := p.ID.String()
	for _, e := range m.entries {
		if e.ManifestID.String() == key && e.Status == work.StatusQueued {
			p.HasQueuedWork = true
			return
		}
	}
}

func (m *Store) fillDeadLetterAggregates(p *manifest.Projection) {
	key := p.ID.String()
	for _, dl := range m.letters {
		if dl.ManifestID.String() != key {
			continue
		}
		if dl.Status == deadletter.StatusAwaitingIntervention {
			p.HasAwaitingDeadLetter = true
		}
		if p.LastDeadLetteredAt == nil || dl.CreatedAt.After(*p.LastDeadLetteredAt) {
			c := dl.CreatedAt
			p.LastDeadLetteredAt = &c
		}
	}
}

// UpsertGroup creates or updates a group keyed by Name.
func (m *Store) UpsertGroup(_ context.Context, g *manifest.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, existing := range m.groups {
		if existing.Name != g.Name {
			continue
		}
		cp := *g
		cp.ID = existing.ID
		cp.Enabled = existing.Enabled
		cp.CreatedAt = existing.CreatedAt
		cp.UpdatedAt = now
		m.groups[existing.ID.String()] = &cp
		g.ID = existing.ID
		g.Enabled = existing.Enabled
		return nil
	}

	cp := *g
	if cp.ID.IsNil() {
		cp.ID = id.NewGroupID()
		g.ID = cp.ID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.groups[cp.ID.String()] = &cp
	return nil
}

// GetGroup retrieves a group by ID.
func (m *Store) GetGroup(_ context.Context, groupID id.GroupID) (*manifest.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, ok := m.groups[groupID.String()]
	if !ok {
		return nil, manifold.ErrGroupNotFound
	}
	cp := *g
	return &cp, nil
}

// GetGroupByName retrieves a group by its unique name.
func (m *Store) GetGroupByName(_ context.Context, name string) (*manifest.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, g := range m.groups {
		if g.Name == name {
			cp := *g
			return &cp, nil
		}
	}
	return nil, manifold.ErrGroupNotFound
}

// ListGroups returns all groups sorted by name.
func (m *Store) ListGroups(_ context.Context) ([]*manifest.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*manifest.Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Name < result[k].Name
	})
	return result, nil
}

// SetGroupEnabled flips the group enable flag.
func (m *Store) SetGroupEnabled(_ context.Context, groupID id.GroupID, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID.String()]
	if !ok {
		return manifold.ErrGroupNotFound
	}
	g.Enabled = enabled
	g.UpdatedAt = time.Now().UTC()
	return nil
}

// DeleteOrphanGroups removes groups with zero remaining manifests.
func (m *Store) DeleteOrphanGroups(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inUse := make(map[string]struct{}, len(m.manifests))
	for _, mf := range m.manifests {
		inUse[mf.GroupID.String()] = struct{}{}
	}

	var deleted int64
	for key := range m.groups {
		if _, ok := inUse[key]; !ok {
			delete(m.groups, key)
			deleted++
		}
	}
	return deleted, nil
}

// AdvanceLastSuccessfulRun sets the manifest's last successful run.
func (m *Store) AdvanceLastSuccessfulRun(_ context.Context, manifestID id.ManifestID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.advanceLastSuccessfulRunLocked(manifestID, at)
}

func (m *Store) advanceLastSuccessfulRunLocked(manifestID id.ManifestID, at time.Time) error {
	mf, ok := m.manifests[manifestID.String()]
	if !ok {
		return manifold.ErrManifestNotFound
	}
	a := at
	mf.LastSuccessfulRun = &a
	mf.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// Work Store
// ──────────────────────────────────────────────────

// EnqueueWork inserts a Queued entry, enforcing at most one Queued
// entry per manifest.
func (m *Store) EnqueueWork(_ context.Context, e *work.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !e.ManifestID.IsNil() {
		for _, existing := range m.entries {
			if existing.Status == work.StatusQueued && existing.ManifestID.String() == e.ManifestID.String() {
				return manifold.ErrAlreadyQueued
			}
		}
	}

	cp := *e
	if cp.ID.IsNil() {
		cp.ID = id.NewWorkID()
		e.ID = cp.ID
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.entries[cp.ID.String()] = &cp
	return nil
}

// GetWork retrieves an entry by ID.
func (m *Store) GetWork(_ context.Context, workID id.WorkID) (*work.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[workID.String()]
	if !ok {
		return nil, manifold.ErrWorkEntryNotFound
	}
	cp := *e
	return &cp, nil
}

// ListClaimable returns claimable entries in dispatch order.
func (m *Store) ListClaimable(_ context.Context, now time.Time, limit int) ([]*work.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]*work.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		if e.Status != work.StatusQueued || !e.Available(now) {
			continue
		}
		cp := *e
		candidates = append(candidates, &cp)
	}

	// priority DESC, CreatedAt ASC, ID ASC.
	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].ID.String() < candidates[k].ID.String()
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// DispatchWork atomically claims a Queued entry, creates the execution
// record, and links the two.
func (m *Store) DispatchWork(_ context.Context, workID id.WorkID, md *metadata.Metadata) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[workID.String()]
	if !ok {
		return false, manifold.ErrWorkEntryNotFound
	}
	if e.Status != work.StatusQueued {
		return false, nil
	}

	now := time.Now().UTC()
	cp := *md
	if cp.ID.IsNil() {
		cp.ID = id.NewMetadataID()
		md.ID = cp.ID
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.records[cp.ID.String()] = &cp

	e.Status = work.StatusDispatched
	e.MetadataID = cp.ID
	e.UpdatedAt = now
	return true, nil
}

// DeleteWork removes an entry.
func (m *Store) DeleteWork(_ context.Context, workID id.WorkID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workID.String()
	if _, ok := m.entries[key]; !ok {
		return manifold.ErrWorkEntryNotFound
	}
	delete(m.entries, key)
	return nil
}

// HasQueuedWork reports whether the manifest has a Queued entry.
func (m *Store) HasQueuedWork(_ context.Context, manifestID id.ManifestID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.Status == work.StatusQueued && e.ManifestID.String() == manifestID.String() {
			return true, nil
		}
	}
	return false, nil
}

// CountWork returns the number of entries per status.
func (m *Store) CountWork(_ context.Context) (map[work.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[work.Status]int64)
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts, nil
}

// ──────────────────────────────────────────────────
// Metadata Store
// ──────────────────────────────────────────────────

// CreateMetadata inserts a new execution record.
func (m *Store) CreateMetadata(_ context.Context, md *metadata.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *md
	if cp.ID.IsNil() {
		cp.ID = id.NewMetadataID()
		md.ID = cp.ID
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.records[cp.ID.String()] = &cp
	return nil
}

// GetMetadata retrieves an execution by ID.
func (m *Store) GetMetadata(_ context.Context, metadataID id.MetadataID) (*metadata.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	md, ok := m.records[metadataID.String()]
	if !ok {
		return nil, manifold.ErrMetadataNotFound
	}
	cp := *md
	return &cp, nil
}

// UpdateMetadata persists changes to an existing record.
func (m *Store) UpdateMetadata(_ context.Context, md *metadata.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateMetadataLocked(md)
}

func (m *Store) updateMetadataLocked(md *metadata.Metadata) error {
	key := md.ID.String()
	if _, ok := m.records[key]; !ok {
		return manifold.ErrMetadataNotFound
	}
	cp := *md
	cp.UpdatedAt = time.Now().UTC()
	m.records[key] = &cp
	return nil
}

// ListMetadata returns executions matching opts, newest first.
func (m *Store) ListMetadata(_ context.Context, opts metadata.ListOpts) ([]*metadata.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*metadata.Metadata, 0, len(m.records))
	for _, md := range m.records {
		if opts.Name != "" && md.Name != opts.Name {
			continue
		}
		if opts.State != "" && md.State != opts.State {
			continue
		}
		if !opts.ManifestID.IsNil() && md.ManifestID.String() != opts.ManifestID.String() {
			continue
		}
		if !opts.Since.IsZero() && md.CreatedAt.Before(opts.Since) {
			continue
		}
		if !opts.Until.IsZero() && md.CreatedAt.After(opts.Until) {
			continue
		}
		cp := *md
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountActive returns the concurrency snapshot.
func (m *Store) CountActive(_ context.Context) (*metadata.ActiveCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := &metadata.ActiveCounts{PerGroup: make(map[id.GroupID]int)}
	for _, md := range m.records {
		if !md.State.Active() {
			continue
		}
		counts.Global++
		if md.ManifestID.IsNil() {
			continue
		}
		if mf, ok := m.manifests[md.ManifestID.String()]; ok {
			counts.PerGroup[mf.GroupID]++
		}
	}
	return counts, nil
}

// FinishExecution updates the record and optionally advances the
// owning manifest's LastSuccessfulRun in the same critical section.
func (m *Store) FinishExecution(_ context.Context, md *metadata.Metadata, lastSuccessfulRun *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.updateMetadataLocked(md); err != nil {
		return err
	}
	if lastSuccessfulRun != nil && !md.ManifestID.IsNil() {
		if err := m.advanceLastSuccessfulRunLocked(md.ManifestID, *lastSuccessfulRun); err != nil {
			return err
		}
	}
	return nil
}

// ListExpiredClaims returns active executions past their visibility
// deadline.
func (m *Store) ListExpiredClaims(_ context.Context, now time.Time) ([]*metadata.Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var expired []*metadata.Metadata
	for _, md := range m.records {
		if !md.State.Active() {
			continue
		}
		if md.ClaimExpiresAt != nil && md.ClaimExpiresAt.Before(now) {
			cp := *md
			expired = append(expired, &cp)
		}
	}
	sort.Slice(expired, func(i, k int) bool {
		return expired[i].CreatedAt.Before(expired[k].CreatedAt)
	})
	return expired, nil
}

// DeleteTerminalBefore removes terminal executions whose start time
// predates cutoff, along with work entries referencing them.
func (m *Store) DeleteTerminalBefore(_ context.Context, cutoff time.Time, names []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}

	var deleted int64
	for key, md := range m.records {
		if !md.State.Terminal() || !md.StartTime.Before(cutoff) {
			continue
		}
		if len(nameSet) > 0 {
			if _, ok := nameSet[md.Name]; !ok {
				continue
			}
		}
		delete(m.records, key)
		deleted++
		for ekey, e := range m.entries {
			if e.MetadataID.String() == key {
				delete(m.entries, ekey)
			}
		}
	}
	return deleted, nil
}

// ──────────────────────────────────────────────────
// Dead Letter Store
// ──────────────────────────────────────────────────

// PushDeadLetter inserts a new letter.
func (m *Store) PushDeadLetter(_ context.Context, e *deadletter.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	if cp.ID.IsNil() {
		cp.ID = id.NewDeadLetterID()
		e.ID = cp.ID
	}
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.letters[cp.ID.String()] = &cp
	return nil
}

// GetDeadLetter retrieves a letter by ID.
func (m *Store) GetDeadLetter(_ context.Context, deadLetterID id.DeadLetterID) (*deadletter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.letters[deadLetterID.String()]
	if !ok {
		return nil, manifold.ErrDeadLetterNotFound
	}
	cp := *e
	return &cp, nil
}

// UpdateDeadLetter persists status and resolution fields.
func (m *Store) UpdateDeadLetter(_ context.Context, e *deadletter.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, ok := m.letters[key]; !ok {
		return manifold.ErrDeadLetterNotFound
	}
	cp := *e
	cp.UpdatedAt = time.Now().UTC()
	m.letters[key] = &cp
	return nil
}

// ListDeadLetters returns letters matching opts, newest first.
func (m *Store) ListDeadLetters(_ context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*deadletter.Entry, 0, len(m.letters))
	for _, e := range m.letters {
		if opts.Status != "" && e.Status != opts.Status {
			continue
		}
		if !opts.ManifestID.IsNil() && e.ManifestID.String() != opts.ManifestID.String() {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// HasAwaiting reports whether the manifest has an unresolved letter.
func (m *Store) HasAwaiting(_ context.Context, manifestID id.ManifestID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.letters {
		if e.Status == deadletter.StatusAwaitingIntervention && e.ManifestID.String() == manifestID.String() {
			return true, nil
		}
	}
	return false, nil
}

// CountDeadLetters returns the number of letters per status.
func (m *Store) CountDeadLetters(_ context.Context) (map[deadletter.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[deadletter.Status]int64)
	for _, e := range m.letters {
		counts[e.Status]++
	}
	return counts, nil
}
