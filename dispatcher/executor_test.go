package dispatcher_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/dispatcher"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/manifest"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/store/memory"
	"github.com/Theauxm/manifold/work"
	"github.com/Theauxm/manifold/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fixture wires a store with one group, one manifest, and one claimed
// entry ready for Execute.
type fixture struct {
	store    *memory.Store
	registry *workflow.Registry
	manifest *manifest.Manifest
	entry    *work.Entry
	record   *metadata.Metadata
}

func newFixture(t *testing.T, workflowName string, timeout time.Duration) *fixture {
	t.Helper()
	s := memory.New()
	ctx := context.Background()

	g := &manifest.Group{Entity: manifold.NewEntity(), ID: id.NewGroupID(), Name: "etl", Enabled: true}
	if err := s.UpsertGroup(ctx, g); err != nil {
		t.Fatalf("UpsertGroup: %v", err)
	}
	m := &manifest.Manifest{
		Entity:       manifold.NewEntity(),
		ID:           id.NewManifestID(),
		ExternalID:   "sync-a",
		WorkflowName: workflowName,
		Schedule:     manifest.ScheduleInterval,
		Interval:     time.Minute,
		GroupID:      g.ID,
		Enabled:      true,
		Timeout:      timeout,
	}
	if err := s.UpsertManifest(ctx, m); err != nil {
		t.Fatalf("UpsertManifest: %v", err)
	}

	e := &work.Entry{
		Entity:       manifold.NewEntity(),
		ID:           id.NewWorkID(),
		ManifestID:   m.ID,
		WorkflowName: workflowName,
		Input:        []byte(`{"n":1}`),
		Status:       work.StatusQueued,
	}
	if err := s.EnqueueWork(ctx, e); err != nil {
		t.Fatalf("EnqueueWork: %v", err)
	}

	md := &metadata.Metadata{
		Entity:     manifold.NewEntity(),
		ID:         id.NewMetadataID(),
		Name:       workflowName,
		State:      metadata.StatePending,
		ManifestID: m.ID,
		Input:      e.Input,
		ClaimedBy:  id.NewWorkerID(),
	}
	won, err := s.DispatchWork(ctx, e.ID, md)
	if err != nil || !won {
		t.Fatalf("DispatchWork: won=%v err=%v", won, err)
	}

	return &fixture{store: s, registry: workflow.NewRegistry(), manifest: m, entry: e, record: md}
}

func TestExecute_Success(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "double", 0)
	ctx := context.Background()

	type in struct {
		N int `json:"n"`
	}
	workflow.Register(f.registry, workflow.NewDefinition("double", func(_ context.Context, input in) (int, error) {
		return input.N * 2, nil
	}))

	exec := dispatcher.NewExecutor(f.store, f.registry, testLogger())
	if err := exec.Execute(ctx, f.record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := f.store.GetMetadata(ctx, f.record.ID)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if got.State != metadata.StateCompleted {
		t.Errorf("state = %s, want completed", got.State)
	}
	if string(got.Output) != "2" {
		t.Errorf("output = %s", got.Output)
	}
	if got.EndTime == nil || got.ClaimExpiresAt != nil {
		t.Error("terminal record must have an end time and no claim")
	}

	// Success advances the manifest's schedule.
	m, _ := f.store.GetManifest(ctx, f.manifest.ID)
	if m.LastSuccessfulRun == nil || !m.LastSuccessfulRun.Equal(*got.EndTime) {
		t.Errorf("LastSuccessfulRun = %v, want %v", m.LastSuccessfulRun, got.EndTime)
	}

	// The entry stays Dispatched, linked to its record; only metadata
	// cleanup removes it.
	e, err := f.store.GetWork(ctx, f.entry.ID)
	if err != nil {
		t.Fatalf("GetWork: %v", err)
	}
	if e.Status != work.StatusDispatched || e.MetadataID.String() != f.record.ID.String() {
		t.Errorf("entry = %s linked to %s, want dispatched linked to %s", e.Status, e.MetadataID, f.record.ID)
	}
}

func TestExecute_Failure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "flaky", 0)
	ctx := context.Background()

	workflow.Register(f.registry, workflow.NewDefinition("flaky", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("upstream 503")
	}))

	exec := dispatcher.NewExecutor(f.store, f.registry, testLogger())
	if err := exec.Execute(ctx, f.record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetMetadata(ctx, f.record.ID)
	if got.State != metadata.StateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
	if got.FailureStep != "execute" {
		t.Errorf("FailureStep = %q", got.FailureStep)
	}
	if got.FailureReason != "upstream 503" {
		t.Errorf("FailureReason = %q", got.FailureReason)
	}
	if got.FailureException == "" {
		t.Error("FailureException should record the error type")
	}

	// Failure never advances the schedule.
	m, _ := f.store.GetManifest(ctx, f.manifest.ID)
	if m.LastSuccessfulRun != nil {
		t.Error("failed run must not advance LastSuccessfulRun")
	}
	if _, err := f.store.GetWork(ctx, f.entry.ID); err != nil {
		t.Errorf("dispatched entry must survive its execution: %v", err)
	}
}

func TestExecute_Cancellation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "slow", 0)

	workflow.Register(f.registry, workflow.NewDefinition("slow", func(ctx context.Context, _ struct{}) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	exec := dispatcher.NewExecutor(f.store, f.registry, testLogger())
	if err := exec.Execute(ctx, f.record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetMetadata(context.Background(), f.record.ID)
	if got.State != metadata.StateCancelled {
		t.Errorf("state = %s, want cancelled", got.State)
	}
	if got.FailureStep != "" {
		t.Errorf("cancelled record must not carry failure detail, got step %q", got.FailureStep)
	}
}

// ctxStrictStore refuses terminal writes on a cancelled context, the
// way a real database driver would.
type ctxStrictStore struct {
	*memory.Store
}

func (s *ctxStrictStore) FinishExecution(ctx context.Context, md *metadata.Metadata, lastSuccessfulRun *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.FinishExecution(ctx, md, lastSuccessfulRun)
}

func TestExecute_CancellationPersistsOnCancelledContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "slow", 0)

	workflow.Register(f.registry, workflow.NewDefinition("slow", func(ctx context.Context, _ struct{}) (struct{}, error) {
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	exec := dispatcher.NewExecutor(&ctxStrictStore{f.store}, f.registry, testLogger())
	if err := exec.Execute(ctx, f.record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetMetadata(context.Background(), f.record.ID)
	if got.State != metadata.StateCancelled {
		t.Errorf("state = %s, want cancelled persisted past the dead context", got.State)
	}
}

func TestExecute_ManifestTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "hang", 20*time.Millisecond)
	ctx := context.Background()

	workflow.Register(f.registry, workflow.NewDefinition("hang", func(ctx context.Context, _ struct{}) (struct{}, error) {
		select {
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return struct{}{}, nil
		}
	}))

	exec := dispatcher.NewExecutor(f.store, f.registry, testLogger())
	if err := exec.Execute(ctx, f.record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// A deadline is a failure, not a cancellation: the budget applies.
	got, _ := f.store.GetMetadata(ctx, f.record.ID)
	if got.State != metadata.StateFailed {
		t.Errorf("state = %s, want failed on timeout", got.State)
	}
}

func TestExecute_UnregisteredWorkflow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "ghost", 0)
	ctx := context.Background()

	exec := dispatcher.NewExecutor(f.store, f.registry, testLogger())
	if err := exec.Execute(ctx, f.record); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, _ := f.store.GetMetadata(ctx, f.record.ID)
	if got.State != metadata.StateFailed {
		t.Errorf("state = %s, want failed", got.State)
	}
	if got.FailureStep != "load" {
		t.Errorf("FailureStep = %q, want load", got.FailureStep)
	}
}

func TestExecute_RefusesNonPendingRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "done", 0)
	ctx := context.Background()

	workflow.Register(f.registry, workflow.NewDefinition("done", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, nil
	}))

	// Another process drove the record to terminal after our claim;
	// the claim-time copy still says Pending.
	stored, err := f.store.GetMetadata(ctx, f.record.ID)
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	stored.State = metadata.StateCompleted
	if err := f.store.UpdateMetadata(ctx, stored); err != nil {
		t.Fatalf("UpdateMetadata: %v", err)
	}

	exec := dispatcher.NewExecutor(f.store, f.registry, testLogger())
	err = exec.Execute(ctx, f.record)
	if !errors.Is(err, manifold.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	// The stored record is untouched.
	got, _ := f.store.GetMetadata(ctx, f.record.ID)
	if got.State != metadata.StateCompleted {
		t.Errorf("state = %s, want the terminal state preserved", got.State)
	}
}

func TestLimiter(t *testing.T) {
	t.Parallel()

	l := dispatcher.NewLimiter(dispatcher.GroupLimit{Group: "etl", RateLimit: 1, RateBurst: 2})

	allowed := 0
	for range 10 {
		if l.Allow("etl") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed = %d, want the burst of 2", allowed)
	}

	// Unlisted groups are unlimited.
	for range 10 {
		if !l.Allow("other") {
			t.Fatal("unlisted group must never be limited")
		}
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcher_ClaimsAndExecutes(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	g := &manifest.Group{Entity: manifold.NewEntity(), ID: id.NewGroupID(), Name: "etl", Enabled: true}
	_ = s.UpsertGroup(ctx, g)
	m := &manifest.Manifest{
		Entity: manifold.NewEntity(), ID: id.NewManifestID(),
		ExternalID: "sync-a", WorkflowName: "noop",
		Schedule: manifest.ScheduleInterval, Interval: time.Minute,
		GroupID: g.ID, Enabled: true,
	}
	_ = s.UpsertManifest(ctx, m)

	e := &work.Entry{
		Entity: manifold.NewEntity(), ID: id.NewWorkID(),
		ManifestID: m.ID, WorkflowName: "noop", Status: work.StatusQueued,
	}
	_ = s.EnqueueWork(ctx, e)

	registry := workflow.NewRegistry()
	workflow.Register(registry, workflow.NewDefinition("noop", func(_ context.Context, _ struct{}) (string, error) {
		return "ok", nil
	}))

	exec := dispatcher.NewExecutor(s, registry, testLogger())
	d := dispatcher.New(s, exec, testLogger(),
		dispatcher.WithInterval(10*time.Millisecond),
		dispatcher.WithShutdownGrace(time.Second),
	)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = d.Stop(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		records, err := s.ListMetadata(ctx, metadata.ListOpts{ManifestID: m.ID, State: metadata.StateCompleted})
		return err == nil && len(records) == 1
	})
}

func TestDispatcher_SkipsDisabledGroup(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	g := &manifest.Group{Entity: manifold.NewEntity(), ID: id.NewGroupID(), Name: "paused", Enabled: false}
	_ = s.UpsertGroup(ctx, g)
	m := &manifest.Manifest{
		Entity: manifold.NewEntity(), ID: id.NewManifestID(),
		ExternalID: "sync-a", WorkflowName: "noop",
		Schedule: manifest.ScheduleInterval, Interval: time.Minute,
		GroupID: g.ID, Enabled: true,
	}
	_ = s.UpsertManifest(ctx, m)
	e := &work.Entry{
		Entity: manifold.NewEntity(), ID: id.NewWorkID(),
		ManifestID: m.ID, WorkflowName: "noop", Status: work.StatusQueued,
	}
	_ = s.EnqueueWork(ctx, e)

	registry := workflow.NewRegistry()
	workflow.Register(registry, workflow.NewDefinition("noop", func(_ context.Context, _ struct{}) (string, error) {
		return "ok", nil
	}))

	exec := dispatcher.NewExecutor(s, registry, testLogger())
	d := dispatcher.New(s, exec, testLogger(),
		dispatcher.WithInterval(10*time.Millisecond),
		dispatcher.WithShutdownGrace(time.Second),
	)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	_ = d.Stop(ctx)

	got, err := s.GetWork(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetWork: %v", err)
	}
	if got.Status != work.StatusQueued {
		t.Errorf("entry in a disabled group must stay queued, got %s", got.Status)
	}
}

func TestDispatcher_RecoversExpiredClaims(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	// A record abandoned by a crashed process: claim long expired,
	// claimed by a worker that is not us.
	stale := time.Now().UTC().Add(-time.Hour)
	orphan := &metadata.Metadata{
		Entity:         manifold.NewEntity(),
		ID:             id.NewMetadataID(),
		Name:           "sync",
		State:          metadata.StateInProgress,
		ClaimedBy:      id.NewWorkerID(),
		ClaimExpiresAt: &stale,
	}
	_ = s.CreateMetadata(ctx, orphan)

	exec := dispatcher.NewExecutor(s, workflow.NewRegistry(), testLogger())
	d := dispatcher.New(s, exec, testLogger(),
		dispatcher.WithInterval(time.Hour), // claim loop quiet
		dispatcher.WithRecoveryInterval(10*time.Millisecond),
		dispatcher.WithShutdownGrace(time.Second),
	)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = d.Stop(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetMetadata(ctx, orphan.ID)
		return err == nil && got.State == metadata.StateFailed && got.FailureStep == "recover"
	})
}

func TestDispatcher_StartupSweepWithPeriodicRecoveryDisabled(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	stale := time.Now().UTC().Add(-time.Hour)
	orphan := &metadata.Metadata{
		Entity:         manifold.NewEntity(),
		ID:             id.NewMetadataID(),
		Name:           "sync",
		State:          metadata.StateInProgress,
		ClaimedBy:      id.NewWorkerID(),
		ClaimExpiresAt: &stale,
	}
	_ = s.CreateMetadata(ctx, orphan)

	exec := dispatcher.NewExecutor(s, workflow.NewRegistry(), testLogger())
	d := dispatcher.New(s, exec, testLogger(),
		dispatcher.WithInterval(time.Hour),
		dispatcher.WithRecoveryInterval(0), // startup sweep only
		dispatcher.WithShutdownGrace(time.Second),
	)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = d.Stop(ctx) }()

	waitFor(t, 2*time.Second, func() bool {
		got, err := s.GetMetadata(ctx, orphan.ID)
		return err == nil && got.State == metadata.StateFailed && got.FailureStep == "recover"
	})
}
