package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/engine"
	"github.com/Theauxm/manifold/manifest"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/store/memory"
	"github.com/Theauxm/manifold/workflow"
)

type syncInput struct {
	Shard int `json:"shard"`
}

func newEngine(t *testing.T) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	c, err := manifold.New(manifold.WithStore(s))
	if err != nil {
		t.Fatalf("manifold.New: %v", err)
	}
	eng, err := engine.Build(c)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return eng, s
}

func registerSync(t *testing.T, eng *engine.Engine) {
	t.Helper()
	engine.RegisterWorkflow(eng, workflow.NewDefinition("sync", func(_ context.Context, in syncInput) (int, error) {
		return in.Shard, nil
	}))
}

func TestBuild_RequiresStore(t *testing.T) {
	t.Parallel()
	c, err := manifold.New()
	if err != nil {
		t.Fatalf("manifold.New: %v", err)
	}
	if _, err := engine.Build(c); !errors.Is(err, manifold.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestSeed_CreatesGroupsAndLinksDependencies(t *testing.T) {
	t.Parallel()
	eng, s := newEngine(t)
	ctx := context.Background()
	registerSync(t, eng)

	if err := engine.RegisterManifest(eng, &manifest.Definition[syncInput]{
		ExternalID:    "extract",
		WorkflowName:  "sync",
		Schedule:      manifest.ScheduleInterval,
		Interval:      time.Hour,
		Group:         "pipeline",
		GroupPriority: 6,
		Input:         syncInput{Shard: 1},
	}); err != nil {
		t.Fatalf("RegisterManifest(extract): %v", err)
	}
	if err := engine.RegisterManifest(eng, &manifest.Definition[syncInput]{
		ExternalID:   "transform",
		WorkflowName: "sync",
		Schedule:     manifest.ScheduleDependent,
		DependsOn:    "extract",
		Group:        "pipeline",
	}); err != nil {
		t.Fatalf("RegisterManifest(transform): %v", err)
	}

	if err := eng.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	g, err := s.GetGroupByName(ctx, "pipeline")
	if err != nil {
		t.Fatalf("GetGroupByName: %v", err)
	}
	if g.Priority != 6 {
		t.Errorf("group priority = %d, want 6", g.Priority)
	}

	parent, err := s.GetManifestByExternalID(ctx, "extract")
	if err != nil {
		t.Fatalf("GetManifestByExternalID(extract): %v", err)
	}
	child, err := s.GetManifestByExternalID(ctx, "transform")
	if err != nil {
		t.Fatalf("GetManifestByExternalID(transform): %v", err)
	}
	if child.DependsOn.String() != parent.ID.String() {
		t.Errorf("DependsOn = %s, want %s", child.DependsOn, parent.ID)
	}
	if string(parent.Input) != `{"shard":1}` {
		t.Errorf("input = %s", parent.Input)
	}
}

func TestSeed_IsIdempotentAndPreservesState(t *testing.T) {
	t.Parallel()
	eng, s := newEngine(t)
	ctx := context.Background()
	registerSync(t, eng)

	def := &manifest.Definition[syncInput]{
		ExternalID:   "extract",
		WorkflowName: "sync",
		Schedule:     manifest.ScheduleInterval,
		Interval:     time.Hour,
	}
	if err := engine.RegisterManifest(eng, def); err != nil {
		t.Fatalf("RegisterManifest: %v", err)
	}
	if err := eng.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	m, _ := s.GetManifestByExternalID(ctx, "extract")
	if err := s.SetManifestEnabled(ctx, m.ID, false); err != nil {
		t.Fatalf("SetManifestEnabled: %v", err)
	}

	if err := eng.Seed(ctx); err != nil {
		t.Fatalf("Seed (again): %v", err)
	}

	got, _ := s.GetManifestByExternalID(ctx, "extract")
	if got.ID.String() != m.ID.String() {
		t.Error("re-seeding must not reissue manifest IDs")
	}
	if got.Enabled {
		t.Error("operator disable must survive re-seeding")
	}
}

func TestSeed_PrunesUndeclared(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	build := func(externalIDs ...string) *engine.Engine {
		c, err := manifold.New(manifold.WithStore(s))
		if err != nil {
			t.Fatalf("manifold.New: %v", err)
		}
		eng, err := engine.Build(c)
		if err != nil {
			t.Fatalf("engine.Build: %v", err)
		}
		registerSync(t, eng)
		for _, ext := range externalIDs {
			if err := engine.RegisterManifest(eng, &manifest.Definition[syncInput]{
				ExternalID:   ext,
				WorkflowName: "sync",
				Schedule:     manifest.ScheduleInterval,
				Interval:     time.Hour,
			}); err != nil {
				t.Fatalf("RegisterManifest(%s): %v", ext, err)
			}
		}
		return eng
	}

	if err := build("a", "b").Seed(ctx); err != nil {
		t.Fatalf("first Seed: %v", err)
	}
	// Next deploy drops "b".
	if err := build("a").Seed(ctx); err != nil {
		t.Fatalf("second Seed: %v", err)
	}

	if _, err := s.GetManifestByExternalID(ctx, "b"); !errors.Is(err, manifold.ErrManifestNotFound) {
		t.Errorf("undeclared manifest must be pruned, got %v", err)
	}
	if _, err := s.GetGroupByName(ctx, "b"); !errors.Is(err, manifold.ErrGroupNotFound) {
		t.Errorf("emptied group must be pruned, got %v", err)
	}
	if _, err := s.GetManifestByExternalID(ctx, "a"); err != nil {
		t.Errorf("declared manifest must survive: %v", err)
	}
}

func TestSeed_RejectsUnregisteredWorkflow(t *testing.T) {
	t.Parallel()
	eng, _ := newEngine(t)

	if err := engine.RegisterManifest(eng, &manifest.Definition[syncInput]{
		ExternalID:   "ghost",
		WorkflowName: "never-registered",
		Schedule:     manifest.ScheduleNone,
	}); err != nil {
		t.Fatalf("RegisterManifest: %v", err)
	}

	err := eng.Seed(context.Background())
	if !errors.Is(err, manifold.ErrWorkflowNotRegistered) {
		t.Fatalf("expected ErrWorkflowNotRegistered, got %v", err)
	}
}

func TestSeed_RejectsCrossGroupCycle(t *testing.T) {
	t.Parallel()
	eng, _ := newEngine(t)
	registerSync(t, eng)

	// a (group g1) depends on b (group g2), b depends on a.
	defs := []*manifest.Definition[syncInput]{
		{ExternalID: "a", WorkflowName: "sync", Schedule: manifest.ScheduleDependent, DependsOn: "b", Group: "g1"},
		{ExternalID: "b", WorkflowName: "sync", Schedule: manifest.ScheduleDependent, DependsOn: "a", Group: "g2"},
	}
	for _, def := range defs {
		if err := engine.RegisterManifest(eng, def); err != nil {
			t.Fatalf("RegisterManifest(%s): %v", def.ExternalID, err)
		}
	}

	err := eng.Seed(context.Background())
	if !errors.Is(err, manifold.ErrDependencyCycle) {
		t.Fatalf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestTrigger(t *testing.T) {
	t.Parallel()
	eng, s := newEngine(t)
	ctx := context.Background()
	registerSync(t, eng)

	if err := engine.RegisterManifest(eng, &manifest.Definition[syncInput]{
		ExternalID:    "manual-job",
		WorkflowName:  "sync",
		Schedule:      manifest.ScheduleNone,
		GroupPriority: 3,
		Input:         syncInput{Shard: 9},
	}); err != nil {
		t.Fatalf("RegisterManifest: %v", err)
	}
	if err := eng.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	entry, err := eng.Trigger(ctx, "manual-job", nil)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if string(entry.Input) != `{"shard":9}` {
		t.Errorf("stored input should be used when none is given, got %s", entry.Input)
	}
	if entry.Priority != 3 {
		t.Errorf("priority = %d, want group priority", entry.Priority)
	}

	// The at-most-one-queued rule applies to manual triggers too.
	if _, err := eng.Trigger(ctx, "manual-job", nil); !errors.Is(err, manifold.ErrAlreadyQueued) {
		t.Errorf("expected ErrAlreadyQueued, got %v", err)
	}

	// Input override.
	if err := s.DeleteWork(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteWork: %v", err)
	}
	entry, err = eng.Trigger(ctx, "manual-job", syncInput{Shard: 42})
	if err != nil {
		t.Fatalf("Trigger (override): %v", err)
	}
	if string(entry.Input) != `{"shard":42}` {
		t.Errorf("override input = %s", entry.Input)
	}
}

func TestTriggerWorkflow_Detached(t *testing.T) {
	t.Parallel()
	eng, s := newEngine(t)
	ctx := context.Background()
	registerSync(t, eng)

	entry, err := eng.TriggerWorkflow(ctx, "sync", syncInput{Shard: 1})
	if err != nil {
		t.Fatalf("TriggerWorkflow: %v", err)
	}
	if !entry.ManifestID.IsNil() {
		t.Error("ad-hoc entry must not reference a manifest")
	}

	// No at-most-one rule for detached entries.
	if _, err := eng.TriggerWorkflow(ctx, "sync", syncInput{Shard: 2}); err != nil {
		t.Errorf("second ad-hoc trigger: %v", err)
	}

	if _, err := eng.TriggerWorkflow(ctx, "missing", nil); !errors.Is(err, manifold.ErrWorkflowNotRegistered) {
		t.Errorf("expected ErrWorkflowNotRegistered, got %v", err)
	}

	entries, _ := s.ListClaimable(ctx, time.Now().UTC(), 0)
	if len(entries) != 2 {
		t.Errorf("got %d claimable entries, want 2", len(entries))
	}
}

func TestEnableDisable(t *testing.T) {
	t.Parallel()
	eng, s := newEngine(t)
	ctx := context.Background()
	registerSync(t, eng)

	if err := engine.RegisterManifest(eng, &manifest.Definition[syncInput]{
		ExternalID:   "sync-a",
		WorkflowName: "sync",
		Schedule:     manifest.ScheduleInterval,
		Interval:     time.Hour,
		Group:        "etl",
	}); err != nil {
		t.Fatalf("RegisterManifest: %v", err)
	}
	if err := eng.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	if err := eng.DisableManifest(ctx, "sync-a"); err != nil {
		t.Fatalf("DisableManifest: %v", err)
	}
	m, _ := s.GetManifestByExternalID(ctx, "sync-a")
	if m.Enabled {
		t.Error("manifest should be disabled")
	}
	if err := eng.EnableManifest(ctx, "sync-a"); err != nil {
		t.Fatalf("EnableManifest: %v", err)
	}
	m, _ = s.GetManifestByExternalID(ctx, "sync-a")
	if !m.Enabled {
		t.Error("manifest should be enabled")
	}

	if err := eng.DisableGroup(ctx, "etl"); err != nil {
		t.Fatalf("DisableGroup: %v", err)
	}
	g, _ := s.GetGroupByName(ctx, "etl")
	if g.Enabled {
		t.Error("group should be disabled")
	}
	if err := eng.EnableGroup(ctx, "etl"); err != nil {
		t.Fatalf("EnableGroup: %v", err)
	}

	if err := eng.DisableManifest(ctx, "missing"); !errors.Is(err, manifold.ErrManifestNotFound) {
		t.Errorf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestManagerCycle_QueuesDueSeededManifest(t *testing.T) {
	t.Parallel()
	eng, s := newEngine(t)
	ctx := context.Background()
	registerSync(t, eng)

	if err := engine.RegisterManifest(eng, &manifest.Definition[syncInput]{
		ExternalID:   "sync-now",
		WorkflowName: "sync",
		Schedule:     manifest.ScheduleInterval,
		Interval:     time.Nanosecond,
		Input:        syncInput{Shard: 7},
	}); err != nil {
		t.Fatalf("RegisterManifest: %v", err)
	}
	if err := eng.Seed(ctx); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	// Drive one manager cycle by hand instead of waiting on the tick
	// loop.
	ran, err := eng.Manager().RunCycle(ctx)
	if err != nil || !ran {
		t.Fatalf("RunCycle: ran=%v err=%v", ran, err)
	}

	entries, err := s.ListClaimable(ctx, time.Now().UTC(), 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ListClaimable: %v (%d entries)", err, len(entries))
	}

	m, _ := s.GetManifestByExternalID(ctx, "sync-now")
	history, err := eng.History(ctx, metadata.ListOpts{ManifestID: m.ID})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("no executions expected before dispatch, got %d", len(history))
	}
}
