package cleanup_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/cleanup"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/metadata"
	"github.com/Theauxm/manifold/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func record(name string, state metadata.State, age time.Duration) *metadata.Metadata {
	created := time.Now().UTC().Add(-age)
	end := created.Add(time.Minute)
	md := &metadata.Metadata{
		Entity:    manifold.Entity{CreatedAt: created, UpdatedAt: end},
		ID:        id.NewMetadataID(),
		Name:      name,
		State:     state,
		StartTime: created,
	}
	if state.Terminal() {
		md.EndTime = &end
	}
	return md
}

func TestPrune_RespectsRetentionAndState(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	oldDone := record("sync", metadata.StateCompleted, 48*time.Hour)
	oldFailed := record("sync", metadata.StateFailed, 48*time.Hour)
	oldActive := record("sync", metadata.StateInProgress, 48*time.Hour)
	freshDone := record("sync", metadata.StateCompleted, time.Hour)
	for _, md := range []*metadata.Metadata{oldDone, oldFailed, oldActive, freshDone} {
		if err := s.CreateMetadata(ctx, md); err != nil {
			t.Fatalf("CreateMetadata: %v", err)
		}
	}

	c := cleanup.New(s, testLogger(), cleanup.WithRetention(24*time.Hour))
	c.Prune(ctx)

	for _, md := range []*metadata.Metadata{oldDone, oldFailed} {
		if _, err := s.GetMetadata(ctx, md.ID); !errors.Is(err, manifold.ErrMetadataNotFound) {
			t.Errorf("old terminal record %s should be pruned, got %v", md.ID, err)
		}
	}
	if _, err := s.GetMetadata(ctx, oldActive.ID); err != nil {
		t.Errorf("active record must survive: %v", err)
	}
	if _, err := s.GetMetadata(ctx, freshDone.ID); err != nil {
		t.Errorf("record inside retention must survive: %v", err)
	}
}

func TestPrune_WorkflowFilter(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	noisy := record("heartbeat", metadata.StateCompleted, 48*time.Hour)
	audit := record("audit", metadata.StateCompleted, 48*time.Hour)
	_ = s.CreateMetadata(ctx, noisy)
	_ = s.CreateMetadata(ctx, audit)

	c := cleanup.New(s, testLogger(),
		cleanup.WithRetention(24*time.Hour),
		cleanup.WithWorkflows("heartbeat"),
	)
	c.Prune(ctx)

	if _, err := s.GetMetadata(ctx, noisy.ID); !errors.Is(err, manifold.ErrMetadataNotFound) {
		t.Errorf("filtered workflow should be pruned, got %v", err)
	}
	if _, err := s.GetMetadata(ctx, audit.ID); err != nil {
		t.Errorf("workflow outside the filter must survive: %v", err)
	}
}

func TestStartStop_DisabledWhenZeroInterval(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	c := cleanup.New(s, testLogger(), cleanup.WithInterval(0))
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
