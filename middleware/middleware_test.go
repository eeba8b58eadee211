package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/id"
	"github.com/Theauxm/manifold/metadata"
	mw "github.com/Theauxm/manifold/middleware"
)

func newTestRecord() *metadata.Metadata {
	return &metadata.Metadata{
		Entity: manifold.NewEntity(),
		ID:     id.NewMetadataID(),
		Name:   "send-report",
		State:  metadata.StateInProgress,
		Input:  []byte(`{"to":"ops"}`),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChain_Order(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) mw.Middleware {
		return func(ctx context.Context, _ *metadata.Metadata, next mw.Handler) ([]byte, error) {
			order = append(order, name+":in")
			out, err := next(ctx)
			order = append(order, name+":out")
			return out, err
		}
	}

	chain := mw.Chain(tag("outer"), tag("inner"))
	out, err := chain(context.Background(), newTestRecord(), func(_ context.Context) ([]byte, error) {
		order = append(order, "handler")
		return []byte("done"), nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if string(out) != "done" {
		t.Errorf("output = %s", out)
	}

	want := []string{"outer:in", "inner:in", "handler", "inner:out", "outer:out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	t.Parallel()

	chain := mw.Chain()
	out, err := chain(context.Background(), newTestRecord(), func(_ context.Context) ([]byte, error) {
		return []byte("bare"), nil
	})
	if err != nil {
		t.Fatalf("empty chain: %v", err)
	}
	if string(out) != "bare" {
		t.Errorf("output = %s", out)
	}
}

func TestRecover_ConvertsPanicToError(t *testing.T) {
	t.Parallel()

	m := mw.Recover(discardLogger())
	md := newTestRecord()

	out, err := m(context.Background(), md, func(_ context.Context) ([]byte, error) {
		panic("nil map write")
	})
	if out != nil {
		t.Errorf("output should be nil after panic, got %s", out)
	}
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if !strings.Contains(err.Error(), "send-report") {
		t.Errorf("error should name the workflow: %v", err)
	}
	if !strings.Contains(err.Error(), "nil map write") {
		t.Errorf("error should carry the panic value: %v", err)
	}
}

func TestRecover_PassesThroughNormally(t *testing.T) {
	t.Parallel()

	m := mw.Recover(discardLogger())
	out, err := m(context.Background(), newTestRecord(), func(_ context.Context) ([]byte, error) {
		return []byte("fine"), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "fine" {
		t.Errorf("output = %s", out)
	}
}

func TestTimeout_EnforcesDeadline(t *testing.T) {
	t.Parallel()

	m := mw.Timeout(20 * time.Millisecond)
	_, err := m(context.Background(), newTestRecord(), func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return []byte("too late"), nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroMeansNoDeadline(t *testing.T) {
	t.Parallel()

	m := mw.Timeout(0)
	_, err := m(context.Background(), newTestRecord(), func(ctx context.Context) ([]byte, error) {
		if _, set := ctx.Deadline(); set {
			return nil, errors.New("unexpected deadline")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	t.Parallel()

	m := mw.Logging(discardLogger())
	boom := errors.New("boom")

	_, err := m(context.Background(), newTestRecord(), func(_ context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("logging must not swallow errors, got %v", err)
	}

	out, err := m(context.Background(), newTestRecord(), func(_ context.Context) ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(out) != "ok" {
		t.Fatalf("got (%s, %v)", out, err)
	}
}
