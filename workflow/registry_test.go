package workflow_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Theauxm/manifold"
	"github.com/Theauxm/manifold/workflow"
)

type greetInput struct {
	Name string `json:"name"`
}

type greetOutput struct {
	Message string `json:"message"`
}

func TestRegisterAndGet(t *testing.T) {
	t.Parallel()
	r := workflow.NewRegistry()

	def := workflow.NewDefinition("greet", func(_ context.Context, in greetInput) (greetOutput, error) {
		return greetOutput{Message: "hello " + in.Name}, nil
	})
	workflow.Register(r, def)

	handler, err := r.Get("greet")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	out, err := handler(context.Background(), []byte(`{"name":"ada"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if string(out) != `{"message":"hello ada"}` {
		t.Errorf("output = %s", out)
	}
}

func TestGet_NotRegistered(t *testing.T) {
	t.Parallel()
	r := workflow.NewRegistry()

	_, err := r.Get("missing")
	if !errors.Is(err, manifold.ErrWorkflowNotRegistered) {
		t.Fatalf("expected ErrWorkflowNotRegistered, got %v", err)
	}
}

func TestHandler_EmptyInputSkipsUnmarshal(t *testing.T) {
	t.Parallel()
	r := workflow.NewRegistry()

	workflow.Register(r, workflow.NewDefinition("zero", func(_ context.Context, in greetInput) (string, error) {
		if in.Name != "" {
			return "", errors.New("expected zero input")
		}
		return "ok", nil
	}))

	handler, err := r.Get("zero")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, err := handler(context.Background(), nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if string(out) != `"ok"` {
		t.Errorf("output = %s", out)
	}
}

func TestHandler_MalformedInput(t *testing.T) {
	t.Parallel()
	r := workflow.NewRegistry()

	workflow.Register(r, workflow.NewDefinition("strict", func(_ context.Context, _ greetInput) (string, error) {
		return "never", nil
	}))

	handler, _ := r.Get("strict")
	_, err := handler(context.Background(), []byte(`{not json`))
	if err == nil {
		t.Fatal("expected unmarshal error")
	}
	if !strings.Contains(err.Error(), "strict") {
		t.Errorf("error should name the workflow: %v", err)
	}
}

func TestHandler_ErrorPassthrough(t *testing.T) {
	t.Parallel()
	r := workflow.NewRegistry()

	boom := errors.New("downstream unavailable")
	workflow.Register(r, workflow.NewDefinition("flaky", func(_ context.Context, _ greetInput) (string, error) {
		return "", boom
	}))

	handler, _ := r.Get("flaky")
	_, err := handler(context.Background(), []byte(`{}`))
	if !errors.Is(err, boom) {
		t.Fatalf("expected handler error to pass through, got %v", err)
	}
}

func TestRegisterFunc(t *testing.T) {
	t.Parallel()
	r := workflow.NewRegistry()

	r.RegisterFunc("raw", func(_ context.Context, input []byte) ([]byte, error) {
		return input, nil
	})

	handler, err := r.Get("raw")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	out, err := handler(context.Background(), []byte("passthrough"))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	if string(out) != "passthrough" {
		t.Errorf("output = %s", out)
	}
}

func TestHasAndNames(t *testing.T) {
	t.Parallel()
	r := workflow.NewRegistry()

	r.RegisterFunc("b", func(_ context.Context, _ []byte) ([]byte, error) { return nil, nil })
	r.RegisterFunc("a", func(_ context.Context, _ []byte) ([]byte, error) { return nil, nil })

	if !r.Has("a") || !r.Has("b") {
		t.Error("Has should report registered workflows")
	}
	if r.Has("c") {
		t.Error("Has reported an unregistered workflow")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want sorted [a b]", names)
	}
}
