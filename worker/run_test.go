package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// fakeBackend scripts the backend contract for Run tests.
type fakeBackend struct {
	provisionErr error
	executeErr   error
	output       Output

	mu        sync.Mutex
	teardowns int
}

func (f *fakeBackend) Kind() Kind { return KindMock }

func (f *fakeBackend) Provision(_ context.Context, _ Spec) (Handle, error) {
	if f.provisionErr != nil {
		return nil, f.provisionErr
	}
	return &fakeHandle{id: "unit-1"}, nil
}

func (f *fakeBackend) Execute(_ context.Context, _ Handle, _ Payload, _ Invoker) (Output, error) {
	return f.output, f.executeErr
}

func (f *fakeBackend) Teardown(_ context.Context, _ Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
	return nil
}

func (f *fakeBackend) teardownCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teardowns
}

type fakeHandle struct{ id string }

func (h *fakeHandle) ID() string   { return h.id }
func (h *fakeHandle) State() State { return StateReady }

type nopInvoker struct{}

func (nopInvoker) Invoke(_ context.Context, _ string, _ map[string]any) (any, error)    { return nil, nil }
func (nopInvoker) InvokeAPI(_ context.Context, _ string, _ map[string]any) (any, error) { return nil, nil }
func (nopInvoker) Print(_ ...any)                                                       {}
func (nopInvoker) Debug(_ string)                                                       {}

func TestRun_Success(t *testing.T) {
	b := &fakeBackend{output: Output{Value: "ok"}}

	out, err := Run(context.Background(), b, Spec{}, Payload{}, nopInvoker{}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Value != "ok" {
		t.Errorf("Value = %v, want ok", out.Value)
	}
	if b.teardownCount() != 1 {
		t.Errorf("teardowns = %d, want 1", b.teardownCount())
	}
}

func TestRun_TeardownOnExecuteError(t *testing.T) {
	wantErr := errors.New("script exploded")
	b := &fakeBackend{executeErr: wantErr}

	_, err := Run(context.Background(), b, Spec{}, Payload{}, nopInvoker{}, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run() error = %v, want the execute error unchanged", err)
	}
	if b.teardownCount() != 1 {
		t.Errorf("teardowns = %d, want 1", b.teardownCount())
	}
}

func TestRun_ProvisionFailureIsFault(t *testing.T) {
	b := &fakeBackend{provisionErr: errors.New("out of hosts")}

	_, err := Run(context.Background(), b, Spec{}, Payload{}, nopInvoker{}, nil)
	if !errors.Is(err, ErrFault) {
		t.Fatalf("Run() error = %v, want ErrFault", err)
	}
	if b.teardownCount() != 0 {
		t.Errorf("teardowns = %d after provision failure, want 0", b.teardownCount())
	}
}

func TestRun_ProvisionFaultNotDoubleWrapped(t *testing.T) {
	inner := Fault("provision", errors.New("quota"))
	b := &fakeBackend{provisionErr: inner}

	_, err := Run(context.Background(), b, Spec{}, Payload{}, nopInvoker{}, nil)
	if !errors.Is(err, ErrFault) {
		t.Fatalf("Run() error = %v, want ErrFault", err)
	}
	if !errors.Is(err, inner) {
		t.Errorf("Run() error = %v, want the original fault unchanged", err)
	}
}

func TestRun_TeardownOnCancelledContext(t *testing.T) {
	b := &fakeBackend{executeErr: context.Canceled}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, b, Spec{}, Payload{}, nopInvoker{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	// Teardown still runs under its own budget after cancellation.
	if b.teardownCount() != 1 {
		t.Errorf("teardowns = %d, want 1", b.teardownCount())
	}
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()
	b := &fakeBackend{}

	if err := registry.Register("mock", b); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := registry.Register("mock", b); !errors.Is(err, ErrBackendExists) {
		t.Errorf("Register() duplicate error = %v, want ErrBackendExists", err)
	}

	got, err := registry.Get("mock")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != b {
		t.Error("Get() returned a different backend")
	}

	if _, err := registry.Get("missing"); !errors.Is(err, ErrBackendNotFound) {
		t.Errorf("Get() error = %v, want ErrBackendNotFound", err)
	}

	if names := registry.Names(); len(names) != 1 || names[0] != "mock" {
		t.Errorf("Names() = %v, want [mock]", names)
	}
}
