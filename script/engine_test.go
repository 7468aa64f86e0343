package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/scriptrun/tools"
	"github.com/jonwraymond/scriptrun/worker"
	"github.com/jonwraymond/scriptrun/worker/mock"
)

// countingRunner wraps a Registry and counts invocations per tool.
type countingRunner struct {
	registry *tools.Registry

	mu    sync.Mutex
	calls map[string]int
}

func newCountingRunner(t *testing.T) *countingRunner {
	t.Helper()
	r := &countingRunner{registry: tools.NewRegistry(), calls: make(map[string]int)}
	for _, name := range []string{"send_message", "delete_account", "get_weather"} {
		name := name
		if err := r.registry.Register(name, func(_ context.Context, _ map[string]any) (any, error) {
			return name + ":ok", nil
		}); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	return r
}

func (r *countingRunner) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.Lock()
	r.calls[name]++
	r.mu.Unlock()
	return r.registry.Invoke(ctx, name, args)
}

func (r *countingRunner) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[name]
}

func (r *countingRunner) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

func newTestEngine(t *testing.T, backend worker.Backend, runner tools.Runner, limits Limits) *Engine {
	t.Helper()
	engine, err := NewEngine(Options{Backend: backend, Runner: runner, Limits: limits})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

func TestEngine_AllowListStopsAtFirstDenial(t *testing.T) {
	runner := newCountingRunner(t)
	backend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"notify-then-delete": func(ctx context.Context, env mock.Env) (any, error) {
			if _, err := env.Call(ctx, "send_message", map[string]any{"to": "ops"}); err != nil {
				return nil, err
			}
			if _, err := env.Call(ctx, "delete_account", map[string]any{"id": "42"}); err != nil {
				return nil, err
			}
			return "unreachable", nil
		},
	}})
	engine := newTestEngine(t, backend, runner, Limits{})

	res, err := engine.Run(context.Background(), Request{
		Payload: worker.Payload{Source: "notify-then-delete"},
		Config:  NewConfig(WithAllowedTools("send_message")),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Outcome != OutcomeToolDenied {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeToolDenied)
	}
	if runner.count("send_message") != 1 {
		t.Errorf("send_message invoked %d times, want 1", runner.count("send_message"))
	}
	if runner.count("delete_account") != 0 {
		t.Errorf("delete_account invoked %d times, want 0", runner.count("delete_account"))
	}
	if len(res.ToolCalls) != 2 {
		t.Fatalf("ToolCalls has %d records, want 2", len(res.ToolCalls))
	}
	if !res.ToolCalls[0].Allowed || res.ToolCalls[1].Allowed {
		t.Errorf("ToolCalls = %+v, want [allowed denied]", res.ToolCalls)
	}
	if !strings.Contains(res.Error, "delete_account") {
		t.Errorf("Error = %q, want mention of the denied tool", res.Error)
	}
}

func TestEngine_DenyAllToolsZeroInvocations(t *testing.T) {
	runner := newCountingRunner(t)
	backend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"call-weather": func(ctx context.Context, env mock.Env) (any, error) {
			return env.Call(ctx, "get_weather", nil)
		},
	}})
	engine := newTestEngine(t, backend, runner, Limits{})

	res, err := engine.Run(context.Background(), Request{
		Payload: worker.Payload{Source: "call-weather"},
		Config:  NewConfig(WithDenyAllTools()),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Outcome != OutcomeToolDenied {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeToolDenied)
	}
	if runner.total() != 0 {
		t.Errorf("runner invoked %d times under deny-all, want 0", runner.total())
	}
}

func TestEngine_TimeoutWinsOverSleep(t *testing.T) {
	backend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"sleeper": func(ctx context.Context, _ mock.Env) (any, error) {
			select {
			case <-time.After(10 * time.Second):
				return "woke up", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}})
	engine := newTestEngine(t, backend, nil, Limits{})

	start := time.Now()
	res, err := engine.Run(context.Background(), Request{
		Payload: worker.Payload{Source: "sleeper"},
		Config:  NewConfig(WithMaxExecutionTime(50 * time.Millisecond)),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Outcome != OutcomeTimedOut {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeTimedOut)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v, should be bounded by the budget", elapsed)
	}

	// The timed-out unit was still torn down before Run returned.
	teardowns := backend.Teardowns()
	if len(teardowns) != 1 {
		t.Fatalf("got %d torn-down units after timeout, want 1", len(teardowns))
	}
	for id, n := range teardowns {
		if n != 1 {
			t.Errorf("unit %s torn down %d times, want 1", id, n)
		}
	}
}

func TestEngine_Success(t *testing.T) {
	backend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"literal": func(_ context.Context, env mock.Env) (any, error) {
			env.Print("computing")
			return 42, nil
		},
	}})
	engine := newTestEngine(t, backend, nil, Limits{})

	res, err := engine.Run(context.Background(), Request{
		Payload: worker.Payload{Source: "literal"},
		Config:  NewConfig(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %s, want %s (error: %s)", res.Outcome, OutcomeSuccess, res.Error)
	}
	if res.Value != 42 {
		t.Errorf("Value = %v, want 42", res.Value)
	}
	if res.Stdout != "computing\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "computing\n")
	}
	if res.ID == "" {
		t.Error("ID not assigned")
	}
	if res.Error != "" {
		t.Errorf("Error = %q, want empty on success", res.Error)
	}
}

func TestEngine_ScriptFault(t *testing.T) {
	backend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"boom": func(_ context.Context, _ mock.Env) (any, error) {
			return nil, fmt.Errorf("division by zero")
		},
	}})
	engine := newTestEngine(t, backend, nil, Limits{})

	res, err := engine.Run(context.Background(), Request{
		Payload: worker.Payload{Source: "boom"},
		Config:  NewConfig(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeScriptFault {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeScriptFault)
	}
	if !strings.Contains(res.Error, "division by zero") {
		t.Errorf("Error = %q, want the script's message", res.Error)
	}
}

func TestEngine_BackendFault(t *testing.T) {
	backend := mock.New(mock.Config{ProvisionErr: errors.New("no capacity on host")})
	engine := newTestEngine(t, backend, nil, Limits{})

	res, err := engine.Run(context.Background(), Request{
		Payload: worker.Payload{Source: "anything"},
		Config:  NewConfig(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeBackendFault {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeBackendFault)
	}
}

func TestEngine_Cancelled(t *testing.T) {
	started := make(chan struct{})
	backend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"waiter": func(ctx context.Context, _ mock.Env) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}})
	engine := newTestEngine(t, backend, nil, Limits{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	res, err := engine.Run(ctx, Request{
		Payload: worker.Payload{Source: "waiter"},
		Config:  NewConfig(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeCancelled)
	}
}

func TestEngine_SelectsBackendByName(t *testing.T) {
	defaultBackend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"which": func(_ context.Context, _ mock.Env) (any, error) { return "default", nil },
	}})
	altBackend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"which": func(_ context.Context, _ mock.Env) (any, error) { return "alt", nil },
	}})

	backends := worker.NewRegistry()
	if err := backends.Register("alt", altBackend); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	engine, err := NewEngine(Options{Backend: defaultBackend, Registry: backends})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	ctx := context.Background()

	res, err := engine.Run(ctx, Request{
		Payload: worker.Payload{Source: "which"},
		Config:  NewConfig(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Value != "default" {
		t.Errorf("Value = %v without a backend name, want default", res.Value)
	}

	res, err = engine.Run(ctx, Request{
		Payload: worker.Payload{Source: "which"},
		Config:  NewConfig(),
		Backend: "alt",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Value != "alt" {
		t.Errorf("Value = %v for named backend, want alt", res.Value)
	}

	_, err = engine.Run(ctx, Request{
		Payload: worker.Payload{Source: "which"},
		Config:  NewConfig(),
		Backend: "missing",
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Run() error = %v for unknown backend, want ErrConfiguration", err)
	}
	if !errors.Is(err, worker.ErrBackendNotFound) {
		t.Errorf("Run() error = %v, want wrapped ErrBackendNotFound", err)
	}
}

func TestEngine_NamedBackendWithoutRegistry(t *testing.T) {
	backend := mock.New(mock.Config{})
	engine := newTestEngine(t, backend, nil, Limits{})

	_, err := engine.Run(context.Background(), Request{
		Payload: worker.Payload{Source: "x"},
		Config:  NewConfig(),
		Backend: "anything",
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Run() error = %v, want ErrConfiguration", err)
	}
}

func TestEngine_SpecOverride(t *testing.T) {
	backend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"noop": func(_ context.Context, _ mock.Env) (any, error) { return nil, nil },
	}})
	engine := newTestEngine(t, backend, nil, Limits{})
	ctx := context.Background()

	res, err := engine.Run(ctx, Request{
		Payload: worker.Payload{Source: "noop"},
		Config:  NewConfig(),
		Spec:    &worker.Spec{Labels: map[string]string{"tenant": "a"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Outcome != OutcomeSuccess {
		t.Errorf("Outcome = %s, want %s", res.Outcome, OutcomeSuccess)
	}

	// An invalid override is rejected before any unit is provisioned.
	_, err = engine.Run(ctx, Request{
		Payload: worker.Payload{Source: "noop"},
		Config:  NewConfig(),
		Spec:    &worker.Spec{Privileged: true},
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Run() error = %v for invalid spec, want ErrConfiguration", err)
	}
	if len(backend.Teardowns()) != 1 {
		t.Errorf("rejected request touched the backend: teardowns = %v", backend.Teardowns())
	}
}

func TestEngine_InvalidConfigRejected(t *testing.T) {
	backend := mock.New(mock.Config{})
	engine := newTestEngine(t, backend, nil, Limits{})

	_, err := engine.Run(context.Background(), Request{
		Payload: worker.Payload{Source: "x"},
		Config:  Config{MaxExecutionTime: -1},
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Run() error = %v, want ErrConfiguration", err)
	}
}

func TestEngine_CapacityRejection(t *testing.T) {
	release := make(chan struct{})
	backend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"blocker": func(ctx context.Context, _ mock.Env) (any, error) {
			select {
			case <-release:
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}})
	engine := newTestEngine(t, backend, nil, Limits{MaxConcurrent: 1, MaxQueue: 1})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = engine.Run(ctx, Request{
				Payload: worker.Payload{Source: "blocker"},
				Config:  NewConfig(),
			})
		}()
	}

	// Wait until one execution runs and one waits.
	waitFor(t, func() bool {
		s := engine.Stats()
		return s.Running == 1 && s.Queued == 1
	})

	_, err := engine.Run(ctx, Request{
		Payload: worker.Payload{Source: "blocker"},
		Config:  NewConfig(),
	})
	if !errors.Is(err, ErrCapacity) {
		t.Errorf("Run() error = %v, want ErrCapacity", err)
	}

	close(release)
	wg.Wait()
}

func TestEngine_TeardownRunsOncePerExecution(t *testing.T) {
	backend := mock.New(mock.Config{Programs: map[string]mock.Program{
		"ok":   func(_ context.Context, _ mock.Env) (any, error) { return nil, nil },
		"fail": func(_ context.Context, _ mock.Env) (any, error) { return nil, errors.New("bad") },
	}})
	engine := newTestEngine(t, backend, nil, Limits{})
	ctx := context.Background()

	for _, source := range []string{"ok", "fail"} {
		if _, err := engine.Run(ctx, Request{
			Payload: worker.Payload{Source: source},
			Config:  NewConfig(),
		}); err != nil {
			t.Fatalf("Run(%s) error = %v", source, err)
		}
	}

	// Every admitted execution tears its unit down exactly once,
	// regardless of outcome.
	teardowns := backend.Teardowns()
	if len(teardowns) != 2 {
		t.Fatalf("got %d torn-down units, want 2", len(teardowns))
	}
	for id, n := range teardowns {
		if n != 1 {
			t.Errorf("unit %s torn down %d times, want 1", id, n)
		}
	}
}
