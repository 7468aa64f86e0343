// Package mock provides an in-process worker backend for tests and
// trusted local runs. Units are allocated instantly and never fail
// unless a failure is intentionally simulated through Config.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonwraymond/scriptrun/worker"
)

// Errors for mock backend operations.
var (
	// ErrProgramNotFound is returned when no program is registered for
	// a payload source.
	ErrProgramNotFound = errors.New("program not found")
)

// Env is the capability surface a mock program sees. Every call routes
// through the host interceptor, so gating behaves exactly as it does
// for out-of-process backends.
type Env interface {
	// Call invokes a host tool.
	Call(ctx context.Context, tool string, args map[string]any) (any, error)

	// API invokes a builtin helper such as "time.now" or "json.encode".
	API(ctx context.Context, name string, args map[string]any) (any, error)

	// Print emits script print output.
	Print(args ...any)

	// Debug emits a script debug line.
	Debug(msg string)
}

// Program is an in-process script body. The payload's Source selects
// which registered program runs.
type Program func(ctx context.Context, env Env) (any, error)

// Config configures a mock backend.
type Config struct {
	// Programs maps payload sources to program functions.
	Programs map[string]Program

	// ProvisionErr, when set, makes every Provision fail with it.
	ProvisionErr error

	// ProvisionDelay simulates slow provisioning.
	ProvisionDelay time.Duration

	// Logger is an optional logger for backend events.
	Logger *zap.Logger
}

// Backend is the in-process worker backend.
type Backend struct {
	mu           sync.Mutex
	programs     map[string]Program
	provisionErr error
	delay        time.Duration
	logger       *zap.Logger
	teardowns    map[string]int
}

// New creates a mock backend with the given configuration.
func New(cfg Config) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	programs := make(map[string]Program, len(cfg.Programs))
	for name, p := range cfg.Programs {
		programs[name] = p
	}
	return &Backend{
		programs:     programs,
		provisionErr: cfg.ProvisionErr,
		delay:        cfg.ProvisionDelay,
		logger:       logger,
		teardowns:    make(map[string]int),
	}
}

// RegisterProgram adds or replaces a program.
func (b *Backend) RegisterProgram(source string, p Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.programs[source] = p
}

// TeardownCount reports how many times Teardown ran for the unit.
func (b *Backend) TeardownCount(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.teardowns[id]
}

// Teardowns returns a snapshot of per-unit teardown counts.
func (b *Backend) Teardowns() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int, len(b.teardowns))
	for id, n := range b.teardowns {
		out[id] = n
	}
	return out
}

// Kind returns the backend kind identifier.
func (b *Backend) Kind() worker.Kind {
	return worker.KindMock
}

type handle struct {
	id string
	lc *worker.Lifecycle
}

func (h *handle) ID() string          { return h.id }
func (h *handle) State() worker.State { return h.lc.State() }

// Provision allocates an in-process stub.
func (b *Backend) Provision(ctx context.Context, spec worker.Spec) (worker.Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, worker.Fault("provision", err)
	}

	h := &handle{id: uuid.NewString(), lc: worker.NewLifecycle()}
	if err := h.lc.Advance(worker.StateProvisioning); err != nil {
		return nil, err
	}

	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			_ = h.lc.Advance(worker.StateCancelled)
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	provisionErr := b.provisionErr
	b.mu.Unlock()
	if provisionErr != nil {
		_ = h.lc.Advance(worker.StateFailed)
		return nil, worker.Fault("provision", provisionErr)
	}

	if err := h.lc.Advance(worker.StateReady); err != nil {
		return nil, err
	}
	return h, nil
}

// Execute runs the program registered for the payload source.
func (b *Backend) Execute(ctx context.Context, wh worker.Handle, payload worker.Payload, inv worker.Invoker) (worker.Output, error) {
	h, err := b.own(wh)
	if err != nil {
		return worker.Output{}, err
	}
	if err := h.lc.Advance(worker.StateRunning); err != nil {
		return worker.Output{}, err
	}

	b.mu.Lock()
	program, ok := b.programs[payload.Source]
	b.mu.Unlock()
	if !ok {
		_ = h.lc.Advance(worker.StateFailed)
		return worker.Output{}, fmt.Errorf("%w: %q", ErrProgramNotFound, payload.Source)
	}

	start := time.Now()
	type progResult struct {
		value any
		err   error
	}
	done := make(chan progResult, 1)
	go func() {
		value, err := program(ctx, &env{inv: inv})
		done <- progResult{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		_ = h.lc.Advance(worker.StateCancelled)
		return worker.Output{}, ctx.Err()
	case r := <-done:
		if r.err != nil {
			_ = h.lc.Advance(worker.StateFailed)
			return worker.Output{}, r.err
		}
		if err := h.lc.Advance(worker.StateCompleted); err != nil {
			return worker.Output{}, err
		}
		return worker.Output{Value: r.value, Duration: time.Since(start)}, nil
	}
}

// Teardown releases the stub. Idempotent.
func (b *Backend) Teardown(_ context.Context, wh worker.Handle) error {
	h, err := b.own(wh)
	if err != nil {
		return err
	}
	if h.lc.Terminal() {
		return nil
	}
	if err := h.lc.Advance(worker.StateTornDown); err != nil {
		return err
	}
	b.mu.Lock()
	b.teardowns[h.id]++
	b.mu.Unlock()
	return nil
}

func (b *Backend) own(wh worker.Handle) (*handle, error) {
	if wh == nil {
		return nil, worker.ErrNilHandle
	}
	h, ok := wh.(*handle)
	if !ok {
		return nil, worker.ErrWrongHandle
	}
	return h, nil
}

var _ worker.Backend = (*Backend)(nil)

// env adapts the host Invoker to the program-facing Env surface.
type env struct {
	inv worker.Invoker
}

func (e *env) Call(ctx context.Context, tool string, args map[string]any) (any, error) {
	return e.inv.Invoke(ctx, tool, args)
}

func (e *env) API(ctx context.Context, name string, args map[string]any) (any, error) {
	return e.inv.InvokeAPI(ctx, name, args)
}

func (e *env) Print(args ...any) { e.inv.Print(args...) }

func (e *env) Debug(msg string) { e.inv.Debug(msg) }
