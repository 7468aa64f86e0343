package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Kind identifies a backend variant.
type Kind string

// Known backend kinds.
const (
	KindMock         Kind = "mock"
	KindContainer    Kind = "container"
	KindOrchestrated Kind = "orchestrated"
)

// Common errors for worker operations.
var (
	// ErrFault marks infrastructure failures (provisioning, crashed
	// units, scheduling errors) as opposed to failures of the script
	// itself. Match with errors.Is.
	ErrFault = errors.New("worker fault")

	// ErrNilHandle is returned when an operation receives a nil handle.
	ErrNilHandle = errors.New("nil worker handle")

	// ErrWrongHandle is returned when a handle is passed to a backend
	// that did not create it.
	ErrWrongHandle = errors.New("handle not owned by this backend")
)

// Payload is the script work delivered to an execution unit. The
// contents are opaque to this package; the unit's script engine
// interprets them.
type Payload struct {
	// Source is the script body.
	Source string

	// Language identifies the script language for the unit's engine.
	Language string

	// Env provides script-visible environment values.
	Env map[string]string
}

// Output is what an execution unit reports back on completion.
type Output struct {
	// Value is the script's final result value, if any.
	Value any

	// Stdout is output captured inside the unit.
	Stdout string

	// Stderr is error output captured inside the unit.
	Stderr string

	// Duration is the unit-reported execution time.
	Duration time.Duration
}

// Invoker routes a running script's host-facing calls back to the
// caller: tool calls, builtin API calls, and diagnostics. Backends must
// dispatch calls sequentially, in the order the script issues them.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Invoke and InvokeAPI must honor cancellation/deadlines.
// - Errors: an error from Invoke is terminal for the execution; the
//   backend must stop the unit and propagate the error unchanged.
type Invoker interface {
	// Invoke performs one gated tool call.
	Invoke(ctx context.Context, tool string, args map[string]any) (any, error)

	// InvokeAPI performs one builtin (non-tool) API call, such as a
	// time or JSON helper.
	InvokeAPI(ctx context.Context, name string, args map[string]any) (any, error)

	// Print records script print output.
	Print(args ...any)

	// Debug records a script debug line.
	Debug(msg string)
}

// Handle is the live, backend-specific representation of one isolated
// execution unit. Handles are created by Provision, driven by Execute,
// and released by Teardown; they are never shared across executions.
type Handle interface {
	// ID uniquely identifies the unit.
	ID() string

	// State reports the unit's current lifecycle state.
	State() State
}

// Backend provides isolated execution units behind the uniform
// lifecycle contract.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: Execute must stop the unit within the spec's grace period
//   when the context is cancelled, escalating to forced termination
//   rather than waiting indefinitely.
// - Errors: infrastructure failures must match ErrFault via errors.Is;
//   errors returned by the Invoker must propagate unchanged.
// - Ownership: a Handle belongs to exactly one execution; Teardown must
//   be idempotent.
type Backend interface {
	// Kind returns the backend variant identifier.
	Kind() Kind

	// Provision allocates one isolated execution unit. On failure the
	// backend cleans up any partially created resources itself.
	Provision(ctx context.Context, spec Spec) (Handle, error)

	// Execute runs the payload inside the unit, routing every tool call
	// through inv.
	Execute(ctx context.Context, h Handle, payload Payload, inv Invoker) (Output, error)

	// Teardown releases all resources held by the unit. Safe to call
	// more than once; later calls are no-ops.
	Teardown(ctx context.Context, h Handle) error
}

// FaultError wraps an infrastructure failure with the operation that
// produced it. It matches ErrFault via errors.Is.
type FaultError struct {
	Op  string
	Err error
}

// Error returns the operation and underlying failure.
func (e *FaultError) Error() string {
	return fmt.Sprintf("worker %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *FaultError) Unwrap() error { return e.Err }

// Is reports whether this error matches ErrFault.
func (e *FaultError) Is(target error) bool { return target == ErrFault }

// Fault wraps err as an infrastructure fault for the named operation.
func Fault(op string, err error) error {
	return &FaultError{Op: op, Err: err}
}

// Run executes one payload through its full lifecycle: provision,
// execute, teardown. The handle never escapes; teardown runs on every
// exit path, including cancellation, and its failures are logged rather
// than returned so they never mask the primary error.
//
// Provisioning failures are returned as ErrFault. Execute errors are
// returned unchanged so callers can classify them.
func Run(ctx context.Context, b Backend, spec Spec, payload Payload, inv Invoker, logger *zap.Logger) (Output, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	handle, err := b.Provision(ctx, spec)
	if err != nil {
		if errors.Is(err, ErrFault) {
			return Output{}, err
		}
		return Output{}, Fault("provision", err)
	}

	defer func() {
		// Teardown gets its own budget so a cancelled execution still
		// releases its unit. The backend escalates to forced
		// termination within the grace period.
		tdCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*spec.Grace())
		defer cancel()
		if terr := b.Teardown(tdCtx, handle); terr != nil {
			logger.Warn("teardown failed",
				zap.String("backend", string(b.Kind())),
				zap.String("unit", handle.ID()),
				zap.Error(terr))
		}
	}()

	return b.Execute(ctx, handle, payload, inv)
}
