package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonwraymond/scriptrun/internal/metrics"
	"github.com/jonwraymond/scriptrun/tools"
	"github.com/jonwraymond/scriptrun/worker"
)

// Options configures an Engine.
type Options struct {
	// Backend provides isolated execution units for requests that do
	// not name one. Required.
	Backend worker.Backend

	// Registry optionally holds named backends a request can select
	// with Request.Backend.
	Registry *worker.Registry

	// Runner receives gateway-approved tool calls. Optional; with no
	// runner every approved call fails with tools.ErrToolNotFound.
	Runner tools.Runner

	// Spec is the provisioning spec applied to every execution unit,
	// unless the request overrides it.
	Spec worker.Spec

	// Limits bounds concurrency and queueing.
	Limits Limits

	// Logger receives engine diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics records execution counters. Optional.
	Metrics *metrics.Recorder
}

// Request is one script run submission.
type Request struct {
	// ID identifies the execution. Assigned when empty.
	ID string

	// Payload is the script work to execute.
	Payload worker.Payload

	// Config is the execution's policy.
	Config Config

	// Backend optionally names a registered backend to run on. Empty
	// means the engine's default backend.
	Backend string

	// Spec optionally overrides the engine's provisioning spec for
	// this execution.
	Spec *worker.Spec
}

// Engine runs scripts in isolated units under per-execution policy.
// Construct with NewEngine; the zero value is not usable.
type Engine struct {
	backend  worker.Backend
	registry *worker.Registry
	runner   tools.Runner
	spec     worker.Spec
	coord    *Coordinator
	logger   *zap.Logger
	metrics  *metrics.Recorder
}

// NewEngine builds an engine from options.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if err := opts.Spec.Validate(); err != nil {
		return nil, fmt.Errorf("spec: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		backend:  opts.Backend,
		registry: opts.Registry,
		runner:   opts.Runner,
		spec:     opts.Spec,
		coord:    NewCoordinator(opts.Limits),
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// Stats returns the engine's coordinator counters.
func (e *Engine) Stats() CoordinatorStats { return e.coord.Stats() }

// Run executes one script. The error is non-nil only when the request
// was rejected before an execution unit ran: invalid configuration,
// a full queue, or cancellation while queued. Once admitted, Run
// returns a Result carrying exactly one Outcome and a nil error; the
// Outcome, not the error, is how admitted executions report failure.
func (e *Engine) Run(ctx context.Context, req Request) (Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := req.Config.Validate(); err != nil {
		return Result{}, err
	}
	backend, spec, err := e.resolve(req)
	if err != nil {
		return Result{}, err
	}

	if err := e.coord.Acquire(ctx); err != nil {
		return Result{}, err
	}
	defer e.coord.Release()

	e.metrics.ExecutionStarted()
	e.logger.Info("execution admitted",
		zap.String("id", req.ID),
		zap.String("backend", string(backend.Kind())))

	// One wall-clock budget covers the whole unit lifecycle. The
	// deadline cancels the execution context, which the backend turns
	// into graceful then forced termination.
	runCtx, cancel := context.WithTimeout(ctx, req.Config.Budget())
	defer cancel()

	inv := newInterceptor(req.Config, e.runner, e.logger.With(zap.String("id", req.ID)), e.metrics, nil)

	start := time.Now()
	out, err := worker.Run(runCtx, backend, spec, req.Payload, inv, e.logger)
	elapsed := time.Since(start)

	res := Result{
		ID:        req.ID,
		Outcome:   classify(runCtx, err),
		Stdout:    inv.Stdout() + out.Stdout,
		Stderr:    out.Stderr,
		ToolCalls: inv.Trace(),
		Duration:  elapsed,
	}
	if err != nil {
		res.Error = err.Error()
	} else {
		res.Value = out.Value
	}

	e.metrics.ExecutionFinished(string(res.Outcome), elapsed)
	e.logger.Info("execution finished",
		zap.String("id", req.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", elapsed))
	return res, nil
}

// resolve picks the backend and spec for one request. A request naming
// a backend is resolved through the registry; a request carrying a spec
// override must pass spec validation. Failures here reject the request
// before admission.
func (e *Engine) resolve(req Request) (worker.Backend, worker.Spec, error) {
	backend := e.backend
	if req.Backend != "" {
		if e.registry == nil {
			return nil, worker.Spec{}, fmt.Errorf("%w: no backend registry configured", ErrConfiguration)
		}
		b, err := e.registry.Get(req.Backend)
		if err != nil {
			return nil, worker.Spec{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
		backend = b
	}

	spec := e.spec
	if req.Spec != nil {
		if err := req.Spec.Validate(); err != nil {
			return nil, worker.Spec{}, fmt.Errorf("%w: spec: %w", ErrConfiguration, err)
		}
		spec = *req.Spec
	}
	return backend, spec, nil
}

// classify maps an execution error to exactly one outcome. Denials win
// over deadline races: a script stopped for calling a forbidden tool
// reports the denial even if the budget elapsed in the same instant.
func classify(runCtx context.Context, err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var denied *ToolDeniedError
	switch {
	case errors.As(err, &denied):
		return OutcomeToolDenied
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return OutcomeTimedOut
	case errors.Is(err, context.Canceled) || errors.Is(runCtx.Err(), context.Canceled):
		return OutcomeCancelled
	case errors.Is(err, worker.ErrFault):
		return OutcomeBackendFault
	default:
		return OutcomeScriptFault
	}
}
