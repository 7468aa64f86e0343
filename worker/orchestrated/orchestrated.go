// Package orchestrated provides a worker backend that submits one
// managed workload per execution to a cluster control plane. Best for
// scheduling, quotas, and multi-tenant controls; isolation depends on
// the cluster's runtime class.
package orchestrated

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/jonwraymond/scriptrun/worker"
	"github.com/jonwraymond/scriptrun/worker/wire"
)

// Errors for orchestrated backend operations.
var (
	// ErrClientNotConfigured is returned when no JobRunner is configured.
	ErrClientNotConfigured = errors.New("orchestrator client not configured")

	// ErrClusterUnavailable is returned when the control plane cannot
	// be reached.
	ErrClusterUnavailable = errors.New("cluster unavailable")

	// ErrJobNotReady is returned when a job does not reach a ready
	// state within the readiness budget.
	ErrJobNotReady = errors.New("job not ready")

	// ErrJobFailed is returned when the control plane reports the job
	// failed before it became ready.
	ErrJobFailed = errors.New("job failed")

	// ErrNonZeroExit is returned when the script process exits with a
	// non-zero code.
	ErrNonZeroExit = errors.New("script exited with non-zero code")
)

// Defaults for readiness polling.
const (
	DefaultReadyTimeout = 2 * time.Minute
	DefaultPollInterval = 500 * time.Millisecond
)

// Config configures an orchestrated backend.
type Config struct {
	// Namespace for execution jobs. Default: default
	Namespace string

	// Image is the default execution image when the spec does not name
	// one. Default: scriptrun-sandbox:latest
	Image string

	// ServiceAccount for execution jobs.
	ServiceAccount string

	// RuntimeClassName optionally selects a stronger isolation runtime.
	// Examples: gvisor, kata
	RuntimeClassName string

	// Client submits and manages jobs.
	// Required. Provide a JobRunner from an integration package.
	Client JobRunner

	// Resolver optionally resolves images before execution.
	Resolver ImageResolver

	// Health optionally verifies control-plane availability.
	Health HealthChecker

	// ReadyTimeout bounds readiness polling. Default: 2m
	ReadyTimeout time.Duration

	// PollInterval is the base interval for exponential readiness
	// polling. Default: 500ms
	PollInterval time.Duration

	// Logger is an optional logger for backend events.
	Logger *zap.Logger
}

// Backend executes scripts as one managed workload per execution.
type Backend struct {
	namespace        string
	image            string
	serviceAccount   string
	runtimeClassName string
	client           JobRunner
	resolver         ImageResolver
	health           HealthChecker
	readyTimeout     time.Duration
	pollInterval     time.Duration
	logger           *zap.Logger
}

// New creates an orchestrated backend with the given configuration.
func New(cfg Config) *Backend {
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "default"
	}
	image := cfg.Image
	if image == "" {
		image = "scriptrun-sandbox:latest"
	}
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = DefaultReadyTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		namespace:        namespace,
		image:            image,
		serviceAccount:   cfg.ServiceAccount,
		runtimeClassName: cfg.RuntimeClassName,
		client:           cfg.Client,
		resolver:         cfg.Resolver,
		health:           cfg.Health,
		readyTimeout:     readyTimeout,
		pollInterval:     pollInterval,
		logger:           logger,
	}
}

// Kind returns the backend kind identifier.
func (b *Backend) Kind() worker.Kind {
	return worker.KindOrchestrated
}

type handle struct {
	jobName string
	grace   time.Duration
	lc      *worker.Lifecycle
}

func (h *handle) ID() string          { return h.jobName }
func (h *handle) State() worker.State { return h.lc.State() }

// Provision submits a job and polls until the control plane reports it
// ready. A job that never becomes ready is deleted best-effort before
// the fault is returned.
func (b *Backend) Provision(ctx context.Context, spec worker.Spec) (worker.Handle, error) {
	if b.client == nil {
		return nil, worker.Fault("provision", ErrClientNotConfigured)
	}
	if err := spec.Validate(); err != nil {
		return nil, worker.Fault("provision", err)
	}

	if b.health != nil {
		if err := b.health.Ping(ctx); err != nil {
			return nil, worker.Fault("provision", fmt.Errorf("%w: %v", ErrClusterUnavailable, err))
		}
	}

	image := spec.Image
	if image == "" {
		image = b.image
	}
	if b.resolver != nil {
		resolved, err := b.resolver.Resolve(ctx, image)
		if err != nil {
			return nil, worker.Fault("provision", err)
		}
		image = resolved
	}

	h := &handle{grace: spec.Grace(), lc: worker.NewLifecycle()}
	if err := h.lc.Advance(worker.StateProvisioning); err != nil {
		return nil, err
	}

	js, err := b.buildSpec(image, spec)
	if err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		return nil, worker.Fault("provision", err)
	}

	name, err := b.client.CreateJob(ctx, js)
	if err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		return nil, worker.Fault("provision", err)
	}
	h.jobName = name

	if err := b.awaitReady(ctx, name); err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		if delErr := b.client.DeleteJob(ctx, name, true); delErr != nil {
			b.logger.Warn("deleting unready job failed",
				zap.String("job", name), zap.Error(delErr))
		}
		return nil, worker.Fault("provision", err)
	}

	if err := h.lc.Advance(worker.StateReady); err != nil {
		return nil, err
	}
	b.logger.Info("job provisioned",
		zap.String("job", name),
		zap.String("namespace", b.namespace),
		zap.String("image", image))
	return h, nil
}

// awaitReady polls job status with exponential backoff until the job is
// ready, it fails, or the readiness budget is spent.
func (b *Backend) awaitReady(ctx context.Context, name string) error {
	backoff := retry.WithMaxDuration(b.readyTimeout, retry.NewExponential(b.pollInterval))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		phase, err := b.client.Status(ctx, name)
		if err != nil {
			return retry.RetryableError(err)
		}
		switch phase {
		case JobReady, JobSucceeded:
			return nil
		case JobFailed:
			return fmt.Errorf("%w: %s", ErrJobFailed, name)
		default:
			return retry.RetryableError(fmt.Errorf("%w: phase %q", ErrJobNotReady, phase))
		}
	})
}

// Execute attaches to the job, serves its tool calls, and collects the
// exit result.
func (b *Backend) Execute(ctx context.Context, wh worker.Handle, payload worker.Payload, inv worker.Invoker) (worker.Output, error) {
	h, err := b.own(wh)
	if err != nil {
		return worker.Output{}, err
	}
	if err := h.lc.Advance(worker.StateRunning); err != nil {
		return worker.Output{}, err
	}

	conn, err := b.client.Attach(ctx, h.jobName)
	if err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		return worker.Output{}, worker.Fault("attach", err)
	}
	defer conn.Close()

	if err := wire.Exec(ctx, conn, payload); err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		return worker.Output{}, err
	}

	value, err := wire.Serve(ctx, conn, inv)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = h.lc.Advance(worker.StateCancelled)
		} else {
			_ = h.lc.Advance(worker.StateFailed)
		}
		return worker.Output{}, err
	}

	res, err := b.client.Result(ctx, h.jobName)
	if err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		return worker.Output{}, worker.Fault("result", err)
	}
	if res.ExitCode != 0 {
		_ = h.lc.Advance(worker.StateFailed)
		return worker.Output{Stdout: res.Stdout, Stderr: res.Stderr},
			fmt.Errorf("%w: %d: %s", ErrNonZeroExit, res.ExitCode, res.Stderr)
	}

	if err := h.lc.Advance(worker.StateCompleted); err != nil {
		return worker.Output{}, err
	}
	return worker.Output{
		Value:    value,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		Duration: res.Duration,
	}, nil
}

// Teardown deletes the job, escalating to a forced delete when the
// graceful delete does not finish within the grace period. Idempotent.
func (b *Backend) Teardown(ctx context.Context, wh worker.Handle) error {
	h, err := b.own(wh)
	if err != nil {
		return err
	}
	if h.lc.Terminal() {
		return nil
	}
	defer func() { _ = h.lc.Advance(worker.StateTornDown) }()

	if h.jobName == "" {
		return nil
	}

	graceCtx, cancel := context.WithTimeout(ctx, h.grace)
	err = b.client.DeleteJob(graceCtx, h.jobName, false)
	cancel()
	if err == nil {
		return nil
	}

	b.logger.Warn("graceful job delete failed, forcing",
		zap.String("job", h.jobName), zap.Error(err))
	if err := b.client.DeleteJob(ctx, h.jobName, true); err != nil {
		return worker.Fault("teardown", err)
	}
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

func (b *Backend) buildSpec(image string, spec worker.Spec) (JobSpec, error) {
	namespace := spec.Namespace
	if namespace == "" {
		namespace = b.namespace
	}

	network := "none"
	if spec.NetworkEnabled {
		network = "default"
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	labels := map[string]string{
		"scriptrun.backend": string(worker.KindOrchestrated),
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	js := JobSpec{
		Namespace:        namespace,
		Image:            image,
		ServiceAccount:   b.serviceAccount,
		RuntimeClassName: b.runtimeClassName,
		Env:              env,
		Resources:        spec.Resources,
		NetworkMode:      network,
		Labels:           labels,
	}
	if err := js.Validate(); err != nil {
		return JobSpec{}, err
	}
	return js, nil
}
