// Package container provides a worker backend that provisions one
// container per execution. The container client is an interface so the
// backend works against Docker, containerd, or a fake in tests.
package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jonwraymond/scriptrun/worker"
	"github.com/jonwraymond/scriptrun/worker/wire"
)

// Errors for container backend operations.
var (
	// ErrClientNotConfigured is returned when no ContainerRunner is
	// configured.
	ErrClientNotConfigured = errors.New("container client not configured")

	// ErrDaemonUnavailable is returned when the container daemon is not
	// reachable.
	ErrDaemonUnavailable = errors.New("container daemon unavailable")

	// ErrNonZeroExit is returned when the script process exits with a
	// non-zero code.
	ErrNonZeroExit = errors.New("script exited with non-zero code")
)

// Config configures a container backend.
type Config struct {
	// Image is the default execution image when the spec does not name
	// one. Default: scriptrun-sandbox:latest
	Image string

	// Client executes container specs.
	// Required. Provide a ContainerRunner from an integration package.
	Client ContainerRunner

	// Resolver optionally resolves/pulls images before execution.
	Resolver ImageResolver

	// Health optionally verifies daemon availability.
	Health HealthChecker

	// Logger is an optional logger for backend events.
	Logger *zap.Logger
}

// Backend executes scripts in one container per execution.
type Backend struct {
	image    string
	client   ContainerRunner
	resolver ImageResolver
	health   HealthChecker
	logger   *zap.Logger
}

// New creates a container backend with the given configuration.
func New(cfg Config) *Backend {
	image := cfg.Image
	if image == "" {
		image = "scriptrun-sandbox:latest"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		image:    image,
		client:   cfg.Client,
		resolver: cfg.Resolver,
		health:   cfg.Health,
		logger:   logger,
	}
}

// Kind returns the backend kind identifier.
func (b *Backend) Kind() worker.Kind {
	return worker.KindContainer
}

type handle struct {
	containerID string
	grace       time.Duration
	lc          *worker.Lifecycle
}

func (h *handle) ID() string          { return h.containerID }
func (h *handle) State() worker.State { return h.lc.State() }

// Provision creates and starts one container. A container that was
// created but failed to start is removed best-effort before the fault
// is returned.
func (b *Backend) Provision(ctx context.Context, spec worker.Spec) (worker.Handle, error) {
	if b.client == nil {
		return nil, worker.Fault("provision", ErrClientNotConfigured)
	}
	if err := spec.Validate(); err != nil {
		return nil, worker.Fault("provision", err)
	}

	if b.health != nil {
		if err := b.health.Ping(ctx); err != nil {
			return nil, worker.Fault("provision", fmt.Errorf("%w: %v", ErrDaemonUnavailable, err))
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

	cs, err := buildSpec(image, spec)
	if err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		return nil, worker.Fault("provision", err)
	}

	id, err := b.client.Create(ctx, cs)
	if err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		return nil, worker.Fault("provision", err)
	}
	h.containerID = id

	if err := b.client.Start(ctx, id); err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		if rmErr := b.client.Remove(ctx, id, true); rmErr != nil {
			b.logger.Warn("removing unstarted container failed",
				zap.String("container", id), zap.Error(rmErr))
		}
		return nil, worker.Fault("provision", err)
	}

	if err := h.lc.Advance(worker.StateReady); err != nil {
		return nil, err
	}
	b.logger.Info("container provisioned", zap.String("container", id), zap.String("image", image))
	return h, nil
}

// Execute attaches to the container, serves its tool calls, and
// collects the exit result.
func (b *Backend) Execute(ctx context.Context, wh worker.Handle, payload worker.Payload, inv worker.Invoker) (worker.Output, error) {
	h, err := b.own(wh)
	if err != nil {
		return worker.Output{}, err
	}
	if err := h.lc.Advance(worker.StateRunning); err != nil {
		return worker.Output{}, err
	}

	conn, err := b.client.Attach(ctx, h.containerID)
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

	res, err := b.client.Wait(ctx, h.containerID)
	if err != nil {
		_ = h.lc.Advance(worker.StateFailed)
		return worker.Output{}, worker.Fault("wait", err)
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

// Teardown stops and removes the container, escalating to a forced
// remove when the container does not stop within the grace period.
// Idempotent.
func (b *Backend) Teardown(ctx context.Context, wh worker.Handle) error {
	h, err := b.own(wh)
	if err != nil {
		return err
	}
	if h.lc.Terminal() {
		return nil
	}
	defer func() { _ = h.lc.Advance(worker.StateTornDown) }()

	if h.containerID == "" {
		return nil
	}

	force := false
	if err := b.client.Stop(ctx, h.containerID, h.grace); err != nil {
		b.logger.Warn("graceful stop failed, forcing removal",
			zap.String("container", h.containerID), zap.Error(err))
		force = true
	}
	if err := b.client.Remove(ctx, h.containerID, force); err != nil {
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

func buildSpec(image string, spec worker.Spec) (ContainerSpec, error) {
	network := "none"
	if spec.NetworkEnabled {
		network = "bridge"
	}

	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	labels := map[string]string{
		"scriptrun.backend": string(worker.KindContainer),
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	cs := ContainerSpec{
		Image:          image,
		Env:            env,
		Resources:      spec.Resources,
		NetworkMode:    network,
		ReadOnlyRootfs: true,
		User:           "nobody:nogroup",
		Labels:         labels,
	}
	if err := cs.Validate(); err != nil {
		return ContainerSpec{}, err
	}
	return cs, nil
}
