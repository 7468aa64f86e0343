package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/scriptrun/worker"
	"github.com/jonwraymond/scriptrun/worker/wire"
)

// ContainerRunner is the narrow client surface the backend needs.
// Implementations typically wrap a Docker or containerd client from an
// integration package.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: all methods must honor cancellation and deadlines.
// - Ownership: implementations must not mutate the provided spec.
type ContainerRunner interface {
	// Create creates a container for the spec and returns its ID.
	Create(ctx context.Context, spec ContainerSpec) (string, error)

	// Start starts the created container.
	Start(ctx context.Context, id string) error

	// Attach opens the tool-call channel to the running container.
	Attach(ctx context.Context, id string) (wire.Conn, error)

	// Wait blocks until the container's main process exits.
	Wait(ctx context.Context, id string) (ContainerResult, error)

	// Stop requests voluntary shutdown within the grace period.
	Stop(ctx context.Context, id string, grace time.Duration) error

	// Remove deletes the container. force kills it first if needed.
	Remove(ctx context.Context, id string, force bool) error
}

// HealthChecker can verify daemon availability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ImageResolver resolves/pulls images before execution.
type ImageResolver interface {
	Resolve(ctx context.Context, image string) (string, error)
}

// ContainerSpec defines what to run inside a container.
type ContainerSpec struct {
	Image          string
	Env            []string
	Resources      worker.Resources
	NetworkMode    string
	ReadOnlyRootfs bool
	User           string
	Labels         map[string]string
}

// Validate checks ContainerSpec for errors before execution.
func (s ContainerSpec) Validate() error {
	if s.Image == "" {
		return errors.New("image is required")
	}
	if s.NetworkMode == "host" {
		return fmt.Errorf("%w: host network not allowed", worker.ErrSecurityViolation)
	}
	if err := s.Resources.Validate(); err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	return nil
}

// ContainerResult captures the container's exit status and output.
type ContainerResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}
