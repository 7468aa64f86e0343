package orchestrated

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/scriptrun/worker"
	"github.com/jonwraymond/scriptrun/worker/wire"
)

// JobRunner is the narrow control-plane surface the backend needs.
// Implementations typically wrap a Kubernetes or Nomad client from an
// integration package.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: all methods must honor cancellation and deadlines.
// - Ownership: implementations must not mutate the provided spec.
type JobRunner interface {
	// CreateJob submits a job and returns its name.
	CreateJob(ctx context.Context, spec JobSpec) (string, error)

	// Status reports the job's current phase.
	Status(ctx context.Context, name string) (JobPhase, error)

	// Attach opens the tool-call channel to the running job.
	Attach(ctx context.Context, name string) (wire.Conn, error)

	// Result collects the job's exit status and output.
	Result(ctx context.Context, name string) (JobResult, error)

	// DeleteJob removes the job. force skips graceful shutdown.
	DeleteJob(ctx context.Context, name string, force bool) error
}

// HealthChecker can verify control-plane availability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// ImageResolver resolves images before execution.
type ImageResolver interface {
	Resolve(ctx context.Context, image string) (string, error)
}

// JobPhase is a control-plane-reported job state.
type JobPhase string

// Job phases.
const (
	JobPending   JobPhase = "pending"
	JobReady     JobPhase = "ready"
	JobSucceeded JobPhase = "succeeded"
	JobFailed    JobPhase = "failed"
)

// JobSpec defines the managed workload for one execution.
type JobSpec struct {
	Namespace        string
	Image            string
	ServiceAccount   string
	RuntimeClassName string
	Env              []string
	Resources        worker.Resources
	NetworkMode      string
	Labels           map[string]string
	ActiveDeadline   time.Duration
}

// Validate checks JobSpec for errors before submission.
func (s JobSpec) Validate() error {
	if s.Image == "" {
		return errors.New("image is required")
	}
	if s.Namespace == "" {
		return errors.New("namespace is required")
	}
	if s.NetworkMode == "host" {
		return fmt.Errorf("%w: host network not allowed", worker.ErrSecurityViolation)
	}
	if err := s.Resources.Validate(); err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	return nil
}

// JobResult captures the job's exit status and output.
type JobResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}
