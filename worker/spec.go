package worker

import (
	"errors"
	"fmt"
	"time"
)

// DefaultGracePeriod bounds how long a backend waits for a unit to stop
// voluntarily before escalating to forced termination.
const DefaultGracePeriod = 10 * time.Second

// ErrSecurityViolation is returned when a spec requests a capability
// the sandbox refuses to grant.
var ErrSecurityViolation = errors.New("security policy violation")

// Resources defines the resource limits applied to one execution unit.
// Zero means no explicit limit for that dimension.
type Resources struct {
	MemoryBytes int64
	CPUMillis   int64
	PidsMax     int64
	DiskBytes   int64
}

// Validate checks Resources for invalid values.
func (r Resources) Validate() error {
	if r.MemoryBytes < 0 {
		return errors.New("memory cannot be negative")
	}
	if r.CPUMillis < 0 {
		return errors.New("cpu quota cannot be negative")
	}
	if r.PidsMax < 0 {
		return errors.New("pids limit cannot be negative")
	}
	if r.DiskBytes < 0 {
		return errors.New("disk limit cannot be negative")
	}
	return nil
}

// Spec describes how to provision one isolated execution unit. A spec
// maps deterministically to one unit; it carries no per-script policy,
// which lives in the caller's script configuration.
type Spec struct {
	// Image is the execution image for container and orchestrated
	// backends. Ignored by the mock backend.
	Image string

	// Namespace scopes the unit in multi-tenant environments.
	Namespace string

	// Env provides environment values for the unit itself (not the
	// script; see Payload.Env).
	Env map[string]string

	// Resources are the unit's resource limits.
	Resources Resources

	// NetworkEnabled grants the unit network access. Off by default.
	NetworkEnabled bool

	// Privileged is never honored; Validate rejects it. The field
	// exists so misconfigured callers fail loudly instead of silently
	// losing the flag.
	Privileged bool

	// Labels are attached to the unit for traceability.
	Labels map[string]string

	// GracePeriod bounds voluntary shutdown before forced termination.
	// Zero means DefaultGracePeriod.
	GracePeriod time.Duration
}

// Validate checks the spec for errors before provisioning.
func (s Spec) Validate() error {
	if s.Privileged {
		return fmt.Errorf("%w: privileged execution not allowed", ErrSecurityViolation)
	}
	if s.GracePeriod < 0 {
		return errors.New("grace period cannot be negative")
	}
	if err := s.Resources.Validate(); err != nil {
		return fmt.Errorf("resources: %w", err)
	}
	return nil
}

// Grace returns the effective grace period.
func (s Spec) Grace() time.Duration {
	if s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return DefaultGracePeriod
}
