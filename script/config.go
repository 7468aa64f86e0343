package script

import (
	"fmt"
	"sort"
	"time"
)

// DefaultMaxExecutionTime bounds a script's wall-clock run time when the
// configuration does not set one.
const DefaultMaxExecutionTime = 10 * time.Minute

// ToolSet is an immutable allow-list of tool names. A nil *ToolSet
// means no restriction; a non-nil empty set allows nothing.
type ToolSet struct {
	names map[string]struct{}
}

// NewToolSet builds a ToolSet from the given names.
func NewToolSet(names ...string) *ToolSet {
	s := &ToolSet{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

// Contains reports whether name is in the set.
func (s *ToolSet) Contains(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.names[name]
	return ok
}

// Len returns the number of names in the set.
func (s *ToolSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Names returns the set's contents sorted for deterministic output.
func (s *ToolSet) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Config is the per-execution policy a script runs under. It is fixed
// at request time; nothing mutates it mid-run.
type Config struct {
	// MaxExecutionTime bounds wall-clock run time. Zero means
	// DefaultMaxExecutionTime.
	MaxExecutionTime time.Duration

	// EnablePrint controls whether script print output is captured.
	// Defaults to true under NewConfig.
	EnablePrint bool

	// EnableDebug emits per-call diagnostics for the execution.
	EnableDebug bool

	// AllowedTools, when non-nil, restricts tool calls to its members.
	// Nil means every registered tool is callable. A non-nil empty set
	// denies every tool.
	AllowedTools *ToolSet

	// DenyAllTools refuses every tool call regardless of AllowedTools.
	DenyAllTools bool

	// DisableAPIs refuses builtin (non-tool) API calls.
	DisableAPIs bool
}

// Option mutates a Config under construction.
type Option func(*Config)

// WithMaxExecutionTime sets the wall-clock budget.
func WithMaxExecutionTime(d time.Duration) Option {
	return func(c *Config) { c.MaxExecutionTime = d }
}

// WithPrint enables or disables print capture.
func WithPrint(enabled bool) Option {
	return func(c *Config) { c.EnablePrint = enabled }
}

// WithDebug enables per-call diagnostics.
func WithDebug(enabled bool) Option {
	return func(c *Config) { c.EnableDebug = enabled }
}

// WithAllowedTools restricts tool calls to the given names. Passing no
// names installs an empty allow-list that denies every tool.
func WithAllowedTools(names ...string) Option {
	return func(c *Config) { c.AllowedTools = NewToolSet(names...) }
}

// WithDenyAllTools refuses every tool call.
func WithDenyAllTools() Option {
	return func(c *Config) { c.DenyAllTools = true }
}

// WithoutAPIs disables builtin API calls.
func WithoutAPIs() Option {
	return func(c *Config) { c.DisableAPIs = true }
}

// NewConfig builds a Config with defaults applied: a ten-minute
// execution budget, print enabled, debug disabled, no tool
// restrictions, APIs enabled.
func NewConfig(opts ...Option) Config {
	c := Config{
		MaxExecutionTime: DefaultMaxExecutionTime,
		EnablePrint:      true,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.MaxExecutionTime < 0 {
		return fmt.Errorf("%w: max execution time cannot be negative", ErrConfiguration)
	}
	return nil
}

// Budget returns the effective wall-clock budget.
func (c Config) Budget() time.Duration {
	if c.MaxExecutionTime > 0 {
		return c.MaxExecutionTime
	}
	return DefaultMaxExecutionTime
}
