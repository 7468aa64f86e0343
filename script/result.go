package script

import (
	"fmt"
	"time"
)

// Outcome classifies how an execution ended. Every admitted execution
// produces exactly one.
type Outcome string

// Execution outcomes.
const (
	// OutcomeSuccess: the script ran to completion.
	OutcomeSuccess Outcome = "success"

	// OutcomeToolDenied: the gateway refused a tool call and the
	// execution stopped there.
	OutcomeToolDenied Outcome = "tool_denied"

	// OutcomeTimedOut: the wall-clock budget elapsed first.
	OutcomeTimedOut Outcome = "timed_out"

	// OutcomeCancelled: the caller cancelled the execution.
	OutcomeCancelled Outcome = "cancelled"

	// OutcomeBackendFault: the execution unit's infrastructure failed.
	OutcomeBackendFault Outcome = "backend_fault"

	// OutcomeScriptFault: the script itself raised an error.
	OutcomeScriptFault Outcome = "script_fault"
)

// ToolCallRecord is one entry in an execution's tool-call trace,
// recorded in the order the script issued the calls.
type ToolCallRecord struct {
	// Tool is the requested tool name.
	Tool string `json:"tool"`

	// Args is a snapshot of the call's arguments.
	Args map[string]any `json:"args,omitempty"`

	// Allowed is the gateway's decision.
	Allowed bool `json:"allowed"`

	// Reason explains a denial. Empty when allowed.
	Reason string `json:"reason,omitempty"`

	// At is when the call was intercepted.
	At time.Time `json:"at"`

	// Duration is how long the tool ran. Zero for denied calls.
	Duration time.Duration `json:"duration,omitempty"`
}

// Result is the report of one admitted execution.
type Result struct {
	// ID is the execution identifier.
	ID string `json:"id"`

	// Outcome classifies how the execution ended.
	Outcome Outcome `json:"outcome"`

	// Value is the script's final result value on success.
	Value any `json:"value,omitempty"`

	// Stdout is captured print output followed by unit-captured stdout.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is error output captured inside the unit.
	Stderr string `json:"stderr,omitempty"`

	// Error describes the failure for non-success outcomes.
	Error string `json:"error,omitempty"`

	// ToolCalls is the ordered trace of intercepted tool calls,
	// including denied ones.
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`

	// Duration is the wall-clock time the execution held its unit.
	Duration time.Duration `json:"duration"`
}

// Err maps the outcome to its sentinel error so callers can branch
// with errors.Is. Nil for success.
func (r Result) Err() error {
	var sentinel error
	switch r.Outcome {
	case OutcomeSuccess:
		return nil
	case OutcomeToolDenied:
		sentinel = ErrToolDenied
	case OutcomeTimedOut:
		sentinel = ErrTimedOut
	case OutcomeCancelled:
		sentinel = ErrCancelled
	case OutcomeBackendFault:
		sentinel = ErrBackendFault
	default:
		sentinel = ErrScriptFault
	}
	if r.Error == "" {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, r.Error)
}
