package script

import (
	"errors"
	"fmt"
)

// Sentinel errors for script execution. Match with errors.Is.
var (
	// ErrConfiguration is returned when a run request carries an invalid
	// configuration. The request is rejected before any unit is
	// provisioned.
	ErrConfiguration = errors.New("invalid script configuration")

	// ErrCapacity is returned when the coordinator's wait queue is full.
	// The request is rejected without consuming an execution unit.
	ErrCapacity = errors.New("execution capacity exhausted")

	// ErrToolDenied marks a tool call refused by the gateway. It is
	// terminal for the execution.
	ErrToolDenied = errors.New("tool denied")

	// ErrTimedOut marks an execution that exhausted its wall-clock
	// budget.
	ErrTimedOut = errors.New("execution timed out")

	// ErrCancelled marks an execution cancelled by the caller.
	ErrCancelled = errors.New("execution cancelled")

	// ErrBackendFault marks an execution that failed because the worker
	// infrastructure failed, not the script. Retryable with a fresh
	// request; the engine itself never retries.
	ErrBackendFault = errors.New("backend fault")

	// ErrScriptFault marks an execution where the script itself raised
	// an error.
	ErrScriptFault = errors.New("script fault")

	// ErrAPIsDisabled is returned for builtin API calls when the
	// configuration disables them.
	ErrAPIsDisabled = errors.New("builtin apis disabled")

	// ErrUnknownAPI is returned for builtin API names this engine does
	// not provide.
	ErrUnknownAPI = errors.New("unknown builtin api")
)

// ToolDeniedError carries the gateway's refusal of one tool call. It
// matches ErrToolDenied via errors.Is.
type ToolDeniedError struct {
	// Tool is the denied tool name.
	Tool string

	// Reason is the gateway's explanation, suitable for the script's
	// author.
	Reason string
}

// Error returns the tool name and denial reason.
func (e *ToolDeniedError) Error() string {
	return fmt.Sprintf("tool %q denied: %s", e.Tool, e.Reason)
}

// Is reports whether this error matches ErrToolDenied.
func (e *ToolDeniedError) Is(target error) bool { return target == ErrToolDenied }
