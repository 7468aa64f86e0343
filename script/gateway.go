package script

// Decision is the gateway's verdict on one tool call.
type Decision struct {
	// Allowed reports whether the call may proceed.
	Allowed bool

	// Reason explains a denial in terms the script's author can act on.
	// Empty when Allowed.
	Reason string
}

// Denial reasons. DenyAllTools always wins over the allow-list.
const (
	reasonAllToolsDisabled = "all tools are disabled for this execution"
	reasonNotInAllowList   = "tool is not in the allowed tools list"
)

// Decide evaluates one tool call against the configuration. It is a
// pure function: same inputs, same decision, no side effects. The
// actual tool invocation is the caller's job and happens only on an
// allowed decision.
func Decide(tool string, cfg Config) Decision {
	if cfg.DenyAllTools {
		return Decision{Reason: reasonAllToolsDisabled}
	}
	if cfg.AllowedTools != nil && !cfg.AllowedTools.Contains(tool) {
		return Decision{Reason: reasonNotInAllowList}
	}
	return Decision{Allowed: true}
}
