// Package script runs untrusted scripts in isolated execution units
// under per-execution policy.
//
// The Engine accepts a run Request carrying the script payload and an
// immutable Config, admits it through a bounded Coordinator, provisions
// one execution unit from a worker.Backend, and routes every tool call
// the script makes through the gateway's Decide function. Denied calls
// never reach the host tool runner and end the execution with the
// tool_denied outcome.
//
// Every admitted execution produces exactly one Result with one
// Outcome: success, tool_denied, timed_out, cancelled, backend_fault,
// or script_fault. Errors from Engine.Run itself cover only requests
// rejected before a unit ran.
package script
