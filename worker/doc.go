// Package worker defines the uniform lifecycle contract for isolated
// script execution units and the backends that provide them.
//
// A Backend owns one kind of isolation environment (an in-process mock,
// a container per execution, an orchestrated cluster job per execution)
// and exposes the same three operations for all of them:
//
//   - Provision allocates one isolated unit and returns a Handle.
//   - Execute runs a payload inside the unit, routing every tool call
//     through the caller-supplied Invoker.
//   - Teardown releases the unit. It is idempotent and must be called
//     exactly once per successful Provision, on every exit path.
//
// # Handle lifecycle
//
// Each Handle moves through a fixed state machine:
//
//	Created -> Provisioning -> Ready -> Running ->
//	{Completed | Failed | Cancelled} -> TornDown
//
// TornDown is terminal and reachable from every non-initial state. A
// handle is exclusively owned by the execution that created it and is
// never pooled or reused.
//
// Callers normally do not drive the lifecycle themselves; [Run] wraps
// provision, execute, and teardown so the handle never escapes and the
// teardown guarantee holds on success, failure, and cancellation.
package worker
