// Package hooks implements the action pipeline: a priority-ordered chain of
// policy hooks that every prompt, tool request and tool output passes
// through.
//
// Hooks are declared in a manifest (JSON, YAML or CUE) validated against an
// embedded CUE schema, and instantiated from a closed, compile-time
// Registry keyed by kind. Nothing is loaded dynamically.
//
// Pipeline semantics:
//   - hooks run sequentially in ascending priority, ties broken by manifest
//     order
//   - each hook receives the previous hook's output
//   - a hook halts the phase by setting Payload.Halt or returning nil
//   - a hook error or panic aborts the phase and is returned as *HookError
//   - the caller's payload is never mutated
package hooks
