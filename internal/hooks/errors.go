package hooks

import (
	"errors"
	"fmt"
)

// HookError reports a hook that failed or panicked. The phase was aborted.
type HookError struct {
	HookID string
	Kind   string
	Phase  Phase
	Err    error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s (%s, %s): %v", e.HookID, e.Kind, e.Phase, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// ErrPanic marks a HookError caused by a recovered panic.
var ErrPanic = errors.New("hook panicked")

// IsHookError reports whether err is or wraps a *HookError.
func IsHookError(err error) bool {
	var he *HookError
	return errors.As(err, &he)
}
