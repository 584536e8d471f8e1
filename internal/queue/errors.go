package queue

import "fmt"

// InvariantError reports a programmer-invariant violation: the store or
// engine head was found in a state the engine should never be able to
// produce. The tick aborts; the controller must recover by
// resynchronising from the forge.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("queue engine invariant violated: %s", e.Message)
}

func invariantf(format string, args ...any) error {
	return &InvariantError{Message: fmt.Sprintf(format, args...)}
}
