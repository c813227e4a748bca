package txqueue

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSeed       = errors.New("invalid seed")
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrQueueReset is returned by an operation whose queue was reset while
	// it was waiting on the network; its result was discarded.
	ErrQueueReset = errors.New("queue was reset")
)

func transitionError(op string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidTransition, op, fmt.Sprintf(format, args...))
}
