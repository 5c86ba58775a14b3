package archive

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores when a bookmark, archive, or transition
// does not exist. The worker treats it as a discard, never a retry.
var ErrNotFound = errors.New("record not found")

// ErrQueueClosed is returned by Dequeue once the job queue has shut down.
var ErrQueueClosed = errors.New("queue closed")

// InvalidTransitionError reports an attempted state change that is not in the
// transition table. No transition row is written when this is returned.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// TransientError marks a failure that is expected to succeed on retry, i.e. a
// network timeout during fetch. It is the only error class that crosses the
// archiver/worker boundary; everything else is absorbed into a terminal
// transition.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
