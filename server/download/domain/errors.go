package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrStaleRecord      = errors.New("record was modified concurrently")
	ErrFormatNotOffered = errors.New("format is not one of the available choices")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrNoActiveTask     = errors.New("download has no running task")
)

// ErrInvalidTransition is matched by every TransitionError.
var ErrInvalidTransition = errors.New("invalid status transition")

type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move a %s download to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
