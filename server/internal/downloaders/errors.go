package downloaders

import (
	"errors"
	"fmt"
	"syscall"
)

// ExtractionError is returned when a backend could not retrieve the
// metadata of a URL.
type ExtractionError struct {
	Backend string
	Message string
}

func (e *ExtractionError) Error() string { return e.Message }

// DownloadError is returned when a backend failed mid-download.
type DownloadError struct {
	Backend string
	Message string
}

func (e *DownloadError) Error() string { return e.Message }

var (
	// ErrSoftLimit is the cause attached to a task context that ran past
	// its soft time limit.
	ErrSoftLimit = errors.New("soft time limit exceeded")

	// ErrTerminated is matched by every revocation cause.
	ErrTerminated = errors.New("task terminated")
)

// RevokedError is the cause attached to a task context when the task is
// revoked. Signal is forwarded to the backend process group.
type RevokedError struct {
	Signal syscall.Signal
}

func (e *RevokedError) Error() string {
	return fmt.Sprintf("task revoked (%s)", e.Signal)
}

func (e *RevokedError) Is(target error) bool { return target == ErrTerminated }

// Interrupted reports whether err means the download was stopped from the
// outside, either by the soft limit or by a revocation.
func Interrupted(err error) bool {
	return errors.Is(err, ErrSoftLimit) || errors.Is(err, ErrTerminated)
}
