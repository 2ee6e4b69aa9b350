package snapshot

import (
	"errors"
	"fmt"
)

var (
	ErrVanished    = errors.New("snapshot: process vanished")
	ErrUnavailable = errors.New("snapshot: metric unavailable")
)

// ExcludeError drops one process from the current tick.
type ExcludeError struct {
	PID    int32
	Reason error
}

func (e *ExcludeError) Error() string {
	return fmt.Sprintf("snapshot: pid %d excluded: %v", e.PID, e.Reason)
}

func (e *ExcludeError) Unwrap() error { return e.Reason }

// Excluded reports whether err drops a single process rather than the run.
func Excluded(err error) bool {
	var ee *ExcludeError
	return errors.As(err, &ee)
}
