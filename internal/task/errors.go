package task

import "errors"

var (
	ErrNotFound  = errors.New("task not found")
	ErrBusy      = errors.New("task ceiling reached")
	ErrPending   = errors.New("task still running")
	ErrFailed    = errors.New("task failed")
	ErrCancelled = errors.New("task cancelled")
)
