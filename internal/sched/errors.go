package sched

import "errors"

var (
	ErrStopped       = errors.New("scheduler stopped")
	ErrQueueFull     = errors.New("pending queue full")
	ErrInvalidTask   = errors.New("invalid task")
	ErrDuplicateTask = errors.New("duplicate task id")
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskTerminal  = errors.New("task already terminal")
	ErrCancelRefused = errors.New("cancellation refused by execution engine")
)
