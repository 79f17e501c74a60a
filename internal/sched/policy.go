package sched

import (
	"sort"
	"time"
)

// sortPending applies the configured ordering policy to the pending
// partition in place. Every policy sorts stably so equal-rank tasks keep
// their insertion order; fifo is the degenerate case that never reorders.
func sortPending(tasks []*Task, algo Algorithm) {
	switch algo {
	case AlgoPriority:
		sort.SliceStable(tasks, func(i, j int) bool {
			return tasks[i].Priority > tasks[j].Priority
		})
	case AlgoDeadline:
		sort.SliceStable(tasks, func(i, j int) bool {
			return deadlineBefore(tasks[i].Deadline, tasks[j].Deadline)
		})
	case AlgoShortestJob:
		// Heuristic only: the estimate is derived from the execution
		// strategy, never from measured runtimes.
		sort.SliceStable(tasks, func(i, j int) bool {
			return estimatedDuration(tasks[i].Strategy) < estimatedDuration(tasks[j].Strategy)
		})
	default:
		// fifo
	}
}

// deadlineBefore orders sooner deadlines first; tasks without a deadline
// sort after every task that has one.
func deadlineBefore(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}
