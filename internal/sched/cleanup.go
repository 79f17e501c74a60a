package sched

import (
	"time"

	logx "fleetsched/pkg/logx"
)

// tickCleanup is the retention sweep: terminal tasks older than the retention
// window are hard-deleted so the queue's memory stays bounded. Completed
// tasks age by CompletedAt (UpdatedAt as a fallback), failed and cancelled
// tasks by UpdatedAt. Nothing is archived here; the journal is the audit
// trail.
func (s *Service) tickCleanup() {
	now := time.Now()
	cfg := s.config()
	cutoff := now.Add(-cfg.FailedRetention)

	completed := s.sweep(&s.queue.completed, func(t *Task) time.Time {
		if t.CompletedAt != nil {
			return *t.CompletedAt
		}
		return t.UpdatedAt
	}, cutoff)
	// A failed task with an armed retry timer is not terminal yet; it is
	// waiting out its retry delay and must survive the sweep.
	failed := s.sweep(&s.queue.failed, func(t *Task) time.Time {
		if _, armed := s.retries[t.ID]; armed {
			return now
		}
		return t.UpdatedAt
	}, cutoff)
	cancelled := s.sweep(&s.queue.cancelled, func(t *Task) time.Time {
		return t.UpdatedAt
	}, cutoff)

	if completed == 0 && failed == 0 && cancelled == 0 {
		return
	}
	s.publish(EventRetentionSwept, SweepEvent{Completed: completed, Failed: failed, Cancelled: cancelled})
	s.log.Debug("retention sweep",
		logx.Int("completed_evicted", completed),
		logx.Int("failed_evicted", failed),
		logx.Int("cancelled_evicted", cancelled),
		logx.Duration("window", cfg.FailedRetention),
	)
}

func (s *Service) sweep(list *[]*Task, ageOf func(*Task) time.Time, cutoff time.Time) int {
	var old []*Task
	for _, t := range *list {
		if ageOf(t).Before(cutoff) {
			old = append(old, t)
		}
	}
	for _, t := range old {
		s.queue.drop(t)
	}
	return len(old)
}
