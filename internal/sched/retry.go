package sched

import (
	"time"

	logx "fleetsched/pkg/logx"
)

// armRetry schedules the delayed re-admission of a failed task. The timer
// fires into the mailbox, so the re-admission itself runs on the actor.
//
// The delay scales with the task's execution strategy: a manual-fallback
// task backs off longer than an api-first one before the fleet retries it.
func (s *Service) armRetry(t *Task, cfg Config) {
	if tm, ok := s.retries[t.ID]; ok {
		tm.Stop()
	}
	id := t.ID
	delay := cfg.RetryDelay * time.Duration(strategyScale(t.Strategy))
	s.retries[id] = time.AfterFunc(delay, func() {
		s.send(func() { s.readmit(id, time.Now()) })
	})
}

// readmit moves a failed task back into pending after its retry delay.
// Runs on the actor.
//
// Re-admission deliberately bypasses the MaxQueueSize gate: the gate protects
// against new intake, and work the scheduler already accepted is never
// silently dropped. The task re-enters the ordering policy like any other
// pending task.
func (s *Service) readmit(id string, now time.Time) {
	if _, armed := s.retries[id]; !armed {
		// Disarmed by a cancellation or a stop since the timer fired.
		return
	}
	delete(s.retries, id)

	t, ok := s.queue.get(id)
	if !ok || t.Status != StatusFailed {
		return
	}
	if err := s.queue.move(t, StatusPending, now); err != nil {
		s.log.Error("retry re-admission failed", logx.String("task", id), logx.Err(err))
		return
	}
	cfg := s.config()
	sortPending(s.queue.pending, cfg.Algorithm)
	s.log.Debug("task re-admitted for retry",
		logx.String("task", id),
		logx.Int("attempt", t.RetryCount),
		logx.Int("max_retries", t.MaxRetries),
	)
}
