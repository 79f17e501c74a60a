package sched

import (
	"context"
	"time"

	logx "fleetsched/pkg/logx"
)

// deadlineError is the message stamped on deadline-violated tasks.
const deadlineError = "deadline exceeded"

// tickDeadlines force-fails every pending or processing task whose deadline
// has elapsed. Deadline violations bypass retry entirely: the task goes to
// the failed partition no matter how much retry budget it has left.
//
// For a processing task a best-effort CancelTask goes to the engine off the
// actor; the forced transition does not wait for (or depend on) its answer.
func (s *Service) tickDeadlines() {
	now := time.Now()
	cfg := s.config()

	var expired []*Task
	for _, t := range s.queue.pending {
		if t.Deadline != nil && now.After(*t.Deadline) {
			expired = append(expired, t)
		}
	}
	for _, t := range s.queue.processing {
		if t.Deadline != nil && now.After(*t.Deadline) {
			expired = append(expired, t)
		}
	}
	if len(expired) == 0 {
		return
	}

	for _, t := range expired {
		wasProcessing := t.Status == StatusExecuting
		if wasProcessing {
			s.cancelInFlight(t.ID, cfg)
			s.releaseResources(t, "", false, now, cfg)
		}
		t.ErrorMessage = deadlineError
		if err := s.queue.move(t, StatusFailed, now); err != nil {
			s.log.Error("deadline transition failed", logx.String("task", t.ID), logx.Err(err))
			continue
		}
		s.stats.noteFailed(now)
		s.publish(EventDeadlineExceeded, taskEvent(t, now))
		s.log.Warn("task failed: deadline exceeded",
			logx.String("task", t.ID),
			logx.Time("deadline", *t.Deadline),
			logx.Bool("was_processing", wasProcessing),
		)
	}
}

// cancelInFlight fires a best-effort engine cancellation for a task being
// force-failed. The result is logged and otherwise ignored; a late engine
// result for the task is dropped by applyBatchOutcome since the task has
// already left processing.
func (s *Service) cancelInFlight(id string, cfg Config) {
	sup := s.Supervisor()
	if sup == nil {
		return
	}
	engine := s.engine
	timeout := cfg.TaskTimeout
	sup.Go("cancel."+id, func(c context.Context) error {
		cctx, cancel := context.WithTimeout(c, timeout)
		defer cancel()
		ok, err := engine.CancelTask(cctx, id)
		if err != nil || !ok {
			s.log.Debug("best-effort cancel not honored",
				logx.String("task", id), logx.Bool("accepted", ok), logx.Err(err))
		}
		return nil
	})
}
