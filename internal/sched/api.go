package sched

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "fleetsched/pkg/logx"
)

// Add validates and admits one task into the pending partition. The pending
// queue is re-sorted under the configured algorithm before Add returns.
//
// Validation failures and a full queue come back as errors, never panics:
// ErrInvalidTask (wrapped with detail), ErrDuplicateTask, ErrQueueFull.
func (s *Service) Add(task Task) error {
	return s.AddContext(context.Background(), task)
}

func (s *Service) AddContext(ctx context.Context, task Task) error {
	if err := validateTask(task); err != nil {
		s.log.Warn("task rejected", logx.String("task", task.ID), logx.Err(err))
		return err
	}
	var opErr error
	err := s.call(ctx, func() {
		if opErr = s.admit(task, time.Now()); opErr == nil {
			sortPending(s.queue.pending, s.config().Algorithm)
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// AddBatch admits each task independently; a rejected task never blocks its
// neighbors. The pending queue is re-sorted once at the end.
func (s *Service) AddBatch(ctx context.Context, tasks []Task) (AddReport, error) {
	rep := AddReport{}
	err := s.call(ctx, func() {
		now := time.Now()
		for _, t := range tasks {
			if verr := validateTask(t); verr != nil {
				rep.Rejected = append(rep.Rejected, RejectedTask{TaskID: t.ID, Err: verr})
				continue
			}
			if aerr := s.admit(t, now); aerr != nil {
				rep.Rejected = append(rep.Rejected, RejectedTask{TaskID: t.ID, Err: aerr})
				continue
			}
			rep.Added++
		}
		if rep.Added > 0 {
			sortPending(s.queue.pending, s.config().Algorithm)
		}
	})
	if err != nil {
		return AddReport{}, err
	}
	if len(rep.Rejected) > 0 {
		s.log.Warn("batch add partially rejected",
			logx.Int("added", rep.Added),
			logx.Int("rejected", len(rep.Rejected)),
		)
	}
	return rep, nil
}

// validateTask checks the fields Add requires. Runs off the actor so a
// malformed task never costs a mailbox round trip.
func validateTask(t Task) error {
	var missing []string
	if strings.TrimSpace(t.ID) == "" {
		missing = append(missing, "id")
	}
	if strings.TrimSpace(t.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(t.Platform) == "" {
		missing = append(missing, "platform")
	}
	if strings.TrimSpace(t.TargetUserID) == "" {
		missing = append(missing, "target_user_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidTask, strings.Join(missing, ", "))
	}
	if t.Status != "" && t.Status != StatusPending {
		return fmt.Errorf("%w: status %s (new tasks must be PENDING)", ErrInvalidTask, t.Status)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0", ErrInvalidTask)
	}
	if t.RetryCount < 0 || t.RetryCount > t.MaxRetries {
		return fmt.Errorf("%w: retry_count %d out of range [0, %d]", ErrInvalidTask, t.RetryCount, t.MaxRetries)
	}
	return nil
}

// admit inserts a validated task. Runs on the actor. The caller re-sorts
// pending after the last insertion.
func (s *Service) admit(t Task, now time.Time) error {
	cfg := s.config()
	if s.queue.has(t.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	if s.queue.pendingLen() >= cfg.MaxQueueSize {
		return ErrQueueFull
	}

	cp := copyTask(&t)
	if cp.Priority == 0 {
		cp.Priority = PriorityNormal
	}
	if cp.Strategy == "" {
		cp.Strategy = StrategyBalanced
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.queue.addPending(&cp)

	s.publish(EventTaskAdmitted, taskEvent(&cp, now))
	s.log.Debug("task admitted",
		logx.String("task", cp.ID),
		logx.String("type", cp.Type),
		logx.String("platform", cp.Platform),
		logx.String("priority", cp.Priority.String()),
	)
	return nil
}

// Cancel removes a task from the schedule. A pending task is cancelled
// synchronously. A processing task is only cancelled after the execution
// engine confirms; a refusal or an unreachable engine leaves the task in
// processing and surfaces ErrCancelRefused.
func (s *Service) Cancel(ctx context.Context, id string) error {
	var (
		status     TaskStatus
		found      bool
		terminal   bool
		processing bool
	)
	err := s.call(ctx, func() {
		t, ok := s.queue.get(id)
		if !ok {
			return
		}
		found = true
		status = t.Status
		switch t.Status {
		case StatusPending:
			s.cancelNow(t, time.Now())
		case StatusFailed:
			// Sitting out a retry delay; still cancellable.
			if tm, ok := s.retries[id]; ok {
				tm.Stop()
				delete(s.retries, id)
				s.cancelNow(t, time.Now())
			} else {
				terminal = true
			}
		case StatusExecuting:
			processing = true
		default:
			terminal = true
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if terminal {
		return fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, status)
	}
	if !processing {
		return nil
	}

	// Engine call happens off the actor; a slow engine must not stall
	// scheduling. The transition is applied only on confirmation.
	ok, cerr := s.engine.CancelTask(ctx, id)
	if cerr != nil {
		return fmt.Errorf("%w: %s: %v", ErrCancelRefused, id, cerr)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCancelRefused, id)
	}
	confirmed := false
	err = s.call(ctx, func() {
		t, okT := s.queue.get(id)
		if !okT || t.Status != StatusExecuting {
			// Settled while we were waiting on the engine.
			return
		}
		cfg := s.config()
		now := time.Now()
		s.releaseResources(t, "", false, now, cfg)
		s.cancelNow(t, now)
		confirmed = true
	})
	if err != nil {
		return err
	}
	if confirmed {
		s.log.Info("processing task cancelled", logx.String("task", id))
	}
	return nil
}

// cancelNow applies the CANCELLED transition. Runs on the actor.
func (s *Service) cancelNow(t *Task, now time.Time) {
	if err := s.queue.move(t, StatusCancelled, now); err != nil {
		s.log.Error("cancel transition failed", logx.String("task", t.ID), logx.Err(err))
		return
	}
	s.publish(EventTaskCancelled, taskEvent(t, now))
	s.log.Debug("task cancelled", logx.String("task", t.ID))
}

// TaskByID returns a defensive copy of one task, in whatever partition it
// currently sits.
func (s *Service) TaskByID(ctx context.Context, id string) (Task, bool, error) {
	var (
		out Task
		ok  bool
	)
	err := s.call(ctx, func() {
		if t, found := s.queue.get(id); found {
			out = copyTask(t)
			ok = true
		}
	})
	if err != nil {
		return Task{}, false, err
	}
	return out, ok, nil
}

// Queue returns a point-in-time copy of all five partitions.
func (s *Service) Queue(ctx context.Context) (QueueState, error) {
	var st QueueState
	err := s.call(ctx, func() { st = s.queue.snapshot() })
	if err != nil {
		return QueueState{}, err
	}
	return st, nil
}

// Stats returns the observability counters.
func (s *Service) Stats(ctx context.Context) (SchedulerStats, error) {
	var st SchedulerStats
	err := s.call(ctx, func() {
		st = s.stats.snapshot(time.Now(), s.queue, s.registry)
	})
	if err != nil {
		return SchedulerStats{}, err
	}
	return st, nil
}

// RegisterDevice inserts or replaces a device record by id. Re-registering a
// device that currently has tasks in flight keeps its live load counter so
// the capacity invariant holds.
func (s *Service) RegisterDevice(ctx context.Context, d Device) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("device id required")
	}
	if d.MaxConcurrent <= 0 {
		return fmt.Errorf("device %s: max_concurrent must be > 0", d.ID)
	}
	return s.call(ctx, func() {
		now := time.Now()
		if prev, ok := s.registry.devices[d.ID]; ok {
			d.CurrentLoad = prev.CurrentLoad
		}
		if d.CurrentLoad > d.MaxConcurrent {
			d.CurrentLoad = d.MaxConcurrent
		}
		if d.LastActiveAt.IsZero() {
			d.LastActiveAt = now
		}
		s.registry.upsertDevice(d)
		s.log.Debug("device registered",
			logx.String("device", d.ID),
			logx.Int("max_concurrent", d.MaxConcurrent),
			logx.Int("platforms", len(d.Platforms)),
		)
	})
}

// RegisterAccount inserts or replaces an account record by id, keeping the
// live daily counter across re-registration.
func (s *Service) RegisterAccount(ctx context.Context, a Account) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("account id required")
	}
	if strings.TrimSpace(a.Platform) == "" {
		return fmt.Errorf("account %s: platform required", a.ID)
	}
	if a.DailyLimit <= 0 {
		return fmt.Errorf("account %s: daily_limit must be > 0", a.ID)
	}
	return s.call(ctx, func() {
		if prev, ok := s.registry.accounts[a.ID]; ok {
			a.DailyUsed = prev.DailyUsed
		}
		s.registry.upsertAccount(a)
		s.log.Debug("account registered",
			logx.String("account", a.ID),
			logx.String("platform", a.Platform),
			logx.Int("daily_limit", a.DailyLimit),
		)
	})
}

// SetDeviceStatus updates device liveness (and LastActiveAt).
func (s *Service) SetDeviceStatus(ctx context.Context, id string, status DeviceStatus) error {
	if status != DeviceOnline && status != DeviceOffline {
		return fmt.Errorf("unknown device status %q", status)
	}
	var found bool
	err := s.call(ctx, func() {
		found = s.registry.setDeviceStatus(id, status, time.Now())
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("device %s not registered", id)
	}
	s.log.Debug("device status updated", logx.String("device", id), logx.String("status", string(status)))
	return nil
}

// Devices returns defensive copies of every registered device, in
// registration order.
func (s *Service) Devices(ctx context.Context) ([]Device, error) {
	var out []Device
	err := s.call(ctx, func() {
		out = make([]Device, 0, len(s.registry.deviceOrder))
		for _, id := range s.registry.deviceOrder {
			out = append(out, copyDevice(s.registry.devices[id]))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Accounts returns defensive copies of every registered account.
func (s *Service) Accounts(ctx context.Context) ([]Account, error) {
	var out []Account
	err := s.call(ctx, func() {
		out = make([]Account, 0, len(s.registry.accountOrder))
		for _, id := range s.registry.accountOrder {
			out = append(out, copyAccount(s.registry.accounts[id]))
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
