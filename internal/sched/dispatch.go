package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	logx "fleetsched/pkg/logx"
)

// tickSchedule is one scheduling pass: plan a resource-feasible batch from
// the ordered pending partition and hand it to the engine.
func (s *Service) tickSchedule() {
	now := time.Now()
	cfg := s.config()
	s.lastTick = now
	s.registry.rollover(now)
	s.stats.ensureDay(now)

	plan := planBatch(s.queue, s.registry, cfg, now)
	if plan.empty() {
		return
	}
	s.dispatchPlan(plan, cfg, now)
}

// dispatchPlan moves the planned tasks into processing, reserves their
// resources, and launches one dispatch goroutine for the batch. The engine
// call happens off the actor; its outcome re-enters through the mailbox.
func (s *Service) dispatchPlan(plan batchPlan, cfg Config, now time.Time) {
	batchID := "bat_" + uuid.NewString()

	tasks := make([]Task, 0, len(plan.tasks))
	ids := make([]string, 0, len(plan.tasks))
	for _, t := range plan.tasks {
		asg := plan.assignments[t.ID]
		wait := now.Sub(t.UpdatedAt)
		if err := s.queue.move(t, StatusExecuting, now); err != nil {
			s.log.Error("dispatch transition failed", logx.String("task", t.ID), logx.Err(err))
			continue
		}
		if cfg.DevicePreference {
			t.AssignedDeviceID = asg.deviceID
			t.AssignedAccountID = asg.accountID
		}
		s.registry.addLoad(asg.deviceID)
		s.assign[t.ID] = asg
		s.stats.noteDispatch(wait)
		tasks = append(tasks, copyTask(t))
		ids = append(ids, t.ID)
	}
	if len(tasks) == 0 {
		return
	}

	devices := make([]Device, 0, len(plan.deviceIDs))
	for _, id := range plan.deviceIDs {
		if d, ok := s.registry.devices[id]; ok {
			devices = append(devices, copyDevice(d))
		}
	}
	accounts := make([]Account, 0, len(plan.accountIDs))
	for _, id := range plan.accountIDs {
		if a, ok := s.registry.accounts[id]; ok {
			accounts = append(accounts, copyAccount(a))
		}
	}

	s.batches++
	s.publish(EventBatchDispatched, BatchEvent{
		BatchID:  batchID,
		Size:     len(tasks),
		Devices:  plan.deviceIDs,
		Accounts: plan.accountIDs,
	})
	s.log.Debug("batch dispatched",
		logx.String("batch", batchID),
		logx.Int("tasks", len(tasks)),
		logx.Int("devices", len(devices)),
		logx.Int("accounts", len(accounts)),
	)

	sup := s.Supervisor()
	if sup == nil {
		return
	}
	engine := s.engine
	timeout := cfg.TaskTimeout
	sup.Go("dispatch."+batchID, func(c context.Context) error {
		cctx, cancel := context.WithTimeout(c, timeout)
		results, err := engine.ExecuteBatch(cctx, tasks, devices, accounts)
		timedOut := errors.Is(err, context.DeadlineExceeded) ||
			(err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded))
		cancel()
		if err != nil && !timedOut && c.Err() != nil {
			// Shutdown cancelled the dispatch mid-flight. Leave the tasks
			// in processing; recovery on the next Start settles them.
			return nil
		}
		s.send(func() { s.applyBatchOutcome(batchID, ids, results, err, timedOut, time.Now()) })
		return nil
	})
}

// applyBatchOutcome settles one dispatched batch. Runs on the actor.
//
// A timed-out dispatch fails each task like a reported per-task failure
// (retry-eligible). Any other engine error fails the whole batch with no
// retry; per-task isolation is not attempted on dispatch failure.
func (s *Service) applyBatchOutcome(batchID string, ids []string, results []TaskResult, err error, timedOut bool, now time.Time) {
	cfg := s.config()

	if err != nil && timedOut {
		for _, id := range ids {
			t, ok := s.queue.get(id)
			if !ok || t.Status != StatusExecuting {
				continue
			}
			s.failProcessing(t, "execution timed out", true, false, "", now, cfg)
		}
		if s.dispatchWarn.Allow() {
			s.log.Warn("batch timed out",
				logx.String("batch", batchID),
				logx.Int("tasks", len(ids)),
				logx.Duration("timeout", cfg.TaskTimeout),
			)
		}
		return
	}
	if err != nil {
		msg := "batch dispatch failed: " + err.Error()
		for _, id := range ids {
			t, ok := s.queue.get(id)
			if !ok || t.Status != StatusExecuting {
				continue
			}
			s.failProcessing(t, msg, false, false, "", now, cfg)
		}
		if s.dispatchWarn.Allow() {
			s.log.Warn("batch dispatch failed",
				logx.String("batch", batchID),
				logx.Int("tasks", len(ids)),
				logx.Err(err),
			)
		}
		return
	}

	seen := make(map[string]bool, len(results))
	for _, res := range results {
		seen[res.TaskID] = true
		t, ok := s.queue.get(res.TaskID)
		if !ok || t.Status != StatusExecuting {
			// Already settled by the deadline monitor or a cancellation;
			// resources were released when the task left processing.
			s.log.Debug("result for task no longer processing",
				logx.String("task", res.TaskID), logx.String("batch", batchID))
			continue
		}
		if res.Result != nil {
			t.Result = res.Result
		}
		if res.ErrorMessage != "" {
			t.ErrorMessage = res.ErrorMessage
		}
		if res.DeviceID != "" {
			t.AssignedDeviceID = res.DeviceID
		}
		if res.AccountID != "" {
			t.AssignedAccountID = res.AccountID
		}

		if res.Status == StatusCompleted {
			s.completeTask(t, res.AccountID, now, cfg)
			continue
		}
		// Only a reported FAILED is retry-eligible; any other status is a
		// permanent failure.
		retry := res.Status == StatusFailed
		msg := res.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("execution reported %s", res.Status)
		}
		s.failProcessing(t, msg, retry, true, res.AccountID, now, cfg)
	}

	// Tasks the engine did not report on at all are handled like a timeout.
	for _, id := range ids {
		if seen[id] {
			continue
		}
		t, ok := s.queue.get(id)
		if !ok || t.Status != StatusExecuting {
			continue
		}
		s.failProcessing(t, "no result reported for task", true, false, "", now, cfg)
	}
}

func (s *Service) completeTask(t *Task, reportedAccount string, now time.Time, cfg Config) {
	processing := now.Sub(t.UpdatedAt)
	s.releaseResources(t, reportedAccount, true, now, cfg)
	if err := s.queue.move(t, StatusCompleted, now); err != nil {
		s.log.Error("completion transition failed", logx.String("task", t.ID), logx.Err(err))
		return
	}
	done := now
	t.CompletedAt = &done
	s.stats.noteCompleted(now, processing)
	s.publish(EventTaskCompleted, taskEvent(t, now))
	s.log.Debug("task completed",
		logx.String("task", t.ID),
		logx.String("device", t.AssignedDeviceID),
		logx.Duration("took", processing),
	)
}

// failProcessing settles one processing task as failed. When retryEligible
// and budget remains, the retry coordinator re-admits it after a delay;
// otherwise the failure is permanent.
func (s *Service) failProcessing(t *Task, msg string, retryEligible, charge bool, reportedAccount string, now time.Time, cfg Config) {
	s.releaseResources(t, reportedAccount, charge, now, cfg)
	t.ErrorMessage = msg

	if retryEligible && t.RetryCount < t.MaxRetries {
		t.RetryCount++
		if err := s.queue.move(t, StatusFailed, now); err != nil {
			s.log.Error("failure transition failed", logx.String("task", t.ID), logx.Err(err))
			return
		}
		s.publish(EventTaskRetry, taskEvent(t, now))
		s.armRetry(t, cfg)
		s.log.Debug("task failed; retry scheduled",
			logx.String("task", t.ID),
			logx.Int("attempt", t.RetryCount),
			logx.Int("max_retries", t.MaxRetries),
			logx.String("err", msg),
		)
		return
	}

	if err := s.queue.move(t, StatusFailed, now); err != nil {
		s.log.Error("failure transition failed", logx.String("task", t.ID), logx.Err(err))
		return
	}
	s.stats.noteFailed(now)
	s.publish(EventTaskFailed, taskEvent(t, now))
	s.log.Debug("task failed",
		logx.String("task", t.ID),
		logx.Int("attempts", t.RetryCount),
		logx.String("err", msg),
	)
}

// releaseResources settles the reservation made at dispatch: the reserved
// device's load drops, and when charge is set the account used is charged
// (reported id first, reserved as fallback). Exactly once per task; the
// assignment entry is the guard.
func (s *Service) releaseResources(t *Task, reportedAccount string, charge bool, now time.Time, cfg Config) {
	asg, ok := s.assign[t.ID]
	if !ok {
		return
	}
	delete(s.assign, t.ID)
	s.registry.releaseLoad(asg.deviceID)

	if !charge {
		return
	}
	accID := reportedAccount
	if accID == "" {
		accID = asg.accountID
	}
	var cooldown time.Duration
	if cfg.AccountCooldown {
		cooldown = cfg.CooldownPeriod
	}
	s.registry.chargeAccount(accID, now, cooldown)
}
