// Package simengine is a loopback execution engine for dry runs.
//
// It implements the engine contract without touching any device: every task
// "executes" for a short simulated latency and reports COMPLETED (or FAILED
// for a configurable fraction). It exists so the daemon can run end to end
// before a real device-farm engine is attached.
package simengine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"fleetsched/internal/sched"
	logx "fleetsched/pkg/logx"
)

type Engine struct {
	log logx.Logger

	latency  time.Duration
	failRate float64 // 0..1

	mu        sync.Mutex
	rng       *rand.Rand
	cancelled map[string]bool
}

func New(latency time.Duration, failRate float64, log logx.Logger) *Engine {
	if latency <= 0 {
		latency = 200 * time.Millisecond
	}
	if failRate < 0 {
		failRate = 0
	}
	if failRate > 1 {
		failRate = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		log:       log,
		latency:   latency,
		failRate:  failRate,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		cancelled: map[string]bool{},
	}
}

func (e *Engine) ExecuteBatch(ctx context.Context, tasks []sched.Task, devices []sched.Device, accounts []sched.Account) ([]sched.TaskResult, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(e.latency):
	}

	results := make([]sched.TaskResult, 0, len(tasks))
	for _, t := range tasks {
		e.mu.Lock()
		cancelled := e.cancelled[t.ID]
		delete(e.cancelled, t.ID)
		fail := e.rng.Float64() < e.failRate
		e.mu.Unlock()
		if cancelled {
			continue
		}

		res := sched.TaskResult{
			TaskID:    t.ID,
			Status:    sched.StatusCompleted,
			DeviceID:  t.AssignedDeviceID,
			AccountID: t.AssignedAccountID,
		}
		if res.DeviceID == "" && len(devices) > 0 {
			res.DeviceID = devices[0].ID
		}
		if res.AccountID == "" && len(accounts) > 0 {
			res.AccountID = accounts[0].ID
		}
		if fail {
			res.Status = sched.StatusFailed
			res.ErrorMessage = "simulated failure"
		} else {
			res.Result = map[string]any{"simulated": true}
		}
		results = append(results, res)
	}
	e.log.Debug("simulated batch",
		logx.Int("tasks", len(tasks)),
		logx.Int("results", len(results)),
	)
	return results, nil
}

// CancelTask always accepts: there is no real device work to abort.
func (e *Engine) CancelTask(_ context.Context, taskID string) (bool, error) {
	e.mu.Lock()
	e.cancelled[taskID] = true
	e.mu.Unlock()
	return true, nil
}
