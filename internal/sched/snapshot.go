package sched

import (
	"context"
	"time"

	rtsup "fleetsched/internal/runtime/supervisor"
)

// Snapshot is a point-in-time diagnostic view of the engine, intended for
// operator output and debugging rather than scheduling decisions.
type Snapshot struct {
	Running bool `json:"running"`

	Algorithm  Algorithm          `json:"algorithm"`
	Allocation AllocationStrategy `json:"allocation"`

	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`

	RetryTimersArmed int `json:"retry_timers_armed"`

	Devices  int `json:"devices"`
	Accounts int `json:"accounts"`

	BatchesDispatched uint64    `json:"batches_dispatched"`
	LastTickAt        time.Time `json:"last_tick_at"`

	Supervisor rtsup.SupervisorSnapshot `json:"supervisor"`
}

// Snapshot collects the diagnostic view. Safe to call on a stopped engine;
// counters then reflect the state frozen at the last stop.
func (s *Service) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{Running: s.Running()}

	cfg := s.config()
	snap.Algorithm = cfg.Algorithm
	snap.Allocation = cfg.Allocation

	err := s.call(ctx, func() {
		snap.Pending = s.queue.pendingLen()
		snap.Processing = s.queue.processingLen()
		snap.Completed = len(s.queue.completed)
		snap.Failed = len(s.queue.failed)
		snap.Cancelled = len(s.queue.cancelled)
		snap.RetryTimersArmed = len(s.retries)
		snap.Devices = len(s.registry.devices)
		snap.Accounts = len(s.registry.accounts)
		snap.BatchesDispatched = s.batches
		snap.LastTickAt = s.lastTick
	})
	if err != nil {
		// Stopped: the actor is gone but its state is quiescent.
		snap.Pending = s.queue.pendingLen()
		snap.Processing = s.queue.processingLen()
		snap.Completed = len(s.queue.completed)
		snap.Failed = len(s.queue.failed)
		snap.Cancelled = len(s.queue.cancelled)
		snap.RetryTimersArmed = len(s.retries)
		snap.Devices = len(s.registry.devices)
		snap.Accounts = len(s.registry.accounts)
		snap.BatchesDispatched = s.batches
		snap.LastTickAt = s.lastTick
	}
	if sup := s.Supervisor(); sup != nil {
		snap.Supervisor = sup.Snapshot()
	}
	return snap
}
