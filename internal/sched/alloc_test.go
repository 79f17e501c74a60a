package sched

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		Algorithm:             AlgoFIFO,
		MaxQueueSize:          100,
		TickInterval:          time.Second,
		DeadlineCheckInterval: time.Second,
		TaskTimeout:           time.Second,
		CleanupInterval:       time.Hour,
		Allocation:            AllocGreedy,
		RetryDelay:            time.Second,
		FailedRetention:       time.Hour,
	}
}

func registryWith(now time.Time, devices []Device, accounts []Account) *resourceRegistry {
	r := newResourceRegistry(now)
	for _, d := range devices {
		r.upsertDevice(d)
	}
	for _, a := range accounts {
		r.upsertAccount(a)
	}
	return r
}

func TestPlanBatchRespectsDeviceCapacityWithinTick(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := newTaskQueue()
	q.addPending(pendingTask("t1", PriorityNormal, nil, StrategyBalanced))
	q.addPending(pendingTask("t2", PriorityNormal, nil, StrategyBalanced))

	r := registryWith(now,
		[]Device{{ID: "d1", Status: DeviceOnline, MaxConcurrent: 1, Platforms: []string{"douyin"}}},
		[]Account{{ID: "a1", Platform: "douyin", Active: true, DailyLimit: 10}},
	)

	plan := planBatch(q, r, testConfig(), now)
	if len(plan.tasks) != 1 {
		t.Fatalf("planned %d tasks for a single-slot device, want 1", len(plan.tasks))
	}
	if plan.tasks[0].ID != "t1" {
		t.Fatalf("planned %s, want t1 (front of pending)", plan.tasks[0].ID)
	}
}

func TestPlanBatchSkipsWhenNoResources(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := newTaskQueue()
	q.addPending(pendingTask("t1", PriorityNormal, nil, StrategyBalanced))

	tests := []struct {
		name     string
		devices  []Device
		accounts []Account
	}{
		{name: "no devices", accounts: []Account{{ID: "a1", Platform: "douyin", Active: true, DailyLimit: 5}}},
		{name: "no accounts", devices: []Device{{ID: "d1", Status: DeviceOnline, MaxConcurrent: 2, Platforms: []string{"douyin"}}}},
		{
			name:     "device offline",
			devices:  []Device{{ID: "d1", Status: DeviceOffline, MaxConcurrent: 2, Platforms: []string{"douyin"}}},
			accounts: []Account{{ID: "a1", Platform: "douyin", Active: true, DailyLimit: 5}},
		},
		{
			name:     "account inactive",
			devices:  []Device{{ID: "d1", Status: DeviceOnline, MaxConcurrent: 2, Platforms: []string{"douyin"}}},
			accounts: []Account{{ID: "a1", Platform: "douyin", Active: false, DailyLimit: 5}},
		},
		{
			name:     "account over daily limit",
			devices:  []Device{{ID: "d1", Status: DeviceOnline, MaxConcurrent: 2, Platforms: []string{"douyin"}}},
			accounts: []Account{{ID: "a1", Platform: "douyin", Active: true, DailyUsed: 5, DailyLimit: 5}},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := registryWith(now, tt.devices, tt.accounts)
			plan := planBatch(q, r, testConfig(), now)
			if !plan.empty() {
				t.Fatalf("planned %d tasks, want empty plan", len(plan.tasks))
			}
		})
	}
}

func TestPlanBatchPlatformFilterLeavesTaskPending(t *testing.T) {
	t.Parallel()
	now := time.Now()
	q := newTaskQueue()
	other := pendingTask("other", PriorityNormal, nil, StrategyBalanced)
	other.Platform = "oceanengine"
	q.addPending(other)
	q.addPending(pendingTask("match", PriorityNormal, nil, StrategyBalanced))

	r := registryWith(now,
		[]Device{{ID: "d1", Status: DeviceOnline, MaxConcurrent: 4, Platforms: []string{"douyin"}}},
		[]Account{{ID: "a1", Platform: "douyin", Active: true, DailyLimit: 10}},
	)

	plan := planBatch(q, r, testConfig(), now)
	if len(plan.tasks) != 1 || plan.tasks[0].ID != "match" {
		t.Fatalf("plan = %v, want just task 'match'", ids(plan.tasks))
	}
	// The infeasible task must remain pending untouched.
	if got, _ := q.get("other"); got.Status != StatusPending {
		t.Fatalf("infeasible task status = %s, want PENDING", got.Status)
	}
}

func TestPlanBatchAccountCooldown(t *testing.T) {
	t.Parallel()
	now := time.Now()
	until := now.Add(time.Hour)
	q := newTaskQueue()
	q.addPending(pendingTask("t1", PriorityNormal, nil, StrategyBalanced))
	r := registryWith(now,
		[]Device{{ID: "d1", Status: DeviceOnline, MaxConcurrent: 2, Platforms: []string{"douyin"}}},
		[]Account{{ID: "a1", Platform: "douyin", Active: true, DailyLimit: 5, CooldownUntil: &until}},
	)

	cfg := testConfig()
	cfg.AccountCooldown = true
	if plan := planBatch(q, r, cfg, now); !plan.empty() {
		t.Fatal("cooling-down account must not be planned while cooldown is enforced")
	}
	cfg.AccountCooldown = false
	if plan := planBatch(q, r, cfg, now); plan.empty() {
		t.Fatal("cooldown disabled: account should be usable")
	}
}

func TestPickDeviceStrategies(t *testing.T) {
	t.Parallel()
	devices := []*Device{
		{ID: "busy", Status: DeviceOnline, CurrentLoad: 3, MaxConcurrent: 4, Platforms: []string{"douyin"}},
		{ID: "idle", Status: DeviceOnline, CurrentLoad: 0, MaxConcurrent: 4, Platforms: []string{"douyin", "oceanengine"}},
		{ID: "specialist", Status: DeviceOnline, CurrentLoad: 0, MaxConcurrent: 4, Platforms: []string{"douyin"}},
	}
	resv := map[string]int{}

	if d := pickDevice(devices, resv, "douyin", AllocGreedy); d == nil || d.ID != "busy" {
		t.Fatalf("greedy picked %v, want first feasible (busy)", d)
	}
	if d := pickDevice(devices, resv, "douyin", AllocBalanced); d == nil || d.ID != "idle" {
		t.Fatalf("balanced picked %v, want least-loaded (idle)", d)
	}
	// Optimal prefers the equally idle device that serves fewer platforms.
	if d := pickDevice(devices, resv, "douyin", AllocOptimal); d == nil || d.ID != "specialist" {
		t.Fatalf("optimal picked %v, want specialist", d)
	}
}

func TestPickAccountPrefersHeadroom(t *testing.T) {
	t.Parallel()
	accounts := []*Account{
		{ID: "nearly", Platform: "douyin", Active: true, DailyUsed: 9, DailyLimit: 10},
		{ID: "fresh", Platform: "douyin", Active: true, DailyUsed: 0, DailyLimit: 10},
	}
	if a := pickAccount(accounts, map[string]int{}, "douyin", AllocBalanced); a == nil || a.ID != "fresh" {
		t.Fatalf("balanced picked %v, want account with most headroom", a)
	}
	if a := pickAccount(accounts, map[string]int{}, "douyin", AllocGreedy); a == nil || a.ID != "nearly" {
		t.Fatalf("greedy picked %v, want first feasible", a)
	}
}

func TestRegistryRolloverResetsDailyCounters(t *testing.T) {
	t.Parallel()
	now := time.Now()
	r := registryWith(now, nil, []Account{{ID: "a1", Platform: "douyin", Active: true, DailyUsed: 7, DailyLimit: 10}})
	r.rollover(now)
	if r.accounts["a1"].DailyUsed != 7 {
		t.Fatal("same-day rollover must not reset counters")
	}
	r.rollover(now.Add(24 * time.Hour))
	if r.accounts["a1"].DailyUsed != 0 {
		t.Fatalf("DailyUsed = %d after day change, want 0", r.accounts["a1"].DailyUsed)
	}
}

func TestRegistryLoadClamps(t *testing.T) {
	t.Parallel()
	now := time.Now()
	r := registryWith(now, []Device{{ID: "d1", Status: DeviceOnline, MaxConcurrent: 1, Platforms: []string{"douyin"}}}, nil)

	r.addLoad("d1")
	r.addLoad("d1") // beyond capacity: must clamp
	if got := r.devices["d1"].CurrentLoad; got != 1 {
		t.Fatalf("CurrentLoad = %d, want clamped at MaxConcurrent 1", got)
	}
	r.releaseLoad("d1")
	r.releaseLoad("d1") // below zero: must clamp
	if got := r.devices["d1"].CurrentLoad; got != 0 {
		t.Fatalf("CurrentLoad = %d, want clamped at 0", got)
	}
}
