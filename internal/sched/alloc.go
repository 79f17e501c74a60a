package sched

import "time"

// assignment records which resources a processing task reserved.
// Used to release exactly once when the task leaves processing, even when
// the engine's result omits resource ids.
type assignment struct {
	deviceID  string
	accountID string
}

// batchPlan is the outcome of one tick's selection pass.
type batchPlan struct {
	tasks       []*Task
	assignments map[string]assignment
	deviceIDs   []string
	accountIDs  []string
}

func (p batchPlan) empty() bool { return len(p.tasks) == 0 }

// planBatch walks the ordered pending partition and reserves a device and an
// account for as many tasks as capacity allows. Reservations made earlier in
// the same tick count against later tasks, so one device with a single free
// slot is never planned twice. Tasks with no feasible resource pair stay
// pending untouched and are re-evaluated next tick.
func planBatch(q *taskQueue, r *resourceRegistry, cfg Config, now time.Time) batchPlan {
	plan := batchPlan{assignments: make(map[string]assignment)}

	devices := r.availableDevices()
	accounts := r.availableAccounts(now, cfg.AccountCooldown)
	if len(devices) == 0 || len(accounts) == 0 {
		return plan
	}

	free := 0
	for _, d := range devices {
		free += d.MaxConcurrent - d.CurrentLoad
	}
	capacity := cfg.MaxQueueSize
	if free < capacity {
		capacity = free
	}
	capacity -= q.processingLen()
	if capacity <= 0 {
		return plan
	}

	devResv := make(map[string]int)
	accResv := make(map[string]int)
	devSeen := make(map[string]bool)
	accSeen := make(map[string]bool)

	for _, t := range q.pending {
		if len(plan.tasks) >= capacity {
			break
		}
		d := pickDevice(devices, devResv, t.Platform, cfg.Allocation)
		if d == nil {
			continue
		}
		a := pickAccount(accounts, accResv, t.Platform, cfg.Allocation)
		if a == nil {
			continue
		}

		devResv[d.ID]++
		accResv[a.ID]++
		plan.tasks = append(plan.tasks, t)
		plan.assignments[t.ID] = assignment{deviceID: d.ID, accountID: a.ID}
		if !devSeen[d.ID] {
			devSeen[d.ID] = true
			plan.deviceIDs = append(plan.deviceIDs, d.ID)
		}
		if !accSeen[a.ID] {
			accSeen[a.ID] = true
			plan.accountIDs = append(plan.accountIDs, a.ID)
		}
	}
	return plan
}

// pickDevice selects among devices that support the platform and still have
// slack after this tick's reservations.
//
//   - greedy: first feasible device in registration order
//   - balanced: lowest effective load ratio
//   - optimal: highest score (spare capacity plus a specialist bonus for
//     devices serving fewer platforms)
func pickDevice(devices []*Device, resv map[string]int, platform string, strat AllocationStrategy) *Device {
	var best *Device
	var bestScore float64

	for _, d := range devices {
		if !d.supportsPlatform(platform) {
			continue
		}
		eff := d.CurrentLoad + resv[d.ID]
		if eff >= d.MaxConcurrent {
			continue
		}
		if strat == AllocGreedy {
			return d
		}

		var score float64
		switch strat {
		case AllocBalanced:
			score = 1 - float64(eff)/float64(d.MaxConcurrent)
		case AllocOptimal:
			score = 1 - float64(eff)/float64(d.MaxConcurrent)
			if n := len(d.Platforms); n > 0 {
				score += 1 / float64(n)
			}
		}
		if best == nil || score > bestScore {
			best = d
			bestScore = score
		}
	}
	return best
}

// pickAccount mirrors pickDevice over the account pool; balanced and optimal
// both prefer the account with the most daily headroom left.
func pickAccount(accounts []*Account, resv map[string]int, platform string, strat AllocationStrategy) *Account {
	var best *Account
	var bestScore float64

	for _, a := range accounts {
		if a.Platform != platform {
			continue
		}
		eff := a.DailyUsed + resv[a.ID]
		if eff >= a.DailyLimit {
			continue
		}
		if strat == AllocGreedy {
			return a
		}

		score := 1 - float64(eff)/float64(a.DailyLimit)
		if best == nil || score > bestScore {
			best = a
			bestScore = score
		}
	}
	return best
}
