package sched

import "time"

// resourceRegistry tracks devices and accounts. Like taskQueue it is owned
// by the actor goroutine and does no locking of its own.
//
// Registration order is preserved so the greedy allocation strategy walks
// devices deterministically.
type resourceRegistry struct {
	devices     map[string]*Device
	deviceOrder []string

	accounts     map[string]*Account
	accountOrder []string

	// day is the local date the account daily counters belong to.
	day string
}

func newResourceRegistry(now time.Time) *resourceRegistry {
	return &resourceRegistry{
		devices:  make(map[string]*Device),
		accounts: make(map[string]*Account),
		day:      dayOf(now),
	}
}

func dayOf(now time.Time) string { return now.Format("2006-01-02") }

// rollover zeroes account daily counters when the local date changes.
// Called from mutation points only; availability queries stay pure.
func (r *resourceRegistry) rollover(now time.Time) {
	d := dayOf(now)
	if d == r.day {
		return
	}
	r.day = d
	for _, a := range r.accounts {
		a.DailyUsed = 0
	}
}

// upsertDevice inserts or replaces a device record wholesale.
func (r *resourceRegistry) upsertDevice(d Device) {
	if _, ok := r.devices[d.ID]; !ok {
		r.deviceOrder = append(r.deviceOrder, d.ID)
	}
	cp := d
	cp.Platforms = append([]string(nil), d.Platforms...)
	r.devices[d.ID] = &cp
}

func (r *resourceRegistry) upsertAccount(a Account) {
	if _, ok := r.accounts[a.ID]; !ok {
		r.accountOrder = append(r.accountOrder, a.ID)
	}
	cp := a
	if a.CooldownUntil != nil {
		t := *a.CooldownUntil
		cp.CooldownUntil = &t
	}
	r.accounts[a.ID] = &cp
}

// setDeviceStatus updates liveness and stamps LastActiveAt.
func (r *resourceRegistry) setDeviceStatus(id string, status DeviceStatus, now time.Time) bool {
	d, ok := r.devices[id]
	if !ok {
		return false
	}
	d.Status = status
	d.LastActiveAt = now
	return true
}

func deviceAvailable(d *Device) bool {
	return d.Status == DeviceOnline && d.CurrentLoad < d.MaxConcurrent
}

func accountAvailable(a *Account, now time.Time, cooldownEnabled bool) bool {
	if !a.Active {
		return false
	}
	if cooldownEnabled && a.CooldownUntil != nil && now.Before(*a.CooldownUntil) {
		return false
	}
	return a.DailyUsed < a.DailyLimit
}

// availableDevices returns live pointers in registration order.
// Pure: callers must not hand these out of the actor.
func (r *resourceRegistry) availableDevices() []*Device {
	out := make([]*Device, 0, len(r.deviceOrder))
	for _, id := range r.deviceOrder {
		if d := r.devices[id]; deviceAvailable(d) {
			out = append(out, d)
		}
	}
	return out
}

func (r *resourceRegistry) availableAccounts(now time.Time, cooldownEnabled bool) []*Account {
	out := make([]*Account, 0, len(r.accountOrder))
	for _, id := range r.accountOrder {
		if a := r.accounts[id]; accountAvailable(a, now, cooldownEnabled) {
			out = append(out, a)
		}
	}
	return out
}

// addLoad increments a device's load at assignment time.
func (r *resourceRegistry) addLoad(id string) {
	if d, ok := r.devices[id]; ok && d.CurrentLoad < d.MaxConcurrent {
		d.CurrentLoad++
	}
}

// releaseLoad decrements a device's load when a task leaves processing.
// Clamped at zero: a device re-registered mid-flight may have had its
// counters replaced.
func (r *resourceRegistry) releaseLoad(id string) {
	if d, ok := r.devices[id]; ok && d.CurrentLoad > 0 {
		d.CurrentLoad--
	}
}

// chargeAccount records one use: daily counter, LastUsedAt, and, when the
// engine manages cooldowns, the next cooldown window.
func (r *resourceRegistry) chargeAccount(id string, now time.Time, cooldown time.Duration) {
	a, ok := r.accounts[id]
	if !ok {
		return
	}
	a.DailyUsed++
	a.LastUsedAt = now
	if cooldown > 0 {
		until := now.Add(cooldown)
		a.CooldownUntil = &until
	}
}

func (r *resourceRegistry) deviceUtilization() map[string]ResourceUsage {
	out := make(map[string]ResourceUsage, len(r.devices))
	for id, d := range r.devices {
		out[id] = usageOf(d.CurrentLoad, d.MaxConcurrent)
	}
	return out
}

func (r *resourceRegistry) accountUtilization() map[string]ResourceUsage {
	out := make(map[string]ResourceUsage, len(r.accounts))
	for id, a := range r.accounts {
		out[id] = usageOf(a.DailyUsed, a.DailyLimit)
	}
	return out
}

func copyDevice(d *Device) Device {
	cp := *d
	cp.Platforms = append([]string(nil), d.Platforms...)
	return cp
}

func copyAccount(a *Account) Account {
	cp := *a
	if a.CooldownUntil != nil {
		t := *a.CooldownUntil
		cp.CooldownUntil = &t
	}
	return cp
}
