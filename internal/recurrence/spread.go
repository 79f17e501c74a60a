package recurrence

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Interval templates restarted together would otherwise all fire in the same
// tick. Each one gets a random startup delay of at most this much on top of
// its interval; after the first fire the plain interval takes over.
const maxStartupSpread = 30 * time.Second

type delayedFirstFire struct {
	first time.Time
	then  cron.Schedule
}

func (d *delayedFirstFire) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.then.Next(t)
}

var spreadSalt uint64

func spreadSeed(tag string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(tag))
	return time.Now().UnixNano() ^ int64(atomic.AddUint64(&spreadSalt, 1)) ^ int64(h.Sum64())
}

// makeIntervalScheduleWithSpread builds the schedule for an @every template.
// The returned jitter is in [0, min(every, maxStartupSpread)) and is reported
// back so the template's schedule info can show it.
func makeIntervalScheduleWithSpread(every time.Duration, now time.Time, tag string) (cron.Schedule, time.Duration) {
	base := cron.Every(every)
	limit := min(every, maxStartupSpread)
	if limit <= 0 {
		return base, 0
	}
	rng := rand.New(rand.NewSource(spreadSeed(tag)))
	jitter := time.Duration(rng.Int63n(int64(limit)))
	return &delayedFirstFire{first: now.Add(every + jitter), then: base}, jitter
}
