package sched

import "time"

// statsWindow bounds the number of timing samples kept for the wait and
// processing averages.
const statsWindow = 256

// durRing is a fixed-size ring of duration samples.
type durRing struct {
	buf [statsWindow]time.Duration
	idx int
	n   int
}

func (r *durRing) add(d time.Duration) {
	r.buf[r.idx] = d
	r.idx = (r.idx + 1) % statsWindow
	if r.n < statsWindow {
		r.n++
	}
}

func (r *durRing) avg() time.Duration {
	if r.n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < r.n; i++ {
		sum += r.buf[i]
	}
	return sum / time.Duration(r.n)
}

// statsCollector aggregates scheduler observability counters. Actor-owned.
//
// Today counters always run; the timing rings and the throughput window are
// gated by performance monitoring since they are the only parts with a
// per-task bookkeeping cost beyond a counter increment.
type statsCollector struct {
	enabled bool

	day            string
	completedToday int
	failedToday    int

	wait durRing
	proc durRing

	completions []time.Time
}

func newStatsCollector(now time.Time, enabled bool) *statsCollector {
	return &statsCollector{enabled: enabled, day: dayOf(now)}
}

func (s *statsCollector) setEnabled(v bool) { s.enabled = v }

func (s *statsCollector) ensureDay(now time.Time) {
	d := dayOf(now)
	if d != s.day {
		s.day = d
		s.completedToday = 0
		s.failedToday = 0
	}
}

// noteDispatch records the pending-to-dispatch wait of one task.
func (s *statsCollector) noteDispatch(wait time.Duration) {
	if s.enabled {
		s.wait.add(wait)
	}
}

func (s *statsCollector) noteCompleted(now time.Time, processing time.Duration) {
	s.ensureDay(now)
	s.completedToday++
	if s.enabled {
		s.proc.add(processing)
		s.completions = append(s.completions, now)
		s.pruneCompletions(now)
	}
}

func (s *statsCollector) noteFailed(now time.Time) {
	s.ensureDay(now)
	s.failedToday++
}

func (s *statsCollector) pruneCompletions(now time.Time) {
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(s.completions) && s.completions[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		s.completions = append(s.completions[:0], s.completions[i:]...)
	}
}

func (s *statsCollector) throughputHour(now time.Time) int {
	s.pruneCompletions(now)
	return len(s.completions)
}

func (s *statsCollector) snapshot(now time.Time, q *taskQueue, r *resourceRegistry) SchedulerStats {
	s.ensureDay(now)
	return SchedulerStats{
		Pending:            q.pendingLen(),
		Processing:         q.processingLen(),
		CompletedToday:     s.completedToday,
		FailedToday:        s.failedToday,
		AvgWait:            s.wait.avg(),
		AvgProcessing:      s.proc.avg(),
		ThroughputHour:     s.throughputHour(now),
		DeviceUtilization:  r.deviceUtilization(),
		AccountUtilization: r.accountUtilization(),
	}
}
