package recurrence

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: SpecCron, source: "cron"},
		{name: "cron with seconds", raw: "0 30 9 * * *", kind: SpecCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, source: "cron"},
		{name: "every descriptor", raw: "@every 55m", kind: SpecCron, source: "cron"},
		{name: "duration", raw: "10m", kind: SpecInterval, source: "duration", duration: 10 * time.Minute},
		{name: "compound duration", raw: "2h30m", kind: SpecInterval, source: "duration", duration: 2*time.Hour + 30*time.Minute},
		{name: "hhmm", raw: "01:30", kind: SpecInterval, source: "hhmm", duration: 90 * time.Minute},
		{name: "hhmm padded", raw: "  00:50 ", kind: SpecInterval, source: "hhmm", duration: 50 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == SpecInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "-5m", "01:99"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) = nil error, want failure", raw)
		}
	}
}

func TestParseHHMMDuration(t *testing.T) {
	t.Parallel()
	d, err := parseHHMMDuration("23:15")
	if err != nil {
		t.Fatalf("parseHHMMDuration error: %v", err)
	}
	if want := 23*time.Hour + 15*time.Minute; d != want {
		t.Fatalf("duration = %v, want %v", d, want)
	}

	if _, err := parseHHMMDuration("00:00"); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestIntervalSpreadBounds(t *testing.T) {
	t.Parallel()
	now := time.Now()
	every := 10 * time.Minute

	sched, jitter := makeIntervalScheduleWithSpread(every, now, "morning-sweep")
	if jitter < 0 || jitter >= maxStartupSpread {
		t.Fatalf("jitter %v outside [0, %v)", jitter, maxStartupSpread)
	}

	// The first firing is pushed past the plain interval by the jitter;
	// subsequent firings fall back to the base schedule.
	first := sched.Next(now)
	if want := now.Add(every + jitter); !first.Equal(want) {
		t.Fatalf("first firing = %v, want %v", first, want)
	}
	second := sched.Next(first)
	if !second.After(first) {
		t.Fatalf("second firing %v not after first %v", second, first)
	}
}

func TestIntervalSpreadCappedByInterval(t *testing.T) {
	t.Parallel()
	_, jitter := makeIntervalScheduleWithSpread(5*time.Second, time.Now(), "fast")
	if jitter >= 5*time.Second {
		t.Fatalf("jitter %v not capped by the interval", jitter)
	}
}
