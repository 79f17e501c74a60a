package app

import (
	"strings"
	"testing"
	"time"

	"fleetsched/internal/config"
	"fleetsched/internal/sched"
)

func schedulerSection() config.SchedulerConfig {
	return config.SchedulerConfig{
		Algorithm:             "priority",
		MaxQueueSize:          100,
		TickInterval:          "500ms",
		DeadlineCheckInterval: "10s",
		TaskTimeout:           "5m",
		CleanupInterval:       "1h",
		AllocationStrategy:    "balanced",
		DevicePreference:      true,
		AccountCooldown:       true,
		AccountCooldownPeriod: "2m",
		RetryDelay:            "1m",
		FailedRetention:       "24h",
		PerformanceMonitoring: true,
	}
}

func TestBuildSchedConfig(t *testing.T) {
	t.Parallel()
	got, err := buildSchedConfig(schedulerSection())
	if err != nil {
		t.Fatalf("buildSchedConfig: %v", err)
	}
	want := sched.Config{
		Algorithm:             sched.AlgoPriority,
		MaxQueueSize:          100,
		TickInterval:          500 * time.Millisecond,
		DeadlineCheckInterval: 10 * time.Second,
		TaskTimeout:           5 * time.Minute,
		CleanupInterval:       time.Hour,
		Allocation:            sched.AllocBalanced,
		DevicePreference:      true,
		AccountCooldown:       true,
		CooldownPeriod:        2 * time.Minute,
		RetryDelay:            time.Minute,
		FailedRetention:       24 * time.Hour,
		PerformanceMonitoring: true,
	}
	if got != want {
		t.Fatalf("config = %+v, want %+v", got, want)
	}
}

func TestBuildSchedConfigDefaultsTick(t *testing.T) {
	t.Parallel()
	s := schedulerSection()
	s.TickInterval = ""
	got, err := buildSchedConfig(s)
	if err != nil {
		t.Fatalf("buildSchedConfig: %v", err)
	}
	if got.TickInterval != time.Second {
		t.Fatalf("TickInterval = %v, want 1s default", got.TickInterval)
	}
}

func TestBuildSchedConfigRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(s *config.SchedulerConfig)
		wantSub string
	}{
		{
			name:    "unknown algorithm",
			mutate:  func(s *config.SchedulerConfig) { s.Algorithm = "lifo" },
			wantSub: "algorithm",
		},
		{
			name:    "unknown allocation",
			mutate:  func(s *config.SchedulerConfig) { s.AllocationStrategy = "random" },
			wantSub: "allocation_strategy",
		},
		{
			name:    "zero task timeout",
			mutate:  func(s *config.SchedulerConfig) { s.TaskTimeout = "0s" },
			wantSub: "task_timeout",
		},
		{
			name:    "malformed retention",
			mutate:  func(s *config.SchedulerConfig) { s.FailedRetention = "1 day" },
			wantSub: "failed_retention",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := schedulerSection()
			tt.mutate(&s)
			_, err := buildSchedConfig(s)
			if err == nil {
				t.Fatalf("buildSchedConfig = nil error, want %q", tt.wantSub)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q missing %q", err, tt.wantSub)
			}
		})
	}
}

func TestBuildTemplates(t *testing.T) {
	t.Parallel()
	in := []config.TemplateConfig{
		{
			Name:       "morning-sweep",
			Schedule:   "0 30 9 * * *",
			Type:       "comment_reply",
			Platform:   "douyin",
			Target:     "creator-1",
			Priority:   "high",
			Strategy:   "api_first",
			MaxRetries: 2,
			DeadlineIn: "1h",
		},
		{
			Name:     "drip",
			Schedule: "30m",
			Type:     "follow",
			Platform: "oceanengine",
			Target:   "creator-2",
		},
	}
	got, err := buildTemplates(in)
	if err != nil {
		t.Fatalf("buildTemplates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("templates = %d, want 2", len(got))
	}
	if got[0].Priority != sched.PriorityHigh || got[0].Strategy != sched.StrategyAPIFirst {
		t.Fatalf("template tuning = %+v, overrides not mapped", got[0])
	}
	if got[0].DeadlineIn != time.Hour {
		t.Fatalf("DeadlineIn = %v, want 1h", got[0].DeadlineIn)
	}
	// Omitted tuning falls back to the engine defaults.
	if got[1].Priority != sched.PriorityNormal || got[1].Strategy != sched.StrategyBalanced {
		t.Fatalf("default tuning = %+v", got[1])
	}
	if got[1].DeadlineIn != 0 {
		t.Fatalf("DeadlineIn = %v, want unset", got[1].DeadlineIn)
	}
}

func TestBuildTemplatesRejectsBadSpec(t *testing.T) {
	t.Parallel()
	in := []config.TemplateConfig{{
		Name:     "broken",
		Schedule: "whenever",
		Type:     "follow",
		Platform: "douyin",
		Target:   "creator-1",
	}}
	_, err := buildTemplates(in)
	if err == nil {
		t.Fatal("buildTemplates accepted an unparseable schedule")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Fatalf("error %q does not name the template", err)
	}
}

func TestJournalConfigMapping(t *testing.T) {
	t.Parallel()
	if got := journalConfig(nil); got.Driver != "" {
		t.Fatalf("nil section mapped to driver %q, want disabled", got.Driver)
	}
	got := journalConfig(&config.JournalConfig{
		Driver:      "sqlite",
		Path:        "/var/lib/fleetsched/journal.db",
		Buffer:      256,
		BusyTimeout: "5s",
	})
	if got.Driver != "sqlite" || got.Path != "/var/lib/fleetsched/journal.db" || got.Buffer != 256 {
		t.Fatalf("journal config = %+v", got)
	}
	if got.BusyTimeout != 5*time.Second {
		t.Fatalf("BusyTimeout = %v, want 5s", got.BusyTimeout)
	}
}
