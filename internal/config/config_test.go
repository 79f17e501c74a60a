package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Scheduler: SchedulerConfig{
			Algorithm:             "priority",
			MaxQueueSize:          100,
			DeadlineCheckInterval: "10s",
			TaskTimeout:           "5m",
			CleanupInterval:       "1h",
			AllocationStrategy:    "balanced",
			RetryDelay:            "1m",
			FailedRetention:       "24h",
		},
	}
}

func TestValidateAcceptsMinimalConfig(t *testing.T) {
	t.Parallel()
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantSub string
	}{
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantSub: "logging.level",
		},
		{
			name:    "zero queue size",
			mutate:  func(c *Config) { c.Scheduler.MaxQueueSize = 0 },
			wantSub: "max_queue_size",
		},
		{
			name:    "bad duration syntax",
			mutate:  func(c *Config) { c.Scheduler.TaskTimeout = "five minutes" },
			wantSub: "scheduler.task_timeout",
		},
		{
			name:    "missing retry delay",
			mutate:  func(c *Config) { c.Scheduler.RetryDelay = "" },
			wantSub: "scheduler.retry_delay is required",
		},
		{
			name:    "missing failed retention",
			mutate:  func(c *Config) { c.Scheduler.FailedRetention = "" },
			wantSub: "scheduler.failed_retention is required",
		},
		{
			name:    "unknown journal driver",
			mutate:  func(c *Config) { c.Journal = &JournalConfig{Driver: "redis"} },
			wantSub: "journal.driver",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Journal = &JournalConfig{Driver: "sqlite"} },
			wantSub: "journal.path",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Journal = &JournalConfig{Driver: "postgres"} },
			wantSub: "journal.dsn",
		},
		{
			name: "template without name",
			mutate: func(c *Config) {
				c.Recurrence.Templates = []TemplateConfig{{Schedule: "@hourly", Type: "reply", Platform: "douyin", Target: "u"}}
			},
			wantSub: "name is required",
		},
		{
			name: "duplicate template names",
			mutate: func(c *Config) {
				tpl := TemplateConfig{Name: "sweep", Schedule: "@hourly", Type: "reply", Platform: "douyin", Target: "u"}
				c.Recurrence.Templates = []TemplateConfig{tpl, tpl}
			},
			wantSub: "duplicate template name",
		},
		{
			name: "template missing target",
			mutate: func(c *Config) {
				c.Recurrence.Templates = []TemplateConfig{{Name: "sweep", Schedule: "@hourly", Type: "reply", Platform: "douyin"}}
			},
			wantSub: "target are required",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate = nil, want error containing %q", tt.wantSub)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("Validate = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const yamlConfig = `
logging:
  level: debug
  console: true
scheduler:
  algorithm: deadline
  max_queue_size: 25
  tick_interval: 500ms
  deadline_check_interval: 10s
  task_timeout: 2m
  cleanup_interval: 30m
  allocation_strategy: optimal
  device_preference: true
  retry_delay: 45s
  failed_retention: 12h
journal:
  driver: sqlite
  path: /tmp/journal.db
  buffer: 128
recurrence:
  enabled: true
  timezone: Asia/Jakarta
  templates:
    - name: morning-sweep
      schedule: "0 30 9 * * *"
      type: comment_reply
      platform: douyin
      target: creator-1
      priority: high
      deadline_in: 1h
`

func TestParseYAMLConfig(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "config.yaml", yamlConfig)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scheduler.Algorithm != "deadline" {
		t.Fatalf("algorithm = %q, want deadline", cfg.Scheduler.Algorithm)
	}
	if cfg.Scheduler.MaxQueueSize != 25 {
		t.Fatalf("max_queue_size = %d, want 25", cfg.Scheduler.MaxQueueSize)
	}
	if !cfg.Scheduler.DevicePreference {
		t.Fatal("device_preference not decoded")
	}
	if cfg.Journal == nil || cfg.Journal.Driver != "sqlite" || cfg.Journal.Path != "/tmp/journal.db" {
		t.Fatalf("journal = %+v, want sqlite driver with path", cfg.Journal)
	}
	if len(cfg.Recurrence.Templates) != 1 || cfg.Recurrence.Templates[0].Name != "morning-sweep" {
		t.Fatalf("templates = %+v, want one named morning-sweep", cfg.Recurrence.Templates)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate parsed config: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "config.json", `{
  "logging": {"level": "info"},
  "scheduler": {
    "algorithm": "fifo",
    "max_queue_size": 10,
    "deadline_check_interval": "10s",
    "task_timeout": "1m",
    "cleanup_interval": "1h",
    "retry_delay": "1m",
    "failed_retention": "24h",
    "max_retries_per_task": 3
  }
}`)

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted a config with an unknown scheduler field")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "config.json", `{"logging":{"level":"info"},"scheduler":{"algorithm":"fifo","max_queue_size":1,"deadline_check_interval":"1s","task_timeout":"1s","cleanup_interval":"1s","retry_delay":"1s","failed_retention":"1s"}} {}`)

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("Parse accepted trailing data after the config document")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "500ms", want: 500 * time.Millisecond},
		{raw: "2m30s", want: 2*time.Minute + 30*time.Second},
		{raw: "10", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("test.field", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q) = %v, want error", tt.raw, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestSummarizeConfigChangeNamesSections(t *testing.T) {
	t.Parallel()
	oldCfg := validConfig()
	newCfg := validConfig()
	newCfg.Scheduler.Algorithm = "fifo"
	newCfg.Logging.Level = "debug"
	newCfg.Journal = &JournalConfig{Driver: "postgres", DSN: "postgres://u:secret@db/journal"}

	sections, fields := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"logging": false, "scheduler": false, "journal": false}
	for _, s := range sections {
		if _, ok := want[s]; ok {
			want[s] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("changed sections %v missing %q", sections, name)
		}
	}
	if len(fields) == 0 {
		t.Fatal("change summary produced no log fields")
	}

	same, sameFields := SummarizeConfigChange(oldCfg, validConfig())
	if len(same) != 0 || len(sameFields) != 0 {
		t.Fatalf("identical configs reported changes: %v", same)
	}
}
