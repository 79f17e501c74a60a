package config

type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Journal    *JournalConfig   `json:"journal,omitempty"`
	Recurrence RecurrenceConfig `json:"recurrence,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduling engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// TickInterval may be omitted and defaults to "1s"; every other interval
// is required.
type SchedulerConfig struct {
	Algorithm    string `json:"algorithm"` // fifo | priority | deadline | shortest_job_first
	MaxQueueSize int    `json:"max_queue_size"`

	TickInterval          string `json:"tick_interval,omitempty"`
	DeadlineCheckInterval string `json:"deadline_check_interval"`
	TaskTimeout           string `json:"task_timeout"`
	CleanupInterval       string `json:"cleanup_interval"`

	AllocationStrategy string `json:"allocation_strategy"` // greedy | optimal | balanced
	DevicePreference   bool   `json:"device_preference"`

	AccountCooldown       bool   `json:"account_cooldown"`
	AccountCooldownPeriod string `json:"account_cooldown_period,omitempty"`

	RetryDelay      string `json:"retry_delay"`
	FailedRetention string `json:"failed_retention"`

	PerformanceMonitoring bool `json:"performance_monitoring"`
}

// JournalConfig controls the optional task lifecycle journal.
//
// Driver values:
//   - "memory": in-process ring (tests, dry runs)
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL via DSN
//
// If the section is omitted or Driver is empty/"none", journaling is disabled.
type JournalConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"` // sqlite
	DSN    string `json:"dsn,omitempty"`  // postgres
	Buffer int    `json:"buffer,omitempty"`

	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// RecurrenceConfig declares templates that enqueue tasks on a schedule.
type RecurrenceConfig struct {
	Enabled   bool             `json:"enabled"`
	Timezone  string           `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
	Templates []TemplateConfig `json:"templates,omitempty"`
}

// TemplateConfig is one recurring task definition.
//
// Schedule accepts robfig/cron specs (5 or 6 fields), @descriptors, and
// "@every <duration>". DeadlineIn, when set, stamps each spawned task with
// a deadline of fire-time + DeadlineIn.
type TemplateConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`

	Type     string `json:"type"`
	Platform string `json:"platform"`
	Target   string `json:"target"`

	Priority   string `json:"priority,omitempty"` // low | normal | high | urgent
	Strategy   string `json:"strategy,omitempty"` // api_first | balanced | ui_automation | manual_fallback
	MaxRetries int    `json:"max_retries,omitempty"`

	DeadlineIn string `json:"deadline_in,omitempty"` // Go duration string
}
