package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validJournalDrivers = map[string]bool{
	"": true, "none": true, "memory": true, "sqlite": true, "postgres": true,
}

// Validate checks everything the config package can judge on its own:
// log level, duration syntax, journal driver, template shape. Semantic
// validation of scheduler enums happens where the values are consumed
// (sched.Config.Validate), wired in via the manager's validator hook.
func (c *Config) Validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if lvl != "" && !validLogLevels[lvl] {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	s := c.Scheduler
	if s.MaxQueueSize <= 0 {
		return fmt.Errorf("scheduler.max_queue_size must be > 0")
	}
	for _, f := range []struct{ path, raw string }{
		{"scheduler.tick_interval", s.TickInterval},
		{"scheduler.deadline_check_interval", s.DeadlineCheckInterval},
		{"scheduler.task_timeout", s.TaskTimeout},
		{"scheduler.cleanup_interval", s.CleanupInterval},
		{"scheduler.account_cooldown_period", s.AccountCooldownPeriod},
		{"scheduler.retry_delay", s.RetryDelay},
		{"scheduler.failed_retention", s.FailedRetention},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	for _, f := range []struct{ path, raw string }{
		{"scheduler.deadline_check_interval", s.DeadlineCheckInterval},
		{"scheduler.task_timeout", s.TaskTimeout},
		{"scheduler.cleanup_interval", s.CleanupInterval},
		{"scheduler.retry_delay", s.RetryDelay},
		{"scheduler.failed_retention", s.FailedRetention},
	} {
		if strings.TrimSpace(f.raw) == "" {
			return fmt.Errorf("%s is required", f.path)
		}
	}

	if c.Journal != nil {
		driver := strings.ToLower(strings.TrimSpace(c.Journal.Driver))
		if !validJournalDrivers[driver] {
			return fmt.Errorf("journal.driver: unknown driver %q", c.Journal.Driver)
		}
		if driver == "sqlite" && strings.TrimSpace(c.Journal.Path) == "" {
			return fmt.Errorf("journal.path is required for the sqlite driver")
		}
		if driver == "postgres" && strings.TrimSpace(c.Journal.DSN) == "" {
			return fmt.Errorf("journal.dsn is required for the postgres driver")
		}
		if _, err := ParseDurationField("journal.busy_timeout", c.Journal.BusyTimeout); err != nil {
			return err
		}
	}

	seen := make(map[string]bool, len(c.Recurrence.Templates))
	for i, t := range c.Recurrence.Templates {
		where := fmt.Sprintf("recurrence.templates[%d]", i)
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("%s: name is required", where)
		}
		if seen[name] {
			return fmt.Errorf("%s: duplicate template name %q", where, name)
		}
		seen[name] = true
		if strings.TrimSpace(t.Schedule) == "" {
			return fmt.Errorf("%s (%s): schedule is required", where, name)
		}
		if strings.TrimSpace(t.Type) == "" || strings.TrimSpace(t.Platform) == "" || strings.TrimSpace(t.Target) == "" {
			return fmt.Errorf("%s (%s): type, platform and target are required", where, name)
		}
		if t.MaxRetries < 0 {
			return fmt.Errorf("%s (%s): max_retries must be >= 0", where, name)
		}
		if _, err := ParseDurationField(where+".deadline_in", t.DeadlineIn); err != nil {
			return err
		}
	}
	return nil
}
