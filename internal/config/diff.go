package config

import (
	"reflect"
	"sort"
	"strings"

	logx "fleetsched/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging (never includes secrets like the postgres DSN).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.algorithm", newCfg.Scheduler.Algorithm),
			logx.String("scheduler.allocation", newCfg.Scheduler.AllocationStrategy),
			logx.Int("scheduler.max_queue_size", newCfg.Scheduler.MaxQueueSize),
			logx.String("scheduler.tick_interval", strings.TrimSpace(newCfg.Scheduler.TickInterval)),
			logx.Bool("scheduler.account_cooldown", newCfg.Scheduler.AccountCooldown),
			logx.Bool("scheduler.performance_monitoring", newCfg.Scheduler.PerformanceMonitoring),
		)
	}

	// Journal: section may be nil (disabled). Never log the DSN.
	oJ, nJ := derefJournal(oldCfg.Journal), derefJournal(newCfg.Journal)
	if (oldCfg.Journal != nil) != (newCfg.Journal != nil) || oJ != nJ {
		changed = append(changed, "journal")
		attrs = append(attrs,
			logx.String("journal.driver", strings.TrimSpace(nJ.Driver)),
			logx.Bool("journal.path_set", strings.TrimSpace(nJ.Path) != ""),
			logx.Bool("journal.dsn_set", strings.TrimSpace(nJ.DSN) != ""),
			logx.Int("journal.buffer", nJ.Buffer),
		)
	}

	if oldCfg.Recurrence.Enabled != newCfg.Recurrence.Enabled ||
		strings.TrimSpace(oldCfg.Recurrence.Timezone) != strings.TrimSpace(newCfg.Recurrence.Timezone) ||
		!reflect.DeepEqual(oldCfg.Recurrence.Templates, newCfg.Recurrence.Templates) {
		changed = append(changed, "recurrence")
		attrs = append(attrs,
			logx.Bool("recurrence.enabled", newCfg.Recurrence.Enabled),
			logx.Int("recurrence.templates", len(newCfg.Recurrence.Templates)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefJournal(j *JournalConfig) JournalConfig {
	if j == nil {
		return JournalConfig{}
	}
	return *j
}
