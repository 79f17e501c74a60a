package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"fleetsched/internal/config"
	"fleetsched/internal/eventbus"
	"fleetsched/internal/journal"
	"fleetsched/internal/recurrence"
	"fleetsched/internal/runtime/supervisor"
	"fleetsched/internal/sched"
	logx "fleetsched/pkg/logx"
)

// App is the composition root: config -> logging -> bus -> journal ->
// scheduling engine -> recurrence. The execution engine is an external
// collaborator injected by the caller.
type App struct {
	cfgPath string
	engine  sched.ExecutionEngine

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  journal.Store
	writer *journal.Writer

	scheduler *sched.Service
	templates *recurrence.Service

	mu      sync.Mutex
	started bool
}

func New(cfgPath string, engine sched.ExecutionEngine) (*App, error) {
	if engine == nil {
		return nil, errors.New("execution engine is required")
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	schedCfg, err := buildSchedConfig(cfg.Scheduler)
	if err != nil {
		logs.Close()
		return nil, err
	}

	bus := eventbus.New()
	engineSvc, err := sched.New(schedCfg, engine, log.With(logx.String("comp", "sched")), bus)
	if err != nil {
		logs.Close()
		return nil, err
	}

	templates := recurrence.New(
		recurrence.Config{Enabled: cfg.Recurrence.Enabled, Timezone: cfg.Recurrence.Timezone},
		engineSvc,
		log.With(logx.String("comp", "recurrence")),
	)
	tpls, err := buildTemplates(cfg.Recurrence.Templates)
	if err != nil {
		logs.Close()
		return nil, err
	}
	for _, tpl := range tpls {
		if err := templates.Upsert(tpl); err != nil {
			logs.Close()
			return nil, err
		}
	}

	a := &App{
		cfgPath:   cfgPath,
		engine:    engine,
		cfgm:      cfgm,
		log:       log,
		logs:      logs,
		bus:       bus,
		scheduler: engineSvc,
		templates: templates,
	}

	// Validator: a hot-reloaded config only commits if the whole thing still
	// maps onto runnable component configs.
	cfgm.SetValidator(func(_ context.Context, c *config.Config) error {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, err := buildSchedConfig(c.Scheduler); err != nil {
			return err
		}
		_, err := buildTemplates(c.Recurrence.Templates)
		return err
	})

	return a, nil
}

// Start brings everything up. Not idempotent by design: the process calls it
// once; repeated cycles go through Stop first.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = true
	a.mu.Unlock()

	cfg := a.cfgm.Get()
	a.sup = supervisor.NewSupervisor(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(false),
	)

	// Journal first so no lifecycle events from startup are missed.
	if cfg.Journal != nil {
		store, err := journal.Open(ctx, journalConfig(cfg.Journal), a.log.With(logx.String("comp", "journal")))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		if store != nil {
			a.store = store
			a.writer = journal.NewWriter(store, a.bus, cfg.Journal.Buffer, a.log.With(logx.String("comp", "journal")))
			a.writer.Start(a.sup.Context())
		}
	}

	a.scheduler.Start(a.sup.Context())
	if cfg.Recurrence.Enabled {
		a.templates.Start(a.sup.Context())
	}

	// Config hot reload: watcher feeds the manager, the manager publishes
	// committed configs, applyLoop applies them.
	a.sup.GoRestart("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	updates := a.cfgm.Subscribe(2)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(updates)
		prev := cfg
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				a.applyConfig(c, prev, next)
				prev = next
			}
		}
	})

	a.log.Info("fleetsched started",
		logx.String("config", a.cfgPath),
		logx.Bool("journal", a.store != nil),
		logx.Bool("recurrence", cfg.Recurrence.Enabled),
	)
	return nil
}

// Stop tears everything down in reverse order.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	a.mu.Unlock()

	a.templates.Stop(ctx)
	a.scheduler.Stop(ctx)
	if a.writer != nil {
		a.writer.Stop(ctx)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("journal close failed", logx.Err(err))
		}
	}
	if a.sup != nil {
		a.sup.Cancel()
		_ = a.sup.Wait(ctx)
	}
	a.log.Info("fleetsched stopped")
	a.logs.Close()
	return nil
}

// applyConfig applies a committed hot-reload. Journal driver changes need a
// process restart and are only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	changed, attrs := config.SummarizeConfigChange(prev, next)
	if len(changed) == 0 {
		return
	}
	a.log.Info("config reloaded",
		append([]logx.Field{logx.String("sections", strings.Join(changed, ","))}, attrs...)...)

	for _, section := range changed {
		switch section {
		case "logging":
			a.logs.Apply(logx.Config{
				Level:   next.Logging.Level,
				Console: next.Logging.Console,
				File:    logx.FileConfig{Enabled: next.Logging.File.Enabled, Path: next.Logging.File.Path},
			})
		case "scheduler":
			cfg, err := buildSchedConfig(next.Scheduler)
			if err != nil {
				// Validator should have caught this; keep the old tunables.
				a.log.Error("scheduler config rejected at apply", logx.Err(err))
				continue
			}
			if err := a.scheduler.Apply(ctx, cfg); err != nil {
				a.log.Error("scheduler apply failed", logx.Err(err))
			}
		case "recurrence":
			a.applyRecurrence(next)
		case "journal":
			a.log.Warn("journal config changed; restart required to take effect")
		}
	}
}

func (a *App) applyRecurrence(next *config.Config) {
	a.templates.Apply(recurrence.Config{
		Enabled:  next.Recurrence.Enabled,
		Timezone: next.Recurrence.Timezone,
	})

	tpls, err := buildTemplates(next.Recurrence.Templates)
	if err != nil {
		a.log.Error("recurrence templates rejected at apply", logx.Err(err))
		return
	}
	keep := make(map[string]bool, len(tpls))
	for _, tpl := range tpls {
		keep[tpl.Name] = true
		if err := a.templates.Upsert(tpl); err != nil {
			a.log.Error("template upsert failed", logx.String("template", tpl.Name), logx.Err(err))
		}
	}
	for _, info := range a.templates.Schedules() {
		if !keep[info.Name] {
			a.templates.Remove(info.Name)
		}
	}
}

func (a *App) Scheduler() *sched.Service { return a.scheduler }

func (a *App) Recurrence() *recurrence.Service { return a.templates }

func (a *App) Journal() journal.Store { return a.store }

func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Logger() logx.Logger { return a.log }

func journalConfig(j *config.JournalConfig) journal.Config {
	if j == nil {
		return journal.Config{}
	}
	cfg := journal.Config{
		Driver: j.Driver,
		Path:   j.Path,
		DSN:    j.DSN,
		Buffer: j.Buffer,
	}
	if d, err := config.ParseDurationField("journal.busy_timeout", j.BusyTimeout); err == nil {
		cfg.BusyTimeout = d
	}
	return cfg
}

// buildSchedConfig maps the declarative scheduler section onto the engine's
// typed config.
func buildSchedConfig(s config.SchedulerConfig) (sched.Config, error) {
	algo, err := sched.ParseAlgorithm(s.Algorithm)
	if err != nil {
		return sched.Config{}, fmt.Errorf("scheduler.algorithm: %w", err)
	}
	alloc, err := sched.ParseAllocationStrategy(s.AllocationStrategy)
	if err != nil {
		return sched.Config{}, fmt.Errorf("scheduler.allocation_strategy: %w", err)
	}

	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", s.TickInterval, time.Second)
	if err != nil {
		return sched.Config{}, err
	}
	durs := make(map[string]time.Duration, 5)
	for _, f := range []struct{ key, path, raw string }{
		{"deadline", "scheduler.deadline_check_interval", s.DeadlineCheckInterval},
		{"timeout", "scheduler.task_timeout", s.TaskTimeout},
		{"cleanup", "scheduler.cleanup_interval", s.CleanupInterval},
		{"retry", "scheduler.retry_delay", s.RetryDelay},
		{"retention", "scheduler.failed_retention", s.FailedRetention},
	} {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return sched.Config{}, err
		}
		if d <= 0 {
			return sched.Config{}, fmt.Errorf("%s must be > 0", f.path)
		}
		durs[f.key] = d
	}
	cooldown, err := config.ParseDurationField("scheduler.account_cooldown_period", s.AccountCooldownPeriod)
	if err != nil {
		return sched.Config{}, err
	}

	return sched.Config{
		Algorithm:             algo,
		MaxQueueSize:          s.MaxQueueSize,
		TickInterval:          tick,
		DeadlineCheckInterval: durs["deadline"],
		TaskTimeout:           durs["timeout"],
		CleanupInterval:       durs["cleanup"],
		Allocation:            alloc,
		DevicePreference:      s.DevicePreference,
		AccountCooldown:       s.AccountCooldown,
		CooldownPeriod:        cooldown,
		RetryDelay:            durs["retry"],
		FailedRetention:       durs["retention"],
		PerformanceMonitoring: s.PerformanceMonitoring,
	}, nil
}

func buildTemplates(in []config.TemplateConfig) ([]recurrence.Template, error) {
	out := make([]recurrence.Template, 0, len(in))
	for i, t := range in {
		where := fmt.Sprintf("recurrence.templates[%d] (%s)", i, t.Name)
		prio, err := sched.ParsePriority(t.Priority)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		strat, err := sched.ParseExecStrategy(t.Strategy)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		if _, err := recurrence.ParseSchedule(t.Schedule); err != nil {
			return nil, fmt.Errorf("%s: %w", where, err)
		}
		deadlineIn, err := config.ParseDurationField(where+".deadline_in", t.DeadlineIn)
		if err != nil {
			return nil, err
		}
		out = append(out, recurrence.Template{
			Name:       t.Name,
			Schedule:   t.Schedule,
			Type:       t.Type,
			Platform:   t.Platform,
			Target:     t.Target,
			Priority:   prio,
			Strategy:   strat,
			MaxRetries: t.MaxRetries,
			DeadlineIn: deadlineIn,
		})
	}
	return out, nil
}
