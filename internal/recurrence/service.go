package recurrence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"fleetsched/internal/sched"
	logx "fleetsched/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// TaskSink is where spawned tasks go. Satisfied by sched.Service.
type TaskSink interface {
	Add(task sched.Task) error
}

// Template is one recurring task definition, already parsed and validated.
type Template struct {
	Name     string
	Schedule string

	Type     string
	Platform string
	Target   string

	Priority   sched.Priority
	Strategy   sched.ExecStrategy
	MaxRetries int

	// DeadlineIn, when > 0, stamps each spawned task with a deadline of
	// fire-time + DeadlineIn.
	DeadlineIn time.Duration
}

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"
}

type templateDef struct {
	tpl           Template
	spec          ParsedSpec
	entryID       cron.EntryID
	startupSpread time.Duration
}

// Service fires templates on their schedules and enqueues the spawned tasks.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	sink TaskSink

	parser cron.Parser
	c      *cron.Cron
	defs   []templateDef

	// Enqueue error throttling: key is template name.
	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

// ScheduleInfo is the operator view of one registered template.
type ScheduleInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

func New(cfg Config, sink TaskSink, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:  cfg,
		log:  log,
		sink: sink,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		lastEnqWarn: map[string]time.Time{},
	}
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

// Upsert registers or replaces a template by name. A template registered
// while the service is stopped is activated on the next Start.
func (s *Service) Upsert(tpl Template) error {
	if strings.TrimSpace(tpl.Name) == "" {
		return errors.New("template name required")
	}
	if s.sink == nil {
		return errors.New("task sink required")
	}
	ps, err := ParseSchedule(tpl.Schedule)
	if err != nil {
		return fmt.Errorf("template %s: %w", tpl.Name, err)
	}
	if tpl.Priority == 0 {
		tpl.Priority = sched.PriorityNormal
	}
	if tpl.Strategy == "" {
		tpl.Strategy = sched.StrategyBalanced
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(tpl.Name)
	s.defs = append(s.defs, templateDef{tpl: tpl, spec: ps})
	if s.c != nil {
		if err := s.registerLocked(&s.defs[len(s.defs)-1]); err != nil {
			return err
		}
	}
	s.log.Debug("template registered",
		logx.String("template", tpl.Name),
		logx.String("schedule", tpl.Schedule),
		logx.String("platform", tpl.Platform),
	)
	return nil
}

// Remove deregisters a template by name. Returns false if it was not known.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	for i := range s.defs {
		if s.defs[i].tpl.Name != name {
			continue
		}
		if s.c != nil && s.defs[i].entryID != 0 {
			s.c.Remove(s.defs[i].entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

// Apply swaps config at runtime. A timezone change restarts cron and
// re-registers every definition.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	newTZ := strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg

	if s.c == nil {
		return
	}
	if oldTZ != newTZ {
		s.stopCronLocked()
		s.startCronLocked()
	}
}

// Start begins firing templates. Idempotent.
func (s *Service) Start(ctx context.Context) {
	_ = ctx // reserved; cron manages its own goroutine lifetime

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startCronLocked()
	s.log.Info("recurrence started",
		logx.String("tz", s.loc.String()),
		logx.Int("templates", len(s.defs)),
	)
}

// Stop halts cron triggering. Definitions persist for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		// best-effort
	}
	s.log.Info("recurrence stopped")
}

func (s *Service) startCronLocked() {
	loc := s.loadLocationLocked()
	s.loc = loc
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(loc))
	for i := range s.defs {
		if err := s.registerLocked(&s.defs[i]); err != nil {
			s.log.Error("template register failed",
				logx.String("template", s.defs[i].tpl.Name), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) registerLocked(d *templateDef) error {
	tpl := d.tpl
	fire := func() { s.fire(tpl) }

	switch d.spec.Kind {
	case SpecCron:
		id, err := s.c.AddFunc(d.spec.Cron, fire)
		if err != nil {
			return fmt.Errorf("template %s: cron %q: %w", tpl.Name, d.spec.Cron, err)
		}
		d.entryID = id
	case SpecInterval:
		schedule, jitter := makeIntervalScheduleWithSpread(d.spec.Every, time.Now(), tpl.Name)
		d.entryID = s.c.Schedule(schedule, cron.FuncJob(fire))
		d.startupSpread = jitter
	}
	return nil
}

// fire instantiates one task from the template and enqueues it. A full queue
// or stopped engine is warned (throttled per template), never fatal; the
// template keeps firing on its schedule.
func (s *Service) fire(tpl Template) {
	now := time.Now()
	task := sched.Task{
		ID:           "tsk_" + uuid.NewString(),
		Type:         tpl.Type,
		Platform:     tpl.Platform,
		TargetUserID: tpl.Target,
		Priority:     tpl.Priority,
		Strategy:     tpl.Strategy,
		MaxRetries:   tpl.MaxRetries,
		CreatedAt:    now,
	}
	if tpl.DeadlineIn > 0 {
		dl := now.Add(tpl.DeadlineIn)
		task.Deadline = &dl
	}

	if err := s.sink.Add(task); err != nil {
		s.reportEnqueueError(tpl.Name, err)
		return
	}
	s.log.Debug("template fired",
		logx.String("template", tpl.Name),
		logx.String("task", task.ID),
	)
}

func (s *Service) reportEnqueueError(name string, err error) {
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()

	s.log.Warn("template failed to enqueue task", logx.String("template", name), logx.Err(err))
}

// Schedules returns the operator view of every registered template.
func (s *Service) Schedules() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{Name: d.tpl.Name, Spec: d.tpl.Schedule}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		out = append(out, info)
	}
	return out
}
