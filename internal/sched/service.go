package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fleetsched/internal/eventbus"
	rtsup "fleetsched/internal/runtime/supervisor"
	logx "fleetsched/pkg/logx"
)

const (
	warnThrottleEvery = 5 * time.Second
	opsBuffer         = 128
)

// Service is the scheduling engine. One goroutine (the actor) owns queue,
// registry, assignments, retry timers, and stats; everything reaches that
// state through the ops mailbox.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	engine ExecutionEngine

	ops      chan func()
	stopCh   chan struct{}
	stopDone chan struct{}
	sup      *rtsup.Supervisor

	// Actor-owned state. Survives Stop/Start cycles; Stop's cleanup touches
	// it only after the actor has exited.
	queue    *taskQueue
	registry *resourceRegistry
	assign   map[string]assignment
	retries  map[string]*time.Timer
	stats    *statsCollector

	batches  uint64
	lastTick time.Time

	dispatchWarn *rate.Limiter
}

func New(cfg Config, engine ExecutionEngine, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if engine == nil {
		return nil, errors.New("execution engine is required")
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}
	now := time.Now()
	return &Service{
		cfg:          cfg,
		log:          log,
		bus:          bus,
		engine:       engine,
		queue:        newTaskQueue(),
		registry:     newResourceRegistry(now),
		assign:       make(map[string]assignment),
		retries:      make(map[string]*time.Timer),
		stats:        newStatsCollector(now, cfg.PerformanceMonitoring),
		dispatchWarn: rate.NewLimiter(rate.Every(warnThrottleEvery), 1),
	}, nil
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Running reports whether the actor loop is live.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil && s.stopDone == nil
}

// Supervisor returns the engine's internal supervisor (nil if not started).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

// Start spins the actor loop and its tickers. Idempotent; a Start during an
// in-flight Stop waits for the stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		} else {
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.ops = make(chan func(), opsBuffer)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	ops := s.ops
	stopCh := s.stopCh

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// Scheduling must keep running through transient failures.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	// First thing the actor does: settle state left over from a previous
	// stop (re-arm retry timers, fail tasks caught mid-dispatch).
	ops <- func() { s.recoverOrphans(time.Now()) }

	sup.GoRestart("actor", func(c context.Context) error {
		s.runActor(c, stopCh, ops)
		select {
		case <-stopCh:
			return context.Canceled
		default:
		}
		if c.Err() != nil {
			return c.Err()
		}
		return errors.New("actor exited unexpectedly")
	}, rtsup.WithPublishFirstError(true))

	s.log.Info("scheduler started",
		logx.String("algorithm", string(cfg.Algorithm)),
		logx.String("allocation", string(cfg.Allocation)),
		logx.Int("max_queue_size", cfg.MaxQueueSize),
		logx.Duration("tick", cfg.TickInterval),
	)
}

// Stop halts the actor and all three tickers, disarms retry timers, and
// waits for in-flight dispatch goroutines (bounded by ctx). Queue and
// registry contents are kept for a later Start.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		// Wait unbounded in background; caller can still time out.
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		// The actor has exited; timers must not fire into a dead mailbox.
		// Map entries stay so the next Start re-arms them.
		for _, tm := range s.retries {
			tm.Stop()
		}
		s.ops = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out", logx.Any("err", ctx.Err()))
	}
}

// Apply swaps scheduler tunables at runtime. Interval changes restart the
// loop (state survives the cycle); everything else takes effect on the next
// operation that reads the config.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return nil
	}
	if prev.TickInterval != cfg.TickInterval ||
		prev.DeadlineCheckInterval != cfg.DeadlineCheckInterval ||
		prev.CleanupInterval != cfg.CleanupInterval {
		s.Stop(ctx)
		s.Start(ctx)
		return nil
	}
	s.send(func() { s.stats.setEnabled(cfg.PerformanceMonitoring) })
	return nil
}

func (s *Service) runActor(ctx context.Context, stopCh chan struct{}, ops chan func()) {
	cfg := s.config()

	tick := time.NewTicker(cfg.TickInterval)
	defer tick.Stop()
	deadline := time.NewTicker(cfg.DeadlineCheckInterval)
	defer deadline.Stop()
	cleanup := time.NewTicker(cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-stopCh:
			s.drainOps(ops)
			return
		case <-ctx.Done():
			s.drainOps(ops)
			return
		case op := <-ops:
			s.safeOp(op)
		case <-tick.C:
			s.safeTick("schedule", s.tickSchedule)
		case <-deadline.C:
			s.safeTick("deadline", s.tickDeadlines)
		case <-cleanup.C:
			s.safeTick("cleanup", s.tickCleanup)
		}
	}
}

// drainOps runs whatever was enqueued before shutdown so callers blocked in
// call() are always released.
func (s *Service) drainOps(ops chan func()) {
	for {
		select {
		case op := <-ops:
			s.safeOp(op)
		default:
			return
		}
	}
}

func (s *Service) safeOp(op func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("scheduler op panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	op()
}

// safeTick keeps a panicking periodic body from killing the loop; the next
// tick still fires.
func (s *Service) safeTick(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("tick panicked", logx.String("tick", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

// call runs fn on the actor and waits for it. The op is guaranteed to run
// once enqueued, even if the scheduler stops meanwhile (the actor drains its
// mailbox on the way out).
func (s *Service) call(ctx context.Context, fn func()) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	ops := s.ops
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if ops == nil || stopCh == nil || stopping {
		return ErrStopped
	}

	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case ops <- op:
	case <-stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send is the fire-and-forget flavor of call, used by timers and dispatch
// completions. Dropped silently when the scheduler is stopped; recovery at
// the next Start re-derives what was lost from queue state.
func (s *Service) send(fn func()) {
	s.mu.Lock()
	ops := s.ops
	stopCh := s.stopCh
	s.mu.Unlock()
	if ops == nil || stopCh == nil {
		return
	}
	select {
	case ops <- fn:
	case <-stopCh:
	}
}

func (s *Service) publish(typ string, data any) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
	}
}

// recoverOrphans settles actor state after a Start that follows a Stop:
// retry timers disarmed by Stop are re-armed, and tasks that were EXECUTING
// when the previous dispatch goroutines died are failed like a timed-out
// dispatch (retry-eligible).
func (s *Service) recoverOrphans(now time.Time) {
	cfg := s.config()

	for id := range s.retries {
		t, ok := s.queue.get(id)
		if !ok || t.Status != StatusFailed {
			delete(s.retries, id)
			continue
		}
		s.armRetry(t, cfg)
	}

	if s.queue.processingLen() == 0 {
		return
	}
	stuck := make([]*Task, 0, s.queue.processingLen())
	for _, t := range s.queue.processing {
		stuck = append(stuck, t)
	}
	for _, t := range stuck {
		s.failProcessing(t, "execution interrupted: scheduler restarted", true, false, "", now, cfg)
	}
	s.log.Warn("recovered tasks stuck in processing", logx.Int("count", len(stuck)))
}
