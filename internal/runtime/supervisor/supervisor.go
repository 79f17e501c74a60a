// Package supervisor runs named goroutines under a shared context with
// panic recovery, per-name runtime stats, and an optional restart loop
// for long-lived workers.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "fleetsched/pkg/logx"
)

// Supervisor owns a group of goroutines. Cancelling it cancels the context
// every goroutine was started with; Wait blocks until they have all exited.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	started uint64 // total goroutines ever started
	active  int64  // goroutines currently running

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr atomic.Value // error

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu     sync.Mutex
	byName map[string]*loopStats
}

type SupervisorOption func(*Supervisor)

// WithLogger attaches a logger for start/stop/panic events. Without one the
// supervisor stays silent.
func WithLogger(log logx.Logger) SupervisorOption {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first non-nil
// error or panic from any goroutine started with Go.
func WithCancelOnError(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func NewSupervisor(parent context.Context, opts ...SupervisorOption) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		byName: map[string]*loopStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel signals every goroutine to stop. It does not wait; use Wait.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first error recorded by any goroutine, or nil.
func (s *Supervisor) Err() error {
	if v := s.firstErr.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

// Wait blocks until every goroutine has exited or ctx is done. It returns
// the supervisor's first recorded error once all goroutines are gone.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}

// Go starts fn under the supervisor context. A panic or a non-nil error
// other than context.Canceled is recorded as the supervisor error and, with
// WithCancelOnError, cancels the whole group.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		if !s.log.IsZero() {
			s.log.Debug("goroutine started", logx.String("name", name))
		}
		startedAt := s.markStart(name, false)
		err, pan, stack := runOnce(s.ctx, fn)
		if pan != nil {
			s.markPanic(name, pan)
			if !s.log.IsZero() {
				s.log.Error("goroutine panicked", logx.String("name", name), logx.Any("panic", pan), logx.String("stack", stack))
			}
			err = fmt.Errorf("panic in %s: %v", name, pan)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			s.markExit(name, startedAt, err)
			s.setErr(err)
			if s.cancelOnErr {
				s.cancel()
			}
		} else {
			s.markExit(name, startedAt, nil)
		}
		if !s.log.IsZero() {
			s.log.Debug("goroutine stopped", logx.String("name", name))
		}
	}()
}

// Go0 is Go for functions with no error to report.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// runOnce invokes fn and converts a panic into a value plus stack trace so
// the caller can decide how to account for it.
func runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error, pan any, stack string) {
	defer func() {
		if r := recover(); r != nil {
			pan = r
			stack = string(debug.Stack())
		}
	}()
	err = fn(ctx)
	return
}

// RestartOption configures GoRestart.
type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	publishFirstErr bool
}

// WithPublishFirstError records the first error or panic from a restarting
// goroutine as the supervisor error while the loop keeps restarting. Useful
// when failures should show up in status output without stopping the worker.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishFirstErr = enabled }
}

const (
	restartBackoffMin = 250 * time.Millisecond
	restartBackoffMax = 30 * time.Second

	// A run that survives this long resets the backoff so an occasional
	// failure in a stable loop restarts quickly.
	restartStableAfter = 30 * time.Second
)

// GoRestart runs fn and restarts it with jittered exponential backoff after
// every error or panic, until the context is cancelled or fn returns nil.
// Meant for long-running loops (tickers, watchers, consumers) that should
// self-heal instead of taking the process down.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{minBackoff: restartBackoffMin, maxBackoff: restartBackoffMax}
	for _, o := range opts {
		o(&cfg)
	}

	// The restart loop itself runs under a distinct name so the logical
	// worker's stats count its runs, not the host goroutine.
	s.Go0(name+".restart", func(ctx context.Context) {
		backoff := cfg.minBackoff
		for restarts := 0; ; restarts++ {
			if ctx.Err() != nil {
				return
			}
			startedAt := s.markStart(name, restarts > 0)
			err, pan, stack := runOnce(ctx, fn)
			if pan != nil {
				s.markPanic(name, pan)
				if !s.log.IsZero() {
					s.log.Error("goroutine panicked, restarting", logx.String("name", name), logx.Any("panic", pan), logx.String("stack", stack))
				}
				err = fmt.Errorf("panic: %v", pan)
			}

			// A run that ends after cancellation is a clean stop even if it
			// surfaced an error from a dependency shutting down first.
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || err == nil {
				s.markExit(name, startedAt, nil)
				return
			}

			err = fmt.Errorf("%s: %w", name, err)
			s.markExit(name, startedAt, err)
			if cfg.publishFirstErr {
				s.setErr(err)
			}

			if time.Since(startedAt) >= restartStableAfter {
				backoff = cfg.minBackoff
			}
			wait := backoff + jitter(backoff)
			if !s.log.IsZero() {
				s.log.Warn("goroutine restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			if backoff *= 2; backoff > cfg.maxBackoff {
				backoff = cfg.maxBackoff
			}
		}
	})
}

// jitter returns up to 20% of d.
func jitter(d time.Duration) time.Duration {
	j := int64(d) / 5
	if j <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixNano() % (j + 1))
}

// SupervisorCounters are best-effort goroutine counters, for status output
// only.
type SupervisorCounters struct {
	Active  int64  `json:"active"`
	Started uint64 `json:"started"`
}

// LoopStats aggregates the runs of every goroutine sharing a name.
type LoopStats struct {
	Name         string        `json:"name"`
	Active       int64         `json:"active"`
	Started      uint64        `json:"started"`
	Panics       uint64        `json:"panics"`
	Restarts     uint64        `json:"restarts"`
	LastStartAt  time.Time     `json:"last_start_at"`
	LastStopAt   time.Time     `json:"last_stop_at"`
	LastErrAt    time.Time     `json:"last_err_at"`
	LastErr      string        `json:"last_err,omitempty"`
	LastPanicAt  time.Time     `json:"last_panic_at"`
	LastPanic    string        `json:"last_panic,omitempty"`
	LastRuntime  time.Duration `json:"last_runtime"`
	TotalRuntime time.Duration `json:"total_runtime"`
}

// SupervisorSnapshot is a point-in-time view for status output.
type SupervisorSnapshot struct {
	Counters   SupervisorCounters `json:"counters"`
	FirstError string             `json:"first_error,omitempty"`
	Goroutines []LoopStats        `json:"goroutines"`
}

type loopStats struct {
	LoopStats
}

// Counters returns best-effort goroutine counters.
func (s *Supervisor) Counters() SupervisorCounters {
	if s == nil {
		return SupervisorCounters{}
	}
	return SupervisorCounters{
		Active:  atomic.LoadInt64(&s.active),
		Started: atomic.LoadUint64(&s.started),
	}
}

// Snapshot returns the counters plus per-name stats, sorted with active
// goroutines first.
func (s *Supervisor) Snapshot() SupervisorSnapshot {
	if s == nil {
		return SupervisorSnapshot{}
	}
	snap := SupervisorSnapshot{Counters: s.Counters()}
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}

	s.mu.Lock()
	for _, st := range s.byName {
		snap.Goroutines = append(snap.Goroutines, st.LoopStats)
	}
	s.mu.Unlock()

	sort.Slice(snap.Goroutines, func(i, j int) bool {
		a, b := snap.Goroutines[i], snap.Goroutines[j]
		if a.Active != b.Active {
			return a.Active > b.Active
		}
		if !a.LastStartAt.Equal(b.LastStartAt) {
			return a.LastStartAt.After(b.LastStartAt)
		}
		return a.Name < b.Name
	})
	return snap
}

// stat returns the record for name, creating it if needed. Caller holds mu.
func (s *Supervisor) stat(name string) *loopStats {
	st := s.byName[name]
	if st == nil {
		st = &loopStats{}
		st.Name = name
		s.byName[name] = st
	}
	return st
}

func (s *Supervisor) markStart(name string, isRestart bool) time.Time {
	now := time.Now()
	s.mu.Lock()
	st := s.stat(name)
	st.Started++
	if isRestart {
		st.Restarts++
	}
	st.Active++
	st.LastStartAt = now
	s.mu.Unlock()
	return now
}

func (s *Supervisor) markExit(name string, startedAt time.Time, err error) {
	now := time.Now()
	s.mu.Lock()
	st := s.stat(name)
	if st.Active > 0 {
		st.Active--
	}
	st.LastStopAt = now
	st.LastRuntime = now.Sub(startedAt)
	st.TotalRuntime += st.LastRuntime
	if err != nil {
		st.LastErr = err.Error()
		st.LastErrAt = now
	}
	s.mu.Unlock()
}

func (s *Supervisor) markPanic(name string, p any) {
	now := time.Now()
	s.mu.Lock()
	st := s.stat(name)
	st.Panics++
	st.LastPanicAt = now
	st.LastPanic = fmt.Sprint(p)
	s.mu.Unlock()
}
