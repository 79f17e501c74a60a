package journal

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"fleetsched/internal/eventbus"
	"fleetsched/internal/sched"
	logx "fleetsched/pkg/logx"
)

const (
	defaultWriterBuffer = 512
	appendTimeout       = 5 * time.Second
	writerWarnEvery     = 10 * time.Second
)

// Writer consumes task lifecycle events from the bus and appends them to the
// store. It is fully decoupled from the scheduling engine: publishes are
// non-blocking, so a stalled store only costs journal records, never ticks.
type Writer struct {
	store  Store
	bus    eventbus.Bus
	log    logx.Logger
	buffer int

	mu     sync.Mutex
	stop   func()
	doneCh chan struct{}

	errWarn  *rate.Limiter
	dropWarn *rate.Limiter

	// seenDrops mirrors the subscription's drop counter. Consumer
	// goroutine only.
	seenDrops uint64
}

func NewWriter(store Store, bus eventbus.Bus, buffer int, log logx.Logger) *Writer {
	if buffer <= 0 {
		buffer = defaultWriterBuffer
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Writer{
		store:    store,
		bus:      bus,
		log:      log,
		buffer:   buffer,
		errWarn:  rate.NewLimiter(rate.Every(writerWarnEvery), 1),
		dropWarn: rate.NewLimiter(rate.Every(writerWarnEvery), 1),
	}
}

// Start subscribes to the bus and begins appending. Idempotent. No-op when
// the store or bus is absent.
func (w *Writer) Start(ctx context.Context) {
	if w == nil || w.store == nil || w.bus == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stop != nil {
		return
	}

	sub := w.bus.Subscribe(w.buffer)
	done := make(chan struct{})
	w.stop = sub.Cancel
	w.doneCh = done

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				w.consume(ev)
				w.noteDrops(sub.Dropped())
			}
		}
	}()
	w.log.Debug("journal writer started", logx.Int("buffer", w.buffer))
}

// Stop unsubscribes and waits for the consumer goroutine (bounded by ctx).
func (w *Writer) Stop(ctx context.Context) {
	if w == nil {
		return
	}
	w.mu.Lock()
	stop := w.stop
	done := w.doneCh
	w.stop = nil
	w.doneCh = nil
	w.mu.Unlock()

	if stop == nil {
		return
	}
	stop()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
}

func (w *Writer) consume(ev eventbus.Event) {
	e, ok := entryFor(ev)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	err := w.store.Append(ctx, e)
	cancel()
	if err != nil && w.errWarn.Allow() {
		w.log.Warn("journal append failed",
			logx.String("event", ev.Type),
			logx.String("task", e.TaskID),
			logx.Err(err),
		)
	}
}

// noteDrops warns, throttled, when the subscription lost events because the
// writer fell behind its buffer.
func (w *Writer) noteDrops(dropped uint64) {
	if dropped == w.seenDrops {
		return
	}
	w.seenDrops = dropped
	if w.dropWarn.Allow() {
		w.log.Warn("journal events dropped",
			logx.Int64("total_dropped", int64(dropped)),
			logx.Int("buffer", w.buffer),
		)
	}
}

// entryFor maps a bus event to a journal entry. Batch and sweep events carry
// no per-task payload and are not journaled.
func entryFor(ev eventbus.Event) (Entry, bool) {
	switch ev.Type {
	case sched.EventTaskAdmitted, sched.EventTaskCompleted, sched.EventTaskFailed,
		sched.EventTaskRetry, sched.EventTaskCancelled, sched.EventDeadlineExceeded:
	default:
		return Entry{}, false
	}
	te, ok := ev.Data.(sched.TaskEvent)
	if !ok {
		return Entry{}, false
	}
	return Entry{
		At:           te.At,
		TaskID:       te.ID,
		Type:         te.Type,
		Platform:     te.Platform,
		TargetUserID: te.Target,
		Status:       string(te.Status),
		Attempt:      te.Attempt,
		DeviceID:     te.DeviceID,
		AccountID:    te.AccountID,
		Error:        te.Error,
		Detail:       ev.Type,
	}, true
}
