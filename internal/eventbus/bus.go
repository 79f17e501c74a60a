// Package eventbus carries task lifecycle events between the scheduling
// engine and its observers (the journal writer, diagnostics). Publishing is
// strictly non-blocking so a stalled observer can never slow a tick.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is one lifecycle signal. Type is a dotted topic ("task.completed");
// Data carries the per-topic payload.
//
// Slow subscribers lose events. Anything that must not be lost belongs in
// the scheduler's own state, not on the bus.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) *Subscription
}

// Subscription is one subscriber's view of the bus. Receive from C; call
// Cancel when done. Dropped counts events lost because C's buffer was full
// at publish time, so a subscriber can notice and report its own losses.
type Subscription struct {
	C <-chan Event

	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
	cancel  func()
}

// Dropped returns the cumulative number of events this subscription lost.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Cancel removes the subscription and closes C. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cancel()
		close(s.ch)
	})
}

// New returns an in-memory fanout bus. It owns no goroutines; delivery
// happens on the publisher's stack.
func New() Bus {
	return &fanout{subs: map[uint64]*Subscription{}}
}

type fanout struct {
	mu   sync.RWMutex
	subs map[uint64]*Subscription
	seq  atomic.Uint64
}

func (b *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		// A concurrent Cancel may close the channel between the snapshot
		// and the send; the recover absorbs that race.
		func() {
			defer func() { _ = recover() }()
			select {
			case sub.ch <- e:
			default:
				sub.dropped.Add(1)
			}
		}()
	}
}

func (b *fanout) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()
	return sub
}
