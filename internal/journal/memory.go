package journal

import (
	"context"
	"sync"
	"time"
)

const defaultMemoryCap = 1000

// memoryStore keeps the newest entries in a bounded ring. Oldest entries are
// overwritten once the ring is full.
type memoryStore struct {
	mu     sync.Mutex
	buf    []Entry
	next   int
	filled bool
	closed bool
}

// NewMemory returns an in-process store holding up to max entries
// (defaultMemoryCap when max <= 0).
func NewMemory(max int) Store {
	if max <= 0 {
		max = defaultMemoryCap
	}
	return &memoryStore{buf: make([]Entry, max)}
}

func (m *memoryStore) Append(_ context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDisabled
	}
	m.buf[m.next] = e
	m.next++
	if m.next == len(m.buf) {
		m.next = 0
		m.filled = true
	}
	return nil
}

// Recent returns the newest entries, newest first.
func (m *memoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDisabled
	}

	n := m.next
	if m.filled {
		n = len(m.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := m.next - 1 - i
		if idx < 0 {
			idx += len(m.buf)
		}
		out = append(out, m.buf[idx])
	}
	return out, nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
