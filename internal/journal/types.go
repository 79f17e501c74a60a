package journal

import (
	"context"
	"errors"
	"time"
)

var ErrDisabled = errors.New("journal disabled")

// Config configures the journal.
//
// Driver values:
//   - "memory": in-process ring buffer (tests, dry runs)
//   - "sqlite": SQLite database file
//   - "postgres": PostgreSQL via DSN
//
// If Driver is empty or "none", the journal is disabled.
type Config struct {
	Driver string
	Path   string // sqlite
	DSN    string // postgres
	Buffer int    // writer queue depth; 0 means default

	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry is one task lifecycle record.
// Keep it compact and schema-stable.
type Entry struct {
	At           time.Time
	TaskID       string
	Type         string
	Platform     string
	TargetUserID string
	Status       string
	Attempt      int
	DeviceID     string
	AccountID    string
	Error        string
	Detail       string
}

// Store is the minimal persistence API the writer appends through.
type Store interface {
	Append(ctx context.Context, e Entry) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
