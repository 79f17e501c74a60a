package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "fleetsched/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS task_journal (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    at        TEXT NOT NULL,
    task_id   TEXT NOT NULL,
    type      TEXT NOT NULL,
    platform  TEXT NOT NULL,
    target    TEXT NOT NULL,
    status    TEXT NOT NULL,
    attempt   INTEGER NOT NULL DEFAULT 0,
    device_id TEXT,
    account_id TEXT,
    err       TEXT,
    detail    TEXT
);
CREATE INDEX IF NOT EXISTS idx_task_journal_task ON task_journal(task_id);
CREATE INDEX IF NOT EXISTS idx_task_journal_at   ON task_journal(at);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	log.Debug("journal opened", logx.String("driver", "sqlite"), logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_journal(at, task_id, type, platform, target, status, attempt, device_id, account_id, err, detail)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.TaskID, e.Type, e.Platform, e.TargetUserID,
		e.Status, e.Attempt, nullStr(e.DeviceID), nullStr(e.AccountID), nullStr(e.Error), nullStr(e.Detail),
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, task_id, type, platform, target, status, attempt,
		        COALESCE(device_id,''), COALESCE(account_id,''), COALESCE(err,''), COALESCE(detail,'')
		 FROM task_journal ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&at, &e.TaskID, &e.Type, &e.Platform, &e.TargetUserID,
			&e.Status, &e.Attempt, &e.DeviceID, &e.AccountID, &e.Error, &e.Detail); err != nil {
			return nil, err
		}
		if ts, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			e.At = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
