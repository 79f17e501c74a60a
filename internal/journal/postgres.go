package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	logx "fleetsched/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS task_journal (
    id         BIGSERIAL PRIMARY KEY,
    at         TIMESTAMPTZ NOT NULL,
    task_id    TEXT NOT NULL,
    type       TEXT NOT NULL,
    platform   TEXT NOT NULL,
    target     TEXT NOT NULL,
    status     TEXT NOT NULL,
    attempt    INT NOT NULL DEFAULT 0,
    device_id  TEXT,
    account_id TEXT,
    err        TEXT,
    detail     TEXT
);
CREATE INDEX IF NOT EXISTS idx_task_journal_task ON task_journal(task_id);
CREATE INDEX IF NOT EXISTS idx_task_journal_at   ON task_journal(at);
`

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("journal connect: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	log.Debug("journal opened", logx.String("driver", "postgres"))
	return &postgresStore{pool: pool, log: log}, nil
}

func (s *postgresStore) Append(ctx context.Context, e Entry) error {
	if s == nil || s.pool == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_journal(at, task_id, type, platform, target, status, attempt, device_id, account_id, err, detail)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.At, e.TaskID, e.Type, e.Platform, e.TargetUserID,
		e.Status, e.Attempt, nullStr(e.DeviceID), nullStr(e.AccountID), nullStr(e.Error), nullStr(e.Detail),
	)
	return err
}

func (s *postgresStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.pool == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT at, task_id, type, platform, target, status, attempt,
		        COALESCE(device_id,''), COALESCE(account_id,''), COALESCE(err,''), COALESCE(detail,'')
		 FROM task_journal ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.At, &e.TaskID, &e.Type, &e.Platform, &e.TargetUserID,
			&e.Status, &e.Attempt, &e.DeviceID, &e.AccountID, &e.Error, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
