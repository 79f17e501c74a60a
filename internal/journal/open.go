package journal

import (
	"context"
	"errors"
	"strings"

	logx "fleetsched/pkg/logx"
)

// Open initializes the configured store.
// It returns (nil, nil) if the journal is disabled.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "memory":
		return NewMemory(0), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pgx":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, errors.New("unknown journal driver: " + driver)
	}
}
