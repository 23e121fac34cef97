package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Options struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
}

// Open returns the store selected by opts. When Postgres cannot be reached
// it falls back to SQLite so the process still starts.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (KV, error) {
	switch opts.Driver {
	case DriverMemory:
		return NewMemory(), nil
	case DriverPostgres:
		kv, err := NewPostgres(ctx, opts.DatabaseURL)
		if err == nil {
			logger.Info("Using postgres storage")
			return kv, nil
		}
		logger.Warn("Postgres unavailable, falling back to sqlite", zap.Error(err))
		fallthrough
	case DriverSQLite, "":
		kv, err := NewSQLite(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Using sqlite storage", zap.String("path", opts.SQLitePath))
		return kv, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
