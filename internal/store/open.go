package store

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/examprep/examprep-cli/internal/config"
)

// Open builds the configured backend and runs its migration.
func Open(ctx context.Context, cfg config.StoreConfig) (CheckpointStore, error) {
	var (
		st  CheckpointStore
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		st, err = NewSQLite(cfg.SQLitePath)
	case "postgres":
		st, err = NewPostgres(ctx, cfg.DatabaseURL, nil)
	case "redis":
		st, err = NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB, cfg.TTL())
	case "memory":
		st = NewMemory()
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	zap.L().Debug("store: opened", zap.String("driver", cfg.Driver))
	return st, nil
}
