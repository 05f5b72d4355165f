package order

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/himgis/webgis/internal/cache/redisstore"
	"github.com/himgis/webgis/internal/core/config"
)

// Open builds the Store selected by cfg.Order.Backend:
//
//	"file"     - JSON file at cfg.Order.File (default)
//	"redis"    - key cfg.Order.RedisKey on cfg.RedisAddr
//	"sqlite"   - sqlite database at cfg.Order.SQLDSN
//	"postgres" - postgres database at cfg.Order.SQLDSN
func Open(ctx context.Context, cfg config.Config, log *slog.Logger) (*Store, error) {
	var (
		b   Backend
		err error
	)
	switch cfg.Order.Backend {
	case "file", "":
		b, err = NewFileBackend(cfg.Order.File)
	case "redis":
		var rc *redisstore.Client
		rc, err = redisstore.New(ctx, cfg.RedisAddr)
		if err == nil {
			b = NewRedisBackend(rc, cfg.Order.RedisKey)
		}
	case "sqlite":
		b, err = OpenSQL(ctx, "sqlite3", cfg.Order.SQLDSN)
	case "postgres":
		b, err = OpenSQL(ctx, "postgres", cfg.Order.SQLDSN)
	default:
		return nil, fmt.Errorf("unknown order backend: %q (supported: file, redis, sqlite, postgres)", cfg.Order.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("order backend %s: %w", cfg.Order.Backend, err)
	}
	return NewStore(b, cfg.Order.Default, log), nil
}
