package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jw6ventures/planner/internal/config"
)

// Open builds the store selected by cfg.Store.Backend. Postgres schemas are migrated on open.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DB.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect db: %w", err)
		}
		if err := ApplyMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		slog.Info("document store ready", "backend", "postgres")
		return NewPostgres(pool), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		slog.Info("document store ready", "backend", "redis", "addr", cfg.Redis.Addr)
		return NewRedis(client), nil
	case "sqlite":
		st, err := OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("document store ready", "backend", "sqlite", "path", cfg.SQLite.Path)
		return st, nil
	case "memory":
		slog.Warn("document store is in-memory; data is lost on restart")
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}
