package infra

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/fedwallet/internal/config"
	"github.com/congo-pay/fedwallet/internal/store"
)

// Backends holds the open connections behind the selected store backend.
// Pool and Cache are nil when the backend does not use them.
type Backends struct {
	DB    store.Database
	Pool  *pgxpool.Pool
	Cache *redis.Client
}

// Close releases every open connection.
func (b *Backends) Close(logger *slog.Logger) {
	if b.Pool != nil {
		b.Pool.Close()
	}
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}
}

// OpenStore connects the backend named by cfg.StoreBackend. A configured
// REDIS_URL is always connected so the HTTP layer can cache idempotent
// responses, whichever backend holds the wallet.
func OpenStore(ctx context.Context, cfg config.Config) (*Backends, error) {
	b := &Backends{}
	if cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL, cfg.AppName)
		if err != nil {
			return nil, err
		}
		b.Cache = cache
	}

	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName)
		if err != nil {
			b.Close(slog.Default())
			return nil, err
		}
		b.Pool = pool
		db, err := store.NewPostgres(ctx, pool, cfg.StoreNamespace+"_kv")
		if err != nil {
			b.Close(slog.Default())
			return nil, err
		}
		b.DB = db
	case config.BackendRedis:
		db, err := store.NewRedis(b.Cache, cfg.StoreNamespace)
		if err != nil {
			b.Close(slog.Default())
			return nil, err
		}
		b.DB = db
	case config.BackendMemory:
		b.DB = store.NewMemory()
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend)
	}
	return b, nil
}
