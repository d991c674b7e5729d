package docstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rolltrack/config"
)

// Open builds the adapter selected by cfg.Driver.
func Open(ctx context.Context, cfg *config.StoreConfig) (Adapter, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(cfg.SQLite.Path, cfg.VerifyWrites)
	case "postgres":
		return OpenPostgres(&cfg.Postgres, cfg.VerifyWrites)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Address, err)
		}
		return NewRedisStore(client, cfg.Redis.Prefix), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
