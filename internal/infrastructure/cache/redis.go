package cache

import (
	"context"
	"fmt"
	"time"

	"adledger/internal/config"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// InitRedis connects and pings. The client backs the per-user ledger lock.
func InitRedis(cfg *config.RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	logger.Info().Str("addr", client.Options().Addr).Msg("redis connected")
	return client, nil
}

// Ping reports whether the client can reach the server within timeout.
func Ping(ctx context.Context, client *redis.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}
