package cache

import (
	"context"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var Client *redis.Client

var (
	newRedisClient = func(opts *redis.Options) *redis.Client {
		return redis.NewClient(opts)
	}
	pingRedis = func(ctx context.Context, client *redis.Client) error {
		return client.Ping(ctx).Err()
	}
	parseRedisURL = redis.ParseURL
)

// InitRedis connects the shared client. The cache only backs the last-known learning
// state, so a failed connection leaves Client nil instead of stopping the process.
func InitRedis(ctx context.Context) {
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}

	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := parseRedisURL(addr)
		if err != nil {
			log.Error().Err(err).Msg("failed to parse REDIS_URL, state cache disabled")
			return
		}
		opts = parsed
	}

	client := newRedisClient(opts)
	if err := pingRedis(ctx, client); err != nil {
		log.Warn().Err(err).Str("addr", opts.Addr).Msg("failed to connect to Redis, state cache disabled")
		_ = client.Close()
		return
	}
	Client = client
	log.Info().Str("addr", opts.Addr).Msg("connected to Redis")
}
