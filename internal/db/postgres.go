package db

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Pool is nil when no usable DATABASE_URL is configured. An unreachable server still
// yields a Pool: pgxpool dials on demand, so queries fail until Postgres comes back.
var Pool *pgxpool.Pool

var (
	newPool  = pgxpool.NewWithConfig
	pingPool = func(ctx context.Context, p *pgxpool.Pool) error { return p.Ping(ctx) }
)

func InitPostgres(ctx context.Context) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Warn().Msg("DATABASE_URL not set, postgres disabled")
		return
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		log.Error().Err(err).Msg("failed to parse DATABASE_URL, postgres disabled")
		return
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := newPool(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to create postgres pool")
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	Pool = pool
	if err := pingPool(pingCtx, pool); err != nil {
		log.Warn().Err(err).Str("host", cfg.ConnConfig.Host).Msg("postgres unreachable at startup, will reconnect on demand")
		return
	}
	log.Info().Str("host", cfg.ConnConfig.Host).Str("database", cfg.ConnConfig.Database).Msg("connected to postgres")
}

func Close() {
	if Pool != nil {
		Pool.Close()
		Pool = nil
	}
}
