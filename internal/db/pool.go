package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	MaxConns          int
	MinConns          int
	HealthCheckPeriod time.Duration
	PoolTimeout       time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	ApplicationName   string
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:          20,
		MinConns:          2,
		HealthCheckPeriod: 30 * time.Second,
		PoolTimeout:       5 * time.Second,
		RetryAttempts:     5,
		RetryDelay:        time.Second,
		ApplicationName:   "gw-ledger",
	}
}

// NewPool connects with exponential backoff between attempts.
func NewPool(ctx context.Context, dsn string, cfg PoolConfig, log *slog.Logger) (*pgxpool.Pool, error) {
	conf, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	conf.MaxConns = int32(cfg.MaxConns)
	conf.MinConns = int32(cfg.MinConns)
	conf.HealthCheckPeriod = cfg.HealthCheckPeriod
	conf.MaxConnLifetime = 30 * time.Minute
	conf.MaxConnIdleTime = 5 * time.Minute
	if cfg.ApplicationName != "" {
		conf.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	conf.ConnConfig.ConnectTimeout = cfg.PoolTimeout

	var pool *pgxpool.Pool
	for i := 0; i < cfg.RetryAttempts; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, conf)
		if err != nil {
			log.Warn("failed to create connection pool",
				slog.Int("attempt", i+1),
				slog.Int("max_attempts", cfg.RetryAttempts),
				slog.String("error", err.Error()))
			if !sleepCtx(ctx, cfg.RetryDelay*time.Duration(1<<i)) {
				return nil, ctx.Err()
			}
			continue
		}

		if err = pool.Ping(ctx); err != nil {
			log.Warn("database ping failed",
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()))
			pool.Close()
			if !sleepCtx(ctx, cfg.RetryDelay*time.Duration(1<<i)) {
				return nil, ctx.Err()
			}
			continue
		}

		log.Info("connected to database")
		return pool, nil
	}

	return nil, fmt.Errorf("failed to create connection pool after %d attempts: %w", cfg.RetryAttempts, err)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
