package main

import (
	"context"
	"fmt"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bridgewatch/internal/api"
	"bridgewatch/internal/config"
	"bridgewatch/internal/storage"
	"bridgewatch/internal/storage/postgres"
	"bridgewatch/internal/storage/statscache"
)

type stores struct {
	events      storage.EventStore
	subscribers storage.SubscriberStore
	// ping is nil for stores without a remote connection.
	ping  api.Pinger
	close func()
}

func openStores(ctx context.Context, cfg config.Store, clk clock.Clock, logger *zap.Logger) (stores, error) {
	var out stores
	switch cfg.Kind {
	case "memory":
		mem := storage.NewMemoryStore(clk)
		out = stores{events: mem, subscribers: mem, close: func() {}}
	case "postgres":
		pg, err := postgres.NewStore(ctx, cfg.PGDSN, clk)
		if err != nil {
			return stores{}, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return stores{}, err
		}
		out = stores{events: pg, subscribers: pg, ping: pg, close: pg.Close}
	default:
		return stores{}, fmt.Errorf("unknown store %q", cfg.Kind)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		out.events = statscache.New(out.events, client, cfg.StatsCacheTTL, logger)
		closeStore := out.close
		out.close = func() {
			_ = client.Close()
			closeStore()
		}
	}

	logger.Info("store ready",
		zap.String("kind", cfg.Kind),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Bool("stats_cache", cfg.RedisAddr != ""),
	)
	return out, nil
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
