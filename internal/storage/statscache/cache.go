// Package statscache caches stats aggregates in Redis in front of an EventStore.
package statscache

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"bridgewatch/internal/metrics"
	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
)

const defaultPrefix = "bridgewatch"

// Store wraps an EventStore. Cached aggregates are keyed by window and by a
// version counter bumped on every insert and prune, so writes invalidate them.
type Store struct {
	next   storage.EventStore
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

type cachedRow struct {
	Type   model.TxType `json:"type"`
	Token  string       `json:"token"`
	Count  uint64       `json:"count"`
	Volume string       `json:"volume"`
}

type cachedStats struct {
	WindowSeconds int64       `json:"window_seconds"`
	Since         time.Time   `json:"since"`
	Rows          []cachedRow `json:"rows"`
}

func New(next storage.EventStore, client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Store{
		next:   next,
		client: client,
		prefix: defaultPrefix,
		ttl:    ttl,
		logger: logger,
	}
}

func (s *Store) versionKey() string {
	return s.prefix + ":stats:version"
}

func (s *Store) statsKey(version int64, window time.Duration) string {
	return fmt.Sprintf("%s:stats:%d:%d", s.prefix, version, int64(window/time.Second))
}

func (s *Store) Record(ctx context.Context, tx model.Transaction) (storage.Outcome, error) {
	outcome, err := s.next.Record(ctx, tx)
	if err != nil || outcome != storage.Inserted {
		return outcome, err
	}
	s.bump(ctx)
	return outcome, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	removed, err := s.next.Prune(ctx, before)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		s.bump(ctx)
	}
	return removed, nil
}

// Aggregate serves from Redis when possible. Redis failures fall through to
// the wrapped store.
func (s *Store) Aggregate(ctx context.Context, window time.Duration) (model.Stats, error) {
	window = storage.ClampWindow(window)

	version, err := s.client.Get(ctx, s.versionKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.logger.Warn("stats cache version read failed", zap.Error(err))
		metrics.StatsCacheRequests.WithLabelValues("error").Inc()
		return s.next.Aggregate(ctx, window)
	}
	key := s.statsKey(version, window)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		stats, decodeErr := decodeStats(data)
		if decodeErr == nil {
			metrics.StatsCacheRequests.WithLabelValues("hit").Inc()
			return stats, nil
		}
		s.logger.Warn("stats cache entry invalid", zap.Error(decodeErr), zap.String("key", key))
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("stats cache read failed", zap.Error(err))
	}
	metrics.StatsCacheRequests.WithLabelValues("miss").Inc()

	stats, err := s.next.Aggregate(ctx, window)
	if err != nil {
		return model.Stats{}, err
	}
	payload, err := encodeStats(stats)
	if err != nil {
		return stats, nil
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.logger.Warn("stats cache write failed", zap.Error(err))
	}
	return stats, nil
}

func (s *Store) bump(ctx context.Context) {
	if err := s.client.Incr(ctx, s.versionKey()).Err(); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}

func encodeStats(stats model.Stats) ([]byte, error) {
	out := cachedStats{
		WindowSeconds: int64(stats.Window / time.Second),
		Since:         stats.Since,
		Rows:          make([]cachedRow, 0, len(stats.Rows)),
	}
	for _, row := range stats.Rows {
		volume := "0"
		if row.Volume != nil {
			volume = row.Volume.String()
		}
		out.Rows = append(out.Rows, cachedRow{Type: row.Type, Token: row.Token, Count: row.Count, Volume: volume})
	}
	return json.Marshal(out)
}

func decodeStats(data []byte) (model.Stats, error) {
	var cached cachedStats
	if err := json.Unmarshal(data, &cached); err != nil {
		return model.Stats{}, err
	}
	stats := model.Stats{
		Window: time.Duration(cached.WindowSeconds) * time.Second,
		Since:  cached.Since,
		Rows:   make([]model.StatsRow, 0, len(cached.Rows)),
	}
	for _, row := range cached.Rows {
		volume, ok := new(big.Int).SetString(row.Volume, 10)
		if !ok {
			return model.Stats{}, fmt.Errorf("invalid cached volume %q", row.Volume)
		}
		stats.Rows = append(stats.Rows, model.StatsRow{Type: row.Type, Token: row.Token, Count: row.Count, Volume: volume})
	}
	return stats, nil
}
