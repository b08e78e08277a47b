package statscache

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/redis/go-redis/v9"

	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
)

type countingStore struct {
	*storage.MemoryStore
	aggregates atomic.Int32
}

func (c *countingStore) Aggregate(ctx context.Context, window time.Duration) (model.Stats, error) {
	c.aggregates.Add(1)
	return c.MemoryStore.Aggregate(ctx, window)
}

func setupCache(t *testing.T) (*Store, *countingStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	inner := &countingStore{MemoryStore: storage.NewMemoryStore(clock.NewTestClock(now))}
	return New(inner, client, time.Minute, nil), inner, mr
}

func record(t *testing.T, store *Store, hash string, amount int64) {
	t.Helper()
	_, err := store.Record(context.Background(), model.Transaction{
		Hash:      hash,
		Type:      model.WrapToken,
		Token:     "zts1znnxxxxxxxxxxxxx9z4ulx",
		Amount:    big.NewInt(amount),
		Timestamp: time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("record %s: %v", hash, err)
	}
}

func TestCacheServesRepeatedQueries(t *testing.T) {
	store, inner, _ := setupCache(t)
	ctx := context.Background()
	record(t, store, "a", 5)

	first, err := store.Aggregate(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	second, err := store.Aggregate(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if inner.aggregates.Load() != 1 {
		t.Fatalf("expected one backend query, got %d", inner.aggregates.Load())
	}
	if second.Total() != first.Total() || second.Rows[0].Volume.Cmp(first.Rows[0].Volume) != 0 {
		t.Fatalf("cached stats differ: %+v vs %+v", second, first)
	}
	if second.Window != 7*24*time.Hour || !second.Since.Equal(first.Since) {
		t.Fatalf("cached window differs: %v %v", second.Window, second.Since)
	}
}

func TestCacheInvalidatedByInsert(t *testing.T) {
	store, inner, _ := setupCache(t)
	ctx := context.Background()
	record(t, store, "a", 5)

	if _, err := store.Aggregate(ctx, 24*time.Hour); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	record(t, store, "a", 5)
	if _, err := store.Aggregate(ctx, 24*time.Hour); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if inner.aggregates.Load() != 1 {
		t.Fatalf("duplicate insert must not invalidate, got %d queries", inner.aggregates.Load())
	}

	record(t, store, "b", 7)
	stats, err := store.Aggregate(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if inner.aggregates.Load() != 2 || stats.Total() != 2 || stats.Rows[0].Volume.Int64() != 12 {
		t.Fatalf("expected fresh stats after insert, got %+v (%d queries)", stats, inner.aggregates.Load())
	}
}

func TestCacheExpiresAndSurvivesRedisOutage(t *testing.T) {
	store, inner, mr := setupCache(t)
	ctx := context.Background()
	record(t, store, "a", 5)

	if _, err := store.Aggregate(ctx, 0); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := store.Aggregate(ctx, 0); err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if inner.aggregates.Load() != 2 {
		t.Fatalf("expected expiry to force a query, got %d", inner.aggregates.Load())
	}

	mr.Close()
	stats, err := store.Aggregate(ctx, 0)
	if err != nil {
		t.Fatalf("aggregate without redis: %v", err)
	}
	if stats.Total() != 1 {
		t.Fatalf("unexpected stats without redis: %+v", stats)
	}
}
