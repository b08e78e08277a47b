package storage

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"bridgewatch/internal/model"
)

func TestPrunerRemovesExpiredRows(t *testing.T) {
	clk := clock.NewTestClock(testNow)
	store := NewMemoryStore(clk)
	ctx := context.Background()
	day := 24 * time.Hour
	for _, record := range []model.Transaction{
		tx("old", model.WrapToken, "t", 1, 40*day),
		tx("recent", model.WrapToken, "t", 1, 10*day),
	} {
		if _, err := store.Record(ctx, record); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	mock := ticker.NewForce(time.Hour)
	defer mock.Stop()
	pruner := NewPruner(store, 35*day, mock, clk, nil)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- pruner.Serve(ctx) }()

	mock.Force <- testNow
	deadline := time.Now().Add(5 * time.Second)
	for store.Len() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("expired row not pruned")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := store.Transaction("recent"); !ok {
		t.Fatalf("row inside retention was pruned")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestPrunerRejectsShortRetention(t *testing.T) {
	mock := ticker.NewForce(time.Hour)
	defer mock.Stop()
	pruner := NewPruner(NewMemoryStore(nil), 7*24*time.Hour, mock, nil, nil)
	if _, err := pruner.PruneOnce(context.Background()); err == nil {
		t.Fatalf("expected error for retention inside the stats window")
	}
}
