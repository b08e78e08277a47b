package storage

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"bridgewatch/internal/aggregate"
	"bridgewatch/internal/model"
)

// MemoryStore is an in-process EventStore and SubscriberStore.
type MemoryStore struct {
	clock clock.Clock

	mu          sync.RWMutex
	txs         map[string]model.Transaction
	subscribers map[string]model.StoredSubscriber
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &MemoryStore{
		clock:       clk,
		txs:         make(map[string]model.Transaction),
		subscribers: make(map[string]model.StoredSubscriber),
	}
}

func (s *MemoryStore) Record(ctx context.Context, tx model.Transaction) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return 0, &Error{Op: "record", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.Hash]; ok {
		return AlreadyPresent, nil
	}
	if tx.Amount != nil {
		tx.Amount = new(big.Int).Set(tx.Amount)
	}
	s.txs[tx.Hash] = tx
	return Inserted, nil
}

func (s *MemoryStore) Aggregate(ctx context.Context, window time.Duration) (model.Stats, error) {
	if err := ctx.Err(); err != nil {
		return model.Stats{}, &Error{Op: "aggregate", Err: err}
	}
	window = ClampWindow(window)
	now := s.clock.Now()
	acc := aggregate.NewAccumulator(now.Add(-window), now)

	s.mu.RLock()
	for _, tx := range s.txs {
		acc.Add(tx)
	}
	s.mu.RUnlock()

	stats := acc.Stats()
	stats.Window = window
	return stats, nil
}

func (s *MemoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, &Error{Op: "prune", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for hash, tx := range s.txs {
		if tx.Timestamp.Before(before) {
			delete(s.txs, hash)
			removed++
		}
	}
	return removed, nil
}

// Transaction returns a stored transaction by hash.
func (s *MemoryStore) Transaction(hash string) (model.Transaction, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.txs[hash]
	return tx, ok
}

// Len returns the number of stored transactions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}

func (s *MemoryStore) LoadSubscribers(ctx context.Context) ([]model.StoredSubscriber, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "load subscribers", Err: err}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.StoredSubscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		sub.Filters = append([]string(nil), sub.Filters...)
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SaveSubscriber(ctx context.Context, sub model.StoredSubscriber) error {
	if err := ctx.Err(); err != nil {
		return &Error{Op: "save subscriber", Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.Filters = append([]string(nil), sub.Filters...)
	s.subscribers[sub.ID] = sub
	return nil
}
