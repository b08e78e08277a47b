package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"go.uber.org/zap"

	"bridgewatch/internal/metrics"
)

// Pruner deletes transactions older than the retention horizon on every tick.
type Pruner struct {
	store     EventStore
	retention time.Duration
	ticker    ticker.Ticker
	clock     clock.Clock
	logger    *zap.Logger
}

func NewPruner(store EventStore, retention time.Duration, t ticker.Ticker, clk clock.Clock, logger *zap.Logger) *Pruner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Pruner{store: store, retention: retention, ticker: t, clock: clk, logger: logger}
}

// PruneOnce removes rows older than now minus the retention horizon.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	if p.retention <= MaxWindow {
		return 0, fmt.Errorf("retention %s does not exceed the stats window", p.retention)
	}
	before := p.clock.Now().Add(-p.retention)
	removed, err := p.store.Prune(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("prune transactions: %w", err)
	}
	metrics.PrunedTransactions.Add(float64(removed))
	p.logger.Info("pruned transactions", zap.Int64("removed", removed), zap.Time("before", before))
	return removed, nil
}

// Serve prunes on every tick until ctx is canceled.
func (p *Pruner) Serve(ctx context.Context) error {
	p.ticker.Resume()
	defer p.ticker.Pause()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.ticker.Ticks():
			if _, err := p.PruneOnce(ctx); err != nil {
				p.logger.Warn("retention pass failed", zap.Error(err))
			}
		}
	}
}

func (p *Pruner) String() string {
	return "retention-pruner"
}
