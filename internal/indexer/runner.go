// Package indexer turns extracted account-block events into stored and
// dispatched bridge transactions.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"

	"bridgewatch/internal/codec"
	"bridgewatch/internal/metrics"
	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
)

// Dispatcher fans a newly stored transaction out to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, tx model.Transaction) error
}

// RunConfig holds runtime settings for the pipeline.
type RunConfig struct {
	MaxRetries   int
	RetryBackoff time.Duration
}

// Runner decodes, records and dispatches events in arrival order. It is the
// stream handler and runs on the connection manager's goroutine.
type Runner struct {
	cfg        RunConfig
	decoder    *codec.Decoder
	store      storage.EventStore
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

// NewRunner builds a Runner with its dependencies. dispatcher may be nil.
func NewRunner(cfg RunConfig, decoder *codec.Decoder, store storage.EventStore, dispatcher Dispatcher, clk clock.Clock, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Runner{
		cfg:        cfg,
		decoder:    decoder,
		store:      store,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
	}
}

// HandleEvent processes one event. Skipped and malformed payloads are dropped;
// an error means the event was not durably recorded and must be replayed.
func (r *Runner) HandleEvent(ctx context.Context, event model.RawEvent) error {
	if r.decoder == nil {
		return fmt.Errorf("decoder is nil")
	}
	if r.store == nil {
		return fmt.Errorf("store is nil")
	}

	tx, err := r.decoder.Decode(event)
	switch {
	case errors.Is(err, codec.ErrSkip):
		metrics.DecodeOutcomes.WithLabelValues(metrics.OutcomeSkip).Inc()
		r.logger.Debug("skip account block", zap.String("hash", event.Hash))
		return nil
	case codec.IsMalformed(err):
		metrics.DecodeOutcomes.WithLabelValues(metrics.OutcomeMalformed).Inc()
		r.logger.Warn("malformed bridge call",
			zap.Error(err),
			zap.String("hash", event.Hash),
			zap.Uint64("anchor", event.Anchor),
			zap.String("address", event.Address),
			zap.String("data", hexutil.Encode(event.Data)),
		)
		return nil
	case err != nil:
		return fmt.Errorf("decode %s: %w", event.Hash, err)
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = r.clock.Now().UTC()
	}
	metrics.DecodedTransactions.WithLabelValues(string(tx.Type)).Inc()

	outcome, err := r.recordWithRetry(ctx, tx)
	if err != nil {
		return fmt.Errorf("record transaction %s: %w", tx.Hash, err)
	}
	if outcome == storage.AlreadyPresent {
		metrics.StoreOutcomes.WithLabelValues(metrics.OutcomeDuplicate).Inc()
		r.logger.Debug("transaction already recorded", zap.String("hash", tx.Hash))
		return nil
	}
	metrics.StoreOutcomes.WithLabelValues(metrics.OutcomeInserted).Inc()
	r.logger.Info("bridge transaction",
		zap.String("hash", tx.Hash),
		zap.String("type", string(tx.Type)),
		zap.Uint64("height", tx.Height),
		zap.String("token", tx.Token),
		zap.String("amount", tx.Amount.String()),
		zap.Stringer("source", tx.Source),
		zap.Stringer("destination", tx.Destination),
	)

	if r.dispatcher == nil {
		return nil
	}
	if err := r.dispatcher.Dispatch(ctx, tx); err != nil {
		return fmt.Errorf("dispatch %s: %w", tx.Hash, err)
	}
	return nil
}

func (r *Runner) recordWithRetry(ctx context.Context, tx model.Transaction) (storage.Outcome, error) {
	var outcome storage.Outcome
	onRetry := func(attempt int, err error) {
		r.logger.Warn("record transaction failed, retrying",
			zap.Error(err),
			zap.String("hash", tx.Hash),
			zap.Int("attempt", attempt),
		)
	}
	err := withRetry(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, onRetry, func(ctx context.Context) error {
		var err error
		outcome, err = r.store.Record(ctx, tx)
		if err != nil {
			metrics.StoreOutcomes.WithLabelValues(metrics.OutcomeError).Inc()
		}
		return err
	})
	return outcome, err
}
