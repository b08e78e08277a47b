package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lightningnetwork/lnd/clock"

	"bridgewatch/internal/aggregate"
	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store provides Postgres persistence for bridge transactions and subscribers.
type Store struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func NewStore(ctx context.Context, dsn string, clk clock.Clock) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &Store{pool: pool, clock: clk}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return &storage.Error{Op: "ensure schema", Err: err}
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return &storage.Error{Op: "ping", Err: err}
	}
	return nil
}

// Record inserts a transaction; a conflicting hash leaves the existing row untouched.
func (s *Store) Record(ctx context.Context, tx model.Transaction) (storage.Outcome, error) {
	amount := "0"
	if tx.Amount != nil {
		amount = tx.Amount.String()
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_transactions (
			hash, tx_type, height, source_network_class, source_chain_id,
			dest_network_class, dest_chain_id, token, amount, from_address,
			to_address, source_tx_hash, log_index, block_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11, $12, $13, $14)
		ON CONFLICT (hash) DO NOTHING
	`,
		tx.Hash,
		string(tx.Type),
		int64(tx.Height),
		int64(tx.Source.NetworkClass),
		int64(tx.Source.ChainID),
		int64(tx.Destination.NetworkClass),
		int64(tx.Destination.ChainID),
		tx.Token,
		amount,
		tx.From,
		tx.To,
		tx.SourceTxHash,
		int64(tx.LogIndex),
		tx.Timestamp.UTC(),
	)
	if err != nil {
		return 0, &storage.Error{Op: "record", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return storage.AlreadyPresent, nil
	}
	return storage.Inserted, nil
}

// Aggregate sums count and volume per (type, token) over the trailing window.
func (s *Store) Aggregate(ctx context.Context, window time.Duration) (model.Stats, error) {
	window = storage.ClampWindow(window)
	now := s.clock.Now().UTC()
	since := now.Add(-window)

	rows, err := s.pool.Query(ctx, `
		SELECT tx_type, token, COUNT(*), COALESCE(SUM(amount), 0)::text
		FROM bridge_transactions
		WHERE block_time >= $1 AND block_time <= $2
		GROUP BY tx_type, token
	`, since, now)
	if err != nil {
		return model.Stats{}, &storage.Error{Op: "aggregate", Err: err}
	}
	defer rows.Close()

	stats := model.Stats{Window: window, Since: since}
	for rows.Next() {
		var (
			txType string
			token  string
			count  int64
			volume string
		)
		if err := rows.Scan(&txType, &token, &count, &volume); err != nil {
			return model.Stats{}, &storage.Error{Op: "aggregate scan", Err: err}
		}
		amount, ok := new(big.Int).SetString(volume, 10)
		if !ok {
			return model.Stats{}, &storage.Error{Op: "aggregate scan", Err: fmt.Errorf("invalid volume %q", volume)}
		}
		stats.Rows = append(stats.Rows, model.StatsRow{
			Type:   model.TxType(txType),
			Token:  token,
			Count:  uint64(count),
			Volume: amount,
		})
	}
	if err := rows.Err(); err != nil {
		return model.Stats{}, &storage.Error{Op: "aggregate", Err: err}
	}
	aggregate.SortRows(stats.Rows)
	return stats, nil
}

// Prune deletes transactions older than before.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bridge_transactions WHERE block_time < $1`, before.UTC())
	if err != nil {
		return 0, &storage.Error{Op: "prune", Err: err}
	}
	return tag.RowsAffected(), nil
}

// LoadSubscribers returns every subscriber row, active or not.
func (s *Store) LoadSubscribers(ctx context.Context) ([]model.StoredSubscriber, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, active, filters FROM subscribers ORDER BY id`)
	if err != nil {
		return nil, &storage.Error{Op: "load subscribers", Err: err}
	}
	defer rows.Close()

	var out []model.StoredSubscriber
	for rows.Next() {
		var sub model.StoredSubscriber
		if err := rows.Scan(&sub.ID, &sub.Active, &sub.Filters); err != nil {
			return nil, &storage.Error{Op: "load subscribers scan", Err: err}
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.Error{Op: "load subscribers", Err: err}
	}
	return out, nil
}

// SaveSubscriber upserts a subscriber row.
func (s *Store) SaveSubscriber(ctx context.Context, sub model.StoredSubscriber) error {
	filters := sub.Filters
	if filters == nil {
		filters = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscribers (id, active, filters, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET active = EXCLUDED.active, filters = EXCLUDED.filters, updated_at = now()
	`, sub.ID, sub.Active, filters)
	if err != nil {
		return &storage.Error{Op: "save subscriber", Err: err}
	}
	return nil
}
