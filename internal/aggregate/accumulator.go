package aggregate

import (
	"math/big"
	"sort"
	"time"

	"bridgewatch/internal/model"
)

type rowKey struct {
	txType model.TxType
	token  string
}

// Accumulator folds transactions into count and volume per (type, token).
type Accumulator struct {
	Since time.Time
	Until time.Time
	rows  map[rowKey]*model.StatsRow
}

// NewAccumulator builds an accumulator for transactions with timestamps in [since, until].
func NewAccumulator(since, until time.Time) *Accumulator {
	return &Accumulator{
		Since: since,
		Until: until,
		rows:  make(map[rowKey]*model.StatsRow),
	}
}

// Add folds tx into the totals and reports whether it fell inside the window.
func (a *Accumulator) Add(tx model.Transaction) bool {
	if tx.Timestamp.Before(a.Since) || tx.Timestamp.After(a.Until) {
		return false
	}
	key := rowKey{txType: tx.Type, token: tx.Token}
	row, ok := a.rows[key]
	if !ok {
		row = &model.StatsRow{Type: tx.Type, Token: tx.Token, Volume: big.NewInt(0)}
		a.rows[key] = row
	}
	row.Count++
	absAdd(row.Volume, tx.Amount)
	return true
}

// Stats returns the totals ordered by type then token.
func (a *Accumulator) Stats() model.Stats {
	rows := make([]model.StatsRow, 0, len(a.rows))
	for _, row := range a.rows {
		rows = append(rows, model.StatsRow{
			Type:   row.Type,
			Token:  row.Token,
			Count:  row.Count,
			Volume: new(big.Int).Set(row.Volume),
		})
	}
	SortRows(rows)
	return model.Stats{
		Window: a.Until.Sub(a.Since),
		Since:  a.Since,
		Rows:   rows,
	}
}

// SortRows orders rows by type then token.
func SortRows(rows []model.StatsRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Type != rows[j].Type {
			return rows[i].Type < rows[j].Type
		}
		return rows[i].Token < rows[j].Token
	})
}

func absAdd(target *big.Int, value *big.Int) {
	if value == nil || target == nil {
		return
	}
	abs := new(big.Int).Abs(value)
	target.Add(target, abs)
}
