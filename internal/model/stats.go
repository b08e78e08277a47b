package model

import (
	"math/big"
	"time"
)

// StatsRow is the count and volume for one (type, token) pair.
type StatsRow struct {
	Type   TxType   `json:"type"`
	Token  string   `json:"token"`
	Count  uint64   `json:"count"`
	Volume *big.Int `json:"-"`
}

// Stats is an aggregate over a trailing window.
type Stats struct {
	Window time.Duration `json:"-"`
	Since  time.Time     `json:"since"`
	Rows   []StatsRow    `json:"rows"`
}

// CountByType sums row counts per transaction type.
func (s Stats) CountByType() map[TxType]uint64 {
	out := make(map[TxType]uint64)
	for _, row := range s.Rows {
		out[row.Type] += row.Count
	}
	return out
}

// Total returns the number of transactions in the window.
func (s Stats) Total() uint64 {
	var total uint64
	for _, row := range s.Rows {
		total += row.Count
	}
	return total
}
