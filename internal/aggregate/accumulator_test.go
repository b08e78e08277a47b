package aggregate

import (
	"math/big"
	"testing"
	"time"

	"bridgewatch/internal/model"
)

func TestAccumulatorWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	acc := NewAccumulator(now.Add(-7*24*time.Hour), now)

	txs := []model.Transaction{
		{Type: model.WrapToken, Token: ZNNTokenStandard, Amount: big.NewInt(100), Timestamp: now.Add(-time.Hour)},
		{Type: model.WrapToken, Token: ZNNTokenStandard, Amount: big.NewInt(50), Timestamp: now.Add(-6 * 24 * time.Hour)},
		{Type: model.WrapToken, Token: ZNNTokenStandard, Amount: big.NewInt(999), Timestamp: now.Add(-8 * 24 * time.Hour)},
		{Type: model.UnwrapToken, Token: "0xabc", Amount: big.NewInt(7), Timestamp: now.Add(-2 * time.Hour)},
	}
	added := 0
	for _, tx := range txs {
		if acc.Add(tx) {
			added++
		}
	}
	if added != 3 {
		t.Fatalf("expected 3 transactions in window, got %d", added)
	}

	stats := acc.Stats()
	if len(stats.Rows) != 2 {
		t.Fatalf("unexpected rows: %+v", stats.Rows)
	}
	if stats.Rows[0].Type != model.UnwrapToken || stats.Rows[0].Volume.Int64() != 7 {
		t.Fatalf("unwrap row mismatch: %+v", stats.Rows[0])
	}
	if stats.Rows[1].Count != 2 || stats.Rows[1].Volume.Int64() != 150 {
		t.Fatalf("wrap row mismatch: %+v", stats.Rows[1])
	}
	if stats.Total() != 3 {
		t.Fatalf("total mismatch: %d", stats.Total())
	}
}

func TestFormatTokenAmount(t *testing.T) {
	cases := []struct {
		value    int64
		decimals uint8
		want     string
	}{
		{value: 150000000, decimals: 8, want: "1.5"},
		{value: 100000000, decimals: 8, want: "1"},
		{value: 1, decimals: 8, want: "0.00000001"},
		{value: 0, decimals: 8, want: "0"},
		{value: -250, decimals: 2, want: "-2.5"},
		{value: 42, decimals: 0, want: "42"},
	}
	for _, tc := range cases {
		if got := FormatTokenAmount(big.NewInt(tc.value), tc.decimals); got != tc.want {
			t.Fatalf("format %d/%d: got %s want %s", tc.value, tc.decimals, got, tc.want)
		}
	}
}

func TestTokenCacheFormat(t *testing.T) {
	cache := NewTokenCache()
	if got := cache.Format(ZNNTokenStandard, big.NewInt(250000000)); got != "2.5 ZNN" {
		t.Fatalf("znn format mismatch: %s", got)
	}
	if got := cache.Format("zts1unknown", big.NewInt(5)); got != "5 zts1unknown" {
		t.Fatalf("fallback format mismatch: %s", got)
	}
}
