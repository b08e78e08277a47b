package dispatch

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"bridgewatch/internal/model"
)

func TestFormatWrap(t *testing.T) {
	tx := model.Transaction{
		Hash:        "ab",
		Type:        model.WrapToken,
		Destination: model.ChainRef{NetworkClass: 2, ChainID: 1},
		Token:       "zts1znnxxxxxxxxxxxxx9z4ulx",
		Amount:      big.NewInt(150000000),
		From:        "z1qqjnwjjpnue8xmmpanz6csze6tcmtzzdtfsww7",
		To:          "0x5ad1f5f34a5b2b1f53b3b2fd6b1f7a9cd3b3c1a0",
		Timestamp:   time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	text := NewFormatter(nil).Format(tx)
	for _, want := range []string{
		"Bridge wrap",
		"Amount: 1.5 ZNN",
		"To: 0x5ad1f5f34a5b2b1f53b3b2fd6b1f7a9cd3b3c1a0 on 2:1",
		"Hash: ab",
		"Time: 2024-03-10T12:00:00Z",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}

func TestFormatRedeemWithoutAmount(t *testing.T) {
	tx := model.Transaction{Hash: "cd", Type: model.Redeem, Amount: big.NewInt(0), SourceTxHash: "ff", LogIndex: 4}
	text := NewFormatter(nil).Format(tx)
	if strings.Contains(text, "Amount") {
		t.Fatalf("zero amount should be omitted:\n%s", text)
	}
	if !strings.Contains(text, "Source tx: ff (log 4)") {
		t.Fatalf("missing source tx:\n%s", text)
	}
}
