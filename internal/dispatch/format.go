package dispatch

import (
	"fmt"
	"strings"
	"time"

	"bridgewatch/internal/aggregate"
	"bridgewatch/internal/model"
)

// Formatter renders transactions as plain-text notifications.
type Formatter struct {
	tokens *aggregate.TokenCache
}

func NewFormatter(tokens *aggregate.TokenCache) *Formatter {
	if tokens == nil {
		tokens = aggregate.NewTokenCache()
	}
	return &Formatter{tokens: tokens}
}

var actions = map[model.TxType]string{
	model.WrapToken:   "Bridge wrap",
	model.UnwrapToken: "Bridge unwrap",
	model.Redeem:      "Bridge redeem",
}

func (f *Formatter) Format(tx model.Transaction) string {
	action, ok := actions[tx.Type]
	if !ok {
		action = string(tx.Type)
	}

	var b strings.Builder
	b.WriteString(action)
	b.WriteString("\n")
	if tx.Amount != nil && tx.Amount.Sign() > 0 {
		fmt.Fprintf(&b, "Amount: %s\n", f.tokens.Format(tx.Token, tx.Amount))
	}
	switch tx.Type {
	case model.WrapToken:
		fmt.Fprintf(&b, "From: %s\n", tx.From)
		fmt.Fprintf(&b, "To: %s on %s\n", tx.To, tx.Destination)
	case model.UnwrapToken:
		fmt.Fprintf(&b, "From: %s\n", tx.Source)
		fmt.Fprintf(&b, "To: %s\n", tx.To)
	default:
		if tx.From != "" {
			fmt.Fprintf(&b, "From: %s\n", tx.From)
		}
	}
	if tx.SourceTxHash != "" {
		fmt.Fprintf(&b, "Source tx: %s (log %d)\n", tx.SourceTxHash, tx.LogIndex)
	}
	fmt.Fprintf(&b, "Hash: %s", tx.Hash)
	if !tx.Timestamp.IsZero() {
		fmt.Fprintf(&b, "\nTime: %s", tx.Timestamp.UTC().Format(time.RFC3339))
	}
	return b.String()
}
