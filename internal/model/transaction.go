package model

import (
	"fmt"
	"math/big"
	"time"
)

// ChainRef identifies a chain by bridge network class and chain id.
type ChainRef struct {
	NetworkClass uint32 `json:"network_class"`
	ChainID      uint32 `json:"chain_id"`
}

func (c ChainRef) String() string {
	return fmt.Sprintf("%d:%d", c.NetworkClass, c.ChainID)
}

// Transaction is a decoded bridge call. Hash is the account-block hash that
// carried the call and is unique across the store.
type Transaction struct {
	Hash         string
	Type         TxType
	Height       uint64
	Source       ChainRef
	Destination  ChainRef
	Token        string
	Amount       *big.Int
	From         string
	To           string
	SourceTxHash string
	LogIndex     uint32
	Timestamp    time.Time
}

// TransactionRecord is the JSON representation of a Transaction.
type TransactionRecord struct {
	Hash         string   `json:"hash"`
	Type         TxType   `json:"type"`
	Height       uint64   `json:"height"`
	Source       ChainRef `json:"source"`
	Destination  ChainRef `json:"destination"`
	Token        string   `json:"token"`
	Amount       string   `json:"amount"`
	From         string   `json:"from"`
	To           string   `json:"to"`
	SourceTxHash string   `json:"source_tx_hash,omitempty"`
	LogIndex     uint32   `json:"log_index,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

// Record converts the transaction into its JSON form. Amounts are decimal strings.
func (t Transaction) Record() TransactionRecord {
	amount := "0"
	if t.Amount != nil {
		amount = t.Amount.String()
	}
	var ts int64
	if !t.Timestamp.IsZero() {
		ts = t.Timestamp.Unix()
	}
	return TransactionRecord{
		Hash:         t.Hash,
		Type:         t.Type,
		Height:       t.Height,
		Source:       t.Source,
		Destination:  t.Destination,
		Token:        t.Token,
		Amount:       amount,
		From:         t.From,
		To:           t.To,
		SourceTxHash: t.SourceTxHash,
		LogIndex:     t.LogIndex,
		Timestamp:    ts,
	}
}
