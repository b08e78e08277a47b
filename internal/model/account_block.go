package model

// AccountBlock is the subset of a node account block the bridge pipeline reads.
// Data is base64 on the wire and decoded by encoding/json into raw bytes.
type AccountBlock struct {
	BlockType          uint32              `json:"blockType"`
	Hash               string              `json:"hash"`
	Height             uint64              `json:"height"`
	Address            string              `json:"address"`
	ToAddress          string              `json:"toAddress"`
	Amount             string              `json:"amount"`
	TokenStandard      string              `json:"tokenStandard"`
	Data               []byte              `json:"data"`
	ConfirmationDetail *ConfirmationDetail `json:"confirmationDetail,omitempty"`
	PairedAccountBlock *AccountBlock       `json:"pairedAccountBlock,omitempty"`
}

// ConfirmationDetail carries the momentum that confirmed a block.
type ConfirmationDetail struct {
	NumConfirmations  uint64 `json:"numConfirmations"`
	MomentumHeight    uint64 `json:"momentumHeight"`
	MomentumHash      string `json:"momentumHash"`
	MomentumTimestamp int64  `json:"momentumTimestamp"`
}

// RawEvent is one candidate bridge call extracted from a notification. Anchor is
// the height of the enclosing bridge-chain block, or zero when the block does
// not belong to the bridge chain.
type RawEvent struct {
	Hash          string
	Anchor        uint64
	Address       string
	ToAddress     string
	TokenStandard string
	Amount        string
	Data          []byte
	Timestamp     int64
}
