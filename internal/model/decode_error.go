package model

// DecodeError records a decode failure for an account block.
type DecodeError struct {
	Hash    string `json:"hash"`
	Anchor  uint64 `json:"anchor"`
	Address string `json:"address"`
	Data    string `json:"data"`
	Error   string `json:"error"`
}
