package model

import "strings"

// TxType is the closed set of bridge transaction kinds the decoder produces.
type TxType string

const (
	WrapToken   TxType = "WrapToken"
	UnwrapToken TxType = "UnwrapToken"
	Redeem      TxType = "Redeem"
)

var allTxTypes = []TxType{WrapToken, UnwrapToken, Redeem}

// AllTxTypes returns the current type enumeration in a stable order.
func AllTxTypes() []TxType {
	out := make([]TxType, len(allTxTypes))
	copy(out, allTxTypes)
	return out
}

// Valid reports whether t belongs to the current enumeration.
func (t TxType) Valid() bool {
	for _, known := range allTxTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTxType matches a type name case-insensitively.
func ParseTxType(name string) (TxType, bool) {
	name = strings.TrimSpace(name)
	for _, known := range allTxTypes {
		if strings.EqualFold(string(known), name) {
			return known, true
		}
	}
	return "", false
}
