package codec

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"bridgewatch/internal/model"
)

const selectorSize = 4

// DecoderConfig configures decoder behavior.
type DecoderConfig struct {
	// Zenon is the chain reference used for the Zenon side of a transfer.
	Zenon model.ChainRef
	// SelectorMap adds selector (hex) to method name mappings on top of the ABI.
	SelectorMap map[string]string
}

// Decoder turns raw bridge account blocks into typed transactions. It holds no
// mutable state and is safe for concurrent use.
type Decoder struct {
	bridgeABI  abi.ABI
	zenon      model.ChainRef
	bySelector map[[selectorSize]byte]abi.Method
}

// NewDecoder builds a Decoder.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	bridgeABI, err := BridgeABI()
	if err != nil {
		return nil, fmt.Errorf("parse bridge abi: %w", err)
	}

	bySelector := make(map[[selectorSize]byte]abi.Method, len(bridgeABI.Methods))
	for _, method := range bridgeABI.Methods {
		var sel [selectorSize]byte
		copy(sel[:], method.ID)
		bySelector[sel] = method
	}

	for selector, name := range cfg.SelectorMap {
		original := name
		name = normalizeMethodName(name)
		if name == "" {
			return nil, fmt.Errorf("unsupported method name in selector map: %s", original)
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(selector)), "0x"))
		if err != nil || len(raw) != selectorSize {
			return nil, fmt.Errorf("invalid selector in selector map: %s", selector)
		}
		var sel [selectorSize]byte
		copy(sel[:], raw)
		bySelector[sel] = bridgeABI.Methods[name]
	}

	return &Decoder{
		bridgeABI:  bridgeABI,
		zenon:      cfg.Zenon,
		bySelector: bySelector,
	}, nil
}

// CanDecode reports whether data starts with a tracked method selector.
func (d *Decoder) CanDecode(data []byte) bool {
	method, ok := d.method(data)
	return ok && method.Name != methodUpdateWrapRequest
}

// Decode converts a RawEvent into a Transaction. It returns ErrSkip for blocks
// without a tracked call and a *MalformedError for a tracked call with a bad payload.
func (d *Decoder) Decode(raw model.RawEvent) (model.Transaction, error) {
	method, ok := d.method(raw.Data)
	if !ok || method.Name == methodUpdateWrapRequest {
		return model.Transaction{}, ErrSkip
	}

	hash, err := normalizeHash(raw.Hash)
	if err != nil {
		return model.Transaction{}, &MalformedError{Method: method.Name, Field: "hash", Err: err}
	}

	values, err := unpackArgs(method, raw.Data[selectorSize:])
	if err != nil {
		return model.Transaction{}, err
	}

	tx := model.Transaction{
		Hash:   hash,
		Height: raw.Anchor,
	}
	if raw.Timestamp > 0 {
		tx.Timestamp = time.Unix(raw.Timestamp, 0).UTC()
	}

	switch method.Name {
	case methodWrapToken:
		err = d.decodeWrap(&tx, raw, values)
	case methodUnwrapToken:
		err = d.decodeUnwrap(&tx, values)
	case methodRedeem:
		err = d.decodeRedeem(&tx, raw, values)
	default:
		return model.Transaction{}, ErrSkip
	}
	if err != nil {
		return model.Transaction{}, err
	}
	return tx, nil
}

func (d *Decoder) method(data []byte) (abi.Method, bool) {
	if len(data) < selectorSize {
		return abi.Method{}, false
	}
	var sel [selectorSize]byte
	copy(sel[:], data[:selectorSize])
	method, ok := d.bySelector[sel]
	return method, ok
}

func (d *Decoder) decodeWrap(tx *model.Transaction, raw model.RawEvent, values []interface{}) error {
	if len(values) != 3 {
		return &MalformedError{Method: methodWrapToken, Err: fmt.Errorf("unexpected wrap values: %d", len(values))}
	}
	networkClass, err := asUint32(methodWrapToken, "networkClass", values[0])
	if err != nil {
		return err
	}
	chainID, err := asUint32(methodWrapToken, "chainId", values[1])
	if err != nil {
		return err
	}
	toAddress, err := asString(methodWrapToken, "toAddress", values[2])
	if err != nil {
		return err
	}
	amount, err := parseAmount(methodWrapToken, raw.Amount)
	if err != nil {
		return err
	}

	tx.Type = model.WrapToken
	tx.Source = d.zenon
	tx.Destination = model.ChainRef{NetworkClass: networkClass, ChainID: chainID}
	tx.Token = raw.TokenStandard
	tx.Amount = amount
	tx.From = raw.Address
	tx.To = toAddress
	return nil
}

func (d *Decoder) decodeUnwrap(tx *model.Transaction, values []interface{}) error {
	if len(values) != 8 {
		return &MalformedError{Method: methodUnwrapToken, Err: fmt.Errorf("unexpected unwrap values: %d", len(values))}
	}
	networkClass, err := asUint32(methodUnwrapToken, "networkClass", values[0])
	if err != nil {
		return err
	}
	chainID, err := asUint32(methodUnwrapToken, "chainId", values[1])
	if err != nil {
		return err
	}
	sourceTx, err := asHash(methodUnwrapToken, "transactionHash", values[2])
	if err != nil {
		return err
	}
	logIndex, err := asUint32(methodUnwrapToken, "logIndex", values[3])
	if err != nil {
		return err
	}
	toCore, ok := values[4].(common.Address)
	if !ok {
		return &MalformedError{Method: methodUnwrapToken, Field: "toAddress", Err: fmt.Errorf("unexpected type %T", values[4])}
	}
	toAddress, err := FormatAddress(toCore.Bytes())
	if err != nil {
		return &MalformedError{Method: methodUnwrapToken, Field: "toAddress", Err: err}
	}
	token, err := asString(methodUnwrapToken, "tokenAddress", values[5])
	if err != nil {
		return err
	}
	amount, err := asBigInt(methodUnwrapToken, "amount", values[6])
	if err != nil {
		return err
	}

	tx.Type = model.UnwrapToken
	tx.Source = model.ChainRef{NetworkClass: networkClass, ChainID: chainID}
	tx.Destination = d.zenon
	tx.Token = strings.ToLower(token)
	tx.Amount = amount
	tx.To = toAddress
	tx.SourceTxHash = sourceTx
	tx.LogIndex = logIndex
	return nil
}

func (d *Decoder) decodeRedeem(tx *model.Transaction, raw model.RawEvent, values []interface{}) error {
	if len(values) != 2 {
		return &MalformedError{Method: methodRedeem, Err: fmt.Errorf("unexpected redeem values: %d", len(values))}
	}
	sourceTx, err := asHash(methodRedeem, "transactionHash", values[0])
	if err != nil {
		return err
	}
	logIndex, err := asUint32(methodRedeem, "logIndex", values[1])
	if err != nil {
		return err
	}
	amount, err := parseAmount(methodRedeem, raw.Amount)
	if err != nil {
		return err
	}

	tx.Type = model.Redeem
	tx.Destination = d.zenon
	tx.Token = raw.TokenStandard
	tx.Amount = amount
	tx.From = raw.Address
	tx.SourceTxHash = sourceTx
	tx.LogIndex = logIndex
	return nil
}

func normalizeMethodName(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "wraptoken":
		return methodWrapToken
	case "unwraptoken":
		return methodUnwrapToken
	case "redeem":
		return methodRedeem
	case "updatewraprequest":
		return methodUpdateWrapRequest
	default:
		return ""
	}
}

func unpackArgs(method abi.Method, args []byte) ([]interface{}, error) {
	want := len(method.Inputs) * 32
	if len(args) < want {
		return nil, &MalformedError{Method: method.Name, Have: len(args), Want: want}
	}
	values, err := method.Inputs.Unpack(args)
	if err != nil {
		return nil, &MalformedError{Method: method.Name, Have: len(args), Err: fmt.Errorf("unpack: %w", err)}
	}
	return values, nil
}

func normalizeHash(input string) (string, error) {
	hash := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(input), "0x"))
	if len(hash) != 64 {
		return "", fmt.Errorf("hash length %d", len(hash))
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return "", err
	}
	return hash, nil
}

func parseAmount(method, input string) (*big.Int, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(input, 10)
	if !ok || amount.Sign() < 0 {
		return nil, &MalformedError{Method: method, Field: "amount", Err: fmt.Errorf("invalid amount %q", input)}
	}
	return amount, nil
}
