package codec

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	methodWrapToken         = "WrapToken"
	methodUnwrapToken       = "UnwrapToken"
	methodRedeem            = "Redeem"
	methodUpdateWrapRequest = "UpdateWrapRequest"
)

const bridgeABIJSON = `[
  {
    "type": "function",
    "name": "WrapToken",
    "inputs": [
      {"name": "networkClass", "type": "uint32"},
      {"name": "chainId", "type": "uint32"},
      {"name": "toAddress", "type": "string"}
    ]
  },
  {
    "type": "function",
    "name": "UnwrapToken",
    "inputs": [
      {"name": "networkClass", "type": "uint32"},
      {"name": "chainId", "type": "uint32"},
      {"name": "transactionHash", "type": "bytes32"},
      {"name": "logIndex", "type": "uint32"},
      {"name": "toAddress", "type": "address"},
      {"name": "tokenAddress", "type": "string"},
      {"name": "amount", "type": "uint256"},
      {"name": "signature", "type": "string"}
    ]
  },
  {
    "type": "function",
    "name": "Redeem",
    "inputs": [
      {"name": "transactionHash", "type": "bytes32"},
      {"name": "logIndex", "type": "uint32"}
    ]
  },
  {
    "type": "function",
    "name": "UpdateWrapRequest",
    "inputs": [
      {"name": "id", "type": "bytes32"},
      {"name": "signature", "type": "string"}
    ]
  }
]`

var (
	bridgeABI     abi.ABI
	bridgeABIOnce sync.Once
	bridgeABIErr  error
)

// BridgeABI returns the parsed bridge contract ABI.
func BridgeABI() (abi.ABI, error) {
	bridgeABIOnce.Do(func() {
		bridgeABI, bridgeABIErr = abi.JSON(strings.NewReader(bridgeABIJSON))
	})
	return bridgeABI, bridgeABIErr
}

// EncodeCall packs a bridge method call the way it appears in account-block data.
func EncodeCall(method string, args ...interface{}) ([]byte, error) {
	parsed, err := BridgeABI()
	if err != nil {
		return nil, err
	}
	return parsed.Pack(method, args...)
}
