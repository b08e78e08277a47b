package codec

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

// DefaultBridgeAddress is the mainnet bridge embedded contract.
const DefaultBridgeAddress = "z1qxemdeddedxdrydgexxxxxxxxxxxxxxxmqgr0d"

const (
	addressHRP         = "z"
	tokenStandardHRP   = "zts"
	addressCoreSize    = 20
	tokenStandardBytes = 10
)

// FormatAddress renders a 20-byte account address as bech32.
func FormatAddress(core []byte) (string, error) {
	if len(core) != addressCoreSize {
		return "", fmt.Errorf("address core length %d", len(core))
	}
	return encodeBech32(addressHRP, core)
}

// FormatTokenStandard renders a 10-byte token standard as bech32.
func FormatTokenStandard(core []byte) (string, error) {
	if len(core) != tokenStandardBytes {
		return "", fmt.Errorf("token standard length %d", len(core))
	}
	return encodeBech32(tokenStandardHRP, core)
}

// ParseAddress validates a bech32 account address and returns its core bytes.
func ParseAddress(input string) ([]byte, error) {
	hrp, data, err := bech32.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", input, err)
	}
	if hrp != addressHRP {
		return nil, fmt.Errorf("invalid address %s: prefix %q", input, hrp)
	}
	core, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("invalid address %s: %w", input, err)
	}
	if len(core) != addressCoreSize {
		return nil, fmt.Errorf("invalid address %s: length %d", input, len(core))
	}
	return core, nil
}

func encodeBech32(hrp string, data []byte) (string, error) {
	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, conv)
}
