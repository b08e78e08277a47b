package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"bridgewatch/internal/codec"
)

// ParseBridgeAddress validates the monitored address.
func ParseBridgeAddress(input string) (string, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return "", fmt.Errorf("bridge address is required")
	}
	if _, err := codec.ParseAddress(input); err != nil {
		return "", err
	}
	return input, nil
}

// ParseSelectorMap normalizes selector overrides to 0x-prefixed lowercase hex.
func ParseSelectorMap(inputs map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(inputs))
	for selector, method := range inputs {
		selector = strings.TrimSpace(selector)
		if !strings.HasPrefix(selector, "0x") && !strings.HasPrefix(selector, "0X") {
			selector = "0x" + selector
		}
		data, err := hexutil.Decode(strings.ToLower(selector))
		if err != nil {
			return nil, fmt.Errorf("invalid selector: %s", selector)
		}
		if len(data) != 4 {
			return nil, fmt.Errorf("invalid selector length: %s", selector)
		}
		out[hexutil.Encode(data)] = strings.TrimSpace(method)
	}
	return out, nil
}
