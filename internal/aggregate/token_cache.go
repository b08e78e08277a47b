package aggregate

import (
	"math/big"
	"strings"
	"sync"
)

// Zenon token standards with known metadata.
const (
	ZNNTokenStandard = "zts1znnxxxxxxxxxxxxx9z4ulx"
	QSRTokenStandard = "zts1qsrxxxxxxxxxxxxxmrhjll"
)

// TokenInfo is display metadata for a token.
type TokenInfo struct {
	Symbol   string `mapstructure:"symbol" json:"symbol"`
	Decimals uint8  `mapstructure:"decimals" json:"decimals"`
}

// TokenCache caches token display metadata by token id.
type TokenCache struct {
	mu   sync.RWMutex
	data map[string]TokenInfo
}

// NewTokenCache returns a cache seeded with the native Zenon tokens.
func NewTokenCache() *TokenCache {
	c := &TokenCache{data: make(map[string]TokenInfo)}
	c.Set(ZNNTokenStandard, TokenInfo{Symbol: "ZNN", Decimals: 8})
	c.Set(QSRTokenStandard, TokenInfo{Symbol: "QSR", Decimals: 8})
	return c
}

func (c *TokenCache) Get(token string) (TokenInfo, bool) {
	c.mu.RLock()
	info, ok := c.data[strings.ToLower(token)]
	c.mu.RUnlock()
	return info, ok
}

func (c *TokenCache) Set(token string, info TokenInfo) {
	c.mu.Lock()
	c.data[strings.ToLower(token)] = info
	c.mu.Unlock()
}

// Format renders amount with the token's symbol and decimals, falling back to
// base units and the raw token id.
func (c *TokenCache) Format(token string, amount *big.Int) string {
	if info, ok := c.Get(token); ok {
		return FormatTokenAmount(amount, info.Decimals) + " " + info.Symbol
	}
	return FormatTokenAmount(amount, 0) + " " + token
}
