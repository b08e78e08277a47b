package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bridgewatch/internal/codec"
)

// DecodeConfig holds configuration for the decode command.
type DecodeConfig struct {
	In                string
	Out               string
	Errors            string
	BridgeAddress     string
	ZenonNetworkClass uint32
	ZenonChainID      uint32
	SelectorMap       map[string]string
	LogLevel          string
}

// LoadDecode merges config file, environment variables, and flags into DecodeConfig.
func LoadDecode(cfgFile string, flags *pflag.FlagSet) (DecodeConfig, error) {
	v := viper.New()
	v.SetDefault("out", "./data/transactions.jsonl")
	v.SetDefault("errors", "./data/decode_errors.jsonl")
	v.SetDefault("bridge-address", codec.DefaultBridgeAddress)
	v.SetDefault("zenon-network-class", uint32(1))
	v.SetDefault("zenon-chain-id", uint32(1))
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return DecodeConfig{}, err
	}

	cfg := DecodeConfig{
		In:                v.GetString("in"),
		Out:               v.GetString("out"),
		Errors:            v.GetString("errors"),
		BridgeAddress:     v.GetString("bridge-address"),
		ZenonNetworkClass: v.GetUint32("zenon-network-class"),
		ZenonChainID:      v.GetUint32("zenon-chain-id"),
		SelectorMap:       getStringMap(v, "selector-map"),
		LogLevel:          v.GetString("log-level"),
	}
	if cfg.In == "" {
		return DecodeConfig{}, fmt.Errorf("--in is required")
	}

	return cfg, nil
}

// StoreConfig holds configuration for commands that only need the store.
type StoreConfig struct {
	Store
	Window   string
	LogLevel string
}

// LoadStore merges config file, environment variables, and flags into StoreConfig.
func LoadStore(cfgFile string, flags *pflag.FlagSet) (StoreConfig, error) {
	v := viper.New()
	setStoreDefaults(v)
	v.SetDefault("store", "postgres")
	v.SetDefault("window", "1d")
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return StoreConfig{}, err
	}

	cfg := StoreConfig{
		Store:    loadStore(v),
		Window:   v.GetString("window"),
		LogLevel: v.GetString("log-level"),
	}
	if err := cfg.Store.Validate(); err != nil {
		return StoreConfig{}, err
	}
	return cfg, nil
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
