package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"bridgewatch/internal/aggregate"
	"bridgewatch/internal/codec"
)

const envPrefix = "BRIDGEWATCH"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	NodeURL           string
	BridgeAddress     string
	ZenonNetworkClass uint32
	ZenonChainID      uint32
	SelectorMap       map[string]string
	Tokens            map[string]aggregate.TokenInfo

	IdleTimeout          time.Duration
	PingInterval         time.Duration
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	BackoffJitter        float64
	StableAfter          time.Duration
	MaxReconnectAttempts int
	BackfillPageSize     uint64
	BackfillMaxHeights   uint64
	Checkpoint           string
	CheckpointEnabled    bool

	Store
	Retention     time.Duration
	PruneInterval time.Duration

	Notifier        string
	TelegramToken   string
	TelegramAPI     string
	NATSURL         string
	NATSSubject     string
	DispatchRate    float64
	DispatchBurst   int
	DispatchWorkers int
	DispatchQueue   int
	MaxSendFailures int
	SendRetries     int
	BreakerFailures int
	BreakerTimeout  time.Duration

	HTTPAddr     string
	APIToken     string
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// Store selects and configures the event and subscriber store.
type Store struct {
	Kind          string
	PGDSN         string
	RedisAddr     string
	StatsCacheTTL time.Duration
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetDefault("node-url", "wss://my.hc1node.com:35998")
	v.SetDefault("bridge-address", codec.DefaultBridgeAddress)
	v.SetDefault("zenon-network-class", uint32(1))
	v.SetDefault("zenon-chain-id", uint32(1))
	v.SetDefault("idle-timeout", 90*time.Second)
	v.SetDefault("ping-interval", 30*time.Second)
	v.SetDefault("backoff-initial", time.Second)
	v.SetDefault("backoff-max", 5*time.Minute)
	v.SetDefault("backoff-jitter", 0.2)
	v.SetDefault("stable-after", 2*time.Minute)
	v.SetDefault("max-reconnect-attempts", 10)
	v.SetDefault("backfill-page-size", uint64(100))
	v.SetDefault("backfill-max-heights", uint64(1000))
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("retention", time.Duration(0))
	v.SetDefault("prune-interval", time.Hour)
	v.SetDefault("notifier", "log")
	v.SetDefault("telegram-api", "https://api.telegram.org")
	v.SetDefault("nats-subject", "bridgewatch.notifications")
	v.SetDefault("dispatch-rate", 25.0)
	v.SetDefault("dispatch-burst", 5)
	v.SetDefault("dispatch-workers", 4)
	v.SetDefault("dispatch-queue", 1024)
	v.SetDefault("max-send-failures", 3)
	v.SetDefault("send-retries", 3)
	v.SetDefault("breaker-failures", 5)
	v.SetDefault("breaker-timeout", 30*time.Second)
	v.SetDefault("http-addr", ":8080")
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	setStoreDefaults(v)
	v.SetDefault("log-level", "info")

	if err := readConfig(v, cfgFile, flags); err != nil {
		return Config{}, err
	}

	tokens, err := getTokens(v, "tokens")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		NodeURL:              v.GetString("node-url"),
		BridgeAddress:        v.GetString("bridge-address"),
		ZenonNetworkClass:    v.GetUint32("zenon-network-class"),
		ZenonChainID:         v.GetUint32("zenon-chain-id"),
		SelectorMap:          getStringMap(v, "selector-map"),
		Tokens:               tokens,
		IdleTimeout:          v.GetDuration("idle-timeout"),
		PingInterval:         v.GetDuration("ping-interval"),
		BackoffInitial:       v.GetDuration("backoff-initial"),
		BackoffMax:           v.GetDuration("backoff-max"),
		BackoffJitter:        v.GetFloat64("backoff-jitter"),
		StableAfter:          v.GetDuration("stable-after"),
		MaxReconnectAttempts: v.GetInt("max-reconnect-attempts"),
		BackfillPageSize:     v.GetUint64("backfill-page-size"),
		BackfillMaxHeights:   v.GetUint64("backfill-max-heights"),
		Checkpoint:           v.GetString("checkpoint"),
		CheckpointEnabled:    v.GetBool("checkpoint-enabled"),
		Store:                loadStore(v),
		Retention:            v.GetDuration("retention"),
		PruneInterval:        v.GetDuration("prune-interval"),
		Notifier:             strings.ToLower(v.GetString("notifier")),
		TelegramToken:        v.GetString("telegram-token"),
		TelegramAPI:          v.GetString("telegram-api"),
		NATSURL:              v.GetString("nats-url"),
		NATSSubject:          v.GetString("nats-subject"),
		DispatchRate:         v.GetFloat64("dispatch-rate"),
		DispatchBurst:        v.GetInt("dispatch-burst"),
		DispatchWorkers:      v.GetInt("dispatch-workers"),
		DispatchQueue:        v.GetInt("dispatch-queue"),
		MaxSendFailures:      v.GetInt("max-send-failures"),
		SendRetries:          v.GetInt("send-retries"),
		BreakerFailures:      v.GetInt("breaker-failures"),
		BreakerTimeout:       v.GetDuration("breaker-timeout"),
		HTTPAddr:             v.GetString("http-addr"),
		APIToken:             v.GetString("api-token"),
		MaxRetries:           v.GetInt("max-retries"),
		RetryBackoff:         v.GetDuration("retry-backoff"),
		LogLevel:             v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	url := strings.ToLower(c.NodeURL)
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("node-url must be a ws:// or wss:// URL: %q", c.NodeURL)
	}
	if _, err := codec.ParseAddress(strings.ToLower(strings.TrimSpace(c.BridgeAddress))); err != nil {
		return fmt.Errorf("bridge-address: %w", err)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be positive")
	}
	if c.PingInterval < 0 || (c.PingInterval > 0 && c.PingInterval >= c.IdleTimeout) {
		return fmt.Errorf("ping-interval must be shorter than idle-timeout")
	}
	if c.BackoffInitial <= 0 || c.BackoffMax < c.BackoffInitial {
		return fmt.Errorf("backoff-initial must be positive and not exceed backoff-max")
	}
	if c.BackoffJitter < 0 || c.BackoffJitter >= 1 {
		return fmt.Errorf("backoff-jitter must be in [0, 1)")
	}
	if c.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("max-reconnect-attempts must be positive")
	}
	if c.BackfillPageSize == 0 {
		return fmt.Errorf("backfill-page-size must be positive")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if c.Retention > 0 && c.Retention <= 30*24*time.Hour {
		return fmt.Errorf("retention must exceed the 30 day stats window")
	}
	switch c.Notifier {
	case "log":
	case "telegram":
		if c.TelegramToken == "" {
			return fmt.Errorf("telegram-token is required for the telegram notifier")
		}
	case "nats":
		if c.NATSURL == "" {
			return fmt.Errorf("nats-url is required for the nats notifier")
		}
	default:
		return fmt.Errorf("unknown notifier %q", c.Notifier)
	}
	if c.DispatchWorkers <= 0 || c.DispatchQueue <= 0 {
		return fmt.Errorf("dispatch-workers and dispatch-queue must be positive")
	}
	if c.MaxSendFailures <= 0 {
		return fmt.Errorf("max-send-failures must be positive")
	}
	return nil
}

// Validate checks the store selection.
func (s Store) Validate() error {
	switch s.Kind {
	case "memory":
	case "postgres":
		if s.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store %q", s.Kind)
	}
	return nil
}

func setStoreDefaults(v *viper.Viper) {
	v.SetDefault("store", "memory")
	v.SetDefault("stats-cache-ttl", time.Minute)
}

func loadStore(v *viper.Viper) Store {
	return Store{
		Kind:          strings.ToLower(v.GetString("store")),
		PGDSN:         v.GetString("pg-dsn"),
		RedisAddr:     v.GetString("redis-addr"),
		StatsCacheTTL: v.GetDuration("stats-cache-ttl"),
	}
}

func readConfig(v *viper.Viper, cfgFile string, flags *pflag.FlagSet) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	v.SetConfigName("config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func getTokens(v *viper.Viper, key string) (map[string]aggregate.TokenInfo, error) {
	out := map[string]aggregate.TokenInfo{}
	if !v.IsSet(key) {
		return out, nil
	}
	if err := v.UnmarshalKey(key, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return out, nil
}
