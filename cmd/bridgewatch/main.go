package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "bridgewatch",
		Short:        "Zenon bridge transaction watcher",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Stream bridge transactions and notify subscribers",
		RunE:  runWatcher,
	}

	runCmd.Flags().String("node-url", "wss://my.hc1node.com:35998", "node WebSocket URL")
	runCmd.Flags().String("bridge-address", "", "bridge account address")
	runCmd.Flags().Duration("idle-timeout", 90*time.Second, "reconnect when no frame arrives within this duration")
	runCmd.Flags().Duration("ping-interval", 30*time.Second, "keepalive ping interval (0 disables)")
	runCmd.Flags().Duration("backoff-initial", time.Second, "initial reconnect delay")
	runCmd.Flags().Duration("backoff-max", 5*time.Minute, "reconnect delay ceiling")
	runCmd.Flags().Int("max-reconnect-attempts", 10, "consecutive failures before reporting offline")
	runCmd.Flags().Uint64("backfill-max-heights", 1000, "maximum heights replayed after a reconnect")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().String("store", "memory", "event store (memory, postgres)")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	runCmd.Flags().String("redis-addr", "", "Redis address for the stats cache")
	runCmd.Flags().Duration("retention", 0, "delete transactions older than this (0 disables)")
	runCmd.Flags().String("notifier", "log", "notification channel (log, telegram, nats)")
	runCmd.Flags().String("telegram-token", "", "Telegram bot token")
	runCmd.Flags().String("nats-url", "", "NATS server URL")
	runCmd.Flags().Int("dispatch-workers", 4, "notification workers")
	runCmd.Flags().Float64("dispatch-rate", 25, "notifications per second")
	runCmd.Flags().String("http-addr", ":8080", "status HTTP listen address")
	runCmd.Flags().String("api-token", "", "bearer token required for subscriber changes over HTTP")
	runCmd.Flags().Int("max-retries", 5, "maximum store retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial store retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode captured account-block frames into typed transactions",
		RunE:  runDecode,
	}

	decodeCmd.Flags().String("in", "", "input frames JSONL")
	decodeCmd.Flags().String("out", "./data/transactions.jsonl", "output transactions JSONL")
	decodeCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	decodeCmd.Flags().String("bridge-address", "", "bridge account address")
	decodeCmd.Flags().String("selector-map", "", "extra selector->method mappings (comma-separated key=value)")
	decodeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(decodeCmd)

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Print transaction counts and volume over a trailing window",
		RunE:  runStats,
	}

	statsCmd.Flags().String("window", "1d", "window (e.g. 7d, 36h, 7)")
	statsCmd.Flags().String("store", "postgres", "event store (memory, postgres)")
	statsCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	statsCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(statsCmd)

	purgeCmd := &cobra.Command{
		Use:   "purge-filters",
		Short: "Remove unknown transaction types from subscriber filters",
		RunE:  runPurgeFilters,
	}

	purgeCmd.Flags().String("store", "postgres", "subscriber store (memory, postgres)")
	purgeCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	purgeCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(purgeCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
