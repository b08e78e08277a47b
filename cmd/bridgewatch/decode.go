package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bridgewatch/internal/codec"
	"bridgewatch/internal/config"
	"bridgewatch/internal/indexer"
	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Out == "" {
		return fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return fmt.Errorf("errors path is required")
	}
	bridge, err := indexer.ParseBridgeAddress(cfg.BridgeAddress)
	if err != nil {
		return err
	}
	selectorMap, err := indexer.ParseSelectorMap(cfg.SelectorMap)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decoder, err := codec.NewDecoder(codec.DecoderConfig{
		Zenon:       model.ChainRef{NetworkClass: cfg.ZenonNetworkClass, ChainID: cfg.ZenonChainID},
		SelectorMap: selectorMap,
	})
	if err != nil {
		return err
	}

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	out := storage.NewJSONLWriter(cfg.Out)
	errs := storage.NewJSONLWriter(cfg.Errors)
	for _, w := range []*storage.JSONLWriter{out, errs} {
		if err := w.Reset(); err != nil {
			return err
		}
	}

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.String("bridge", bridge),
	)

	summary, err := indexer.DecodeFile(ctx, inputFile, decoder, bridge, out, errs)
	if err != nil {
		return err
	}

	logger.Info("decode complete",
		zap.Int("lines", summary.Lines),
		zap.Int("events", summary.Events),
		zap.Int("decoded", summary.Decoded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)

	return nil
}
