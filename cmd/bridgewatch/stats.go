package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bridgewatch/internal/aggregate"
	"bridgewatch/internal/config"
	"bridgewatch/internal/registry"
	"bridgewatch/internal/storage"
)

func runStats(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStore(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	window, err := storage.ParseWindow(cfg.Window)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Store, nil, logger)
	if err != nil {
		return err
	}
	defer st.close()

	stats, err := st.events.Aggregate(ctx, window)
	if err != nil {
		return fmt.Errorf("aggregate stats: %w", err)
	}

	tokens := aggregate.NewTokenCache()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "window %s since %s: %d transactions\n", stats.Window, stats.Since.Format("2006-01-02 15:04:05 MST"), stats.Total())
	for _, row := range stats.Rows {
		fmt.Fprintf(out, "%-12s %6d  %s\n", row.Type, row.Count, tokens.Format(row.Token, row.Volume))
	}
	return nil
}

func runPurgeFilters(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStore(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg.Store, nil, logger)
	if err != nil {
		return err
	}
	defer st.close()

	reg := registry.New(st.subscribers, logger)
	purged, err := reg.PurgeInvalidFilters(ctx)
	if err != nil {
		return err
	}
	logger.Info("purge complete", zap.Int("purged_entries", purged), zap.Int("active_subscribers", reg.ActiveCount()))
	return nil
}
