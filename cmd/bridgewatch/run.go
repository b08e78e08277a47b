package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bridgewatch/internal/aggregate"
	"bridgewatch/internal/api"
	"bridgewatch/internal/codec"
	"bridgewatch/internal/config"
	"bridgewatch/internal/dispatch"
	"bridgewatch/internal/indexer"
	"bridgewatch/internal/model"
	"bridgewatch/internal/registry"
	"bridgewatch/internal/storage"
	"bridgewatch/internal/stream"
)

func runWatcher(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
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

	clk := clock.NewDefaultClock()
	st, err := openStores(ctx, cfg.Store, clk, logger)
	if err != nil {
		return err
	}
	defer st.close()

	decoder, err := codec.NewDecoder(codec.DecoderConfig{
		Zenon:       model.ChainRef{NetworkClass: cfg.ZenonNetworkClass, ChainID: cfg.ZenonChainID},
		SelectorMap: selectorMap,
	})
	if err != nil {
		return err
	}

	reg := registry.New(st.subscribers, logger.Named("registry"))
	if err := reg.Load(ctx); err != nil {
		return err
	}

	tokens := aggregate.NewTokenCache()
	for token, info := range cfg.Tokens {
		tokens.Set(token, info)
	}

	notifier, closeNotifier, err := newNotifier(cfg, logger.Named("notifier"))
	if err != nil {
		return err
	}
	defer closeNotifier()

	engine := dispatch.NewEngine(dispatch.Config{
		Workers:         cfg.DispatchWorkers,
		QueueSize:       cfg.DispatchQueue,
		Rate:            cfg.DispatchRate,
		Burst:           cfg.DispatchBurst,
		MaxSendFailures: cfg.MaxSendFailures,
		SendRetries:     cfg.SendRetries,
		RetryBackoff:    cfg.RetryBackoff,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	}, reg, notifier, dispatch.NewFormatter(tokens), logger.Named("dispatch"))

	runner := indexer.NewRunner(indexer.RunConfig{
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, decoder, st.events, engine, clk, logger.Named("indexer"))

	manager := stream.NewManager(stream.Config{
		NodeURL:              cfg.NodeURL,
		Bridge:               bridge,
		IdleTimeout:          cfg.IdleTimeout,
		PingInterval:         cfg.PingInterval,
		BackoffInitial:       cfg.BackoffInitial,
		BackoffMax:           cfg.BackoffMax,
		BackoffJitter:        cfg.BackoffJitter,
		StableAfter:          cfg.StableAfter,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		BackfillPageSize:     cfg.BackfillPageSize,
		BackfillMaxHeights:   cfg.BackfillMaxHeights,
	}, runner, indexer.NewCheckpointStore(cfg.Checkpoint, bridge, cfg.CheckpointEnabled), clk, logger.Named("stream"))

	sup := newSupervisor(logger.Named("supervisor"))
	sup.Add(manager)
	sup.Add(api.NewServer(cfg.HTTPAddr, api.Deps{
		Store:       st.events,
		Status:      manager,
		Subscribers: reg,
		Registry:    reg,
		Ready:       st.ping,
		Tokens:      tokens,
		Token:       cfg.APIToken,
	}, logger.Named("api")))
	if cfg.Retention > 0 {
		pruneTicker := ticker.New(cfg.PruneInterval)
		defer pruneTicker.Stop()
		sup.Add(storage.NewPruner(st.events, cfg.Retention, pruneTicker, clk, logger.Named("retention")))
	}

	logger.Info("bridgewatch start",
		zap.String("node", cfg.NodeURL),
		zap.String("bridge", bridge),
		zap.String("store", cfg.Store.Kind),
		zap.String("notifier", cfg.Notifier),
		zap.Int("active_subscribers", reg.ActiveCount()),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	err = sup.Serve(ctx)

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if cerr := engine.Close(drainCtx); cerr != nil {
		logger.Warn("dispatch drain incomplete", zap.Error(cerr))
	}
	logger.Info("bridgewatch stopped")

	if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	return nil
}

func newNotifier(cfg config.Config, logger *zap.Logger) (dispatch.Notifier, func(), error) {
	switch cfg.Notifier {
	case "telegram":
		n, err := dispatch.NewTelegramNotifier(cfg.TelegramAPI, cfg.TelegramToken, nil)
		if err != nil {
			return nil, nil, err
		}
		return n, func() {}, nil
	case "nats":
		n, err := dispatch.NewNATSNotifier(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return nil, nil, err
		}
		return n, func() {
			if err := n.Close(); err != nil {
				logger.Warn("close nats", zap.Error(err))
			}
		}, nil
	case "log":
		return dispatch.NewLogNotifier(logger), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown notifier %q", cfg.Notifier)
	}
}
