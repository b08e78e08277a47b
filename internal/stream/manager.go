// Package stream keeps the node subscription alive and replays missed blocks
// after reconnects.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"

	"bridgewatch/internal/chain"
	"bridgewatch/internal/codec"
	"bridgewatch/internal/metrics"
	"bridgewatch/internal/model"
)

// Handler processes one extracted event. An error leaves the event unconfirmed;
// the session is dropped and the event is replayed by gap recovery.
type Handler interface {
	HandleEvent(ctx context.Context, event model.RawEvent) error
}

// Checkpointer persists the last confirmed bridge height across restarts.
type Checkpointer interface {
	Load() (uint64, bool, error)
	Save(height uint64) error
}

// Config holds connection manager settings.
type Config struct {
	NodeURL              string
	Bridge               string
	IdleTimeout          time.Duration
	PingInterval         time.Duration
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	BackoffJitter        float64
	StableAfter          time.Duration
	MaxReconnectAttempts int
	BackfillPageSize     uint64
	BackfillMaxHeights   uint64
}

// Manager owns the single node session and its ConnectionState.
type Manager struct {
	cfg        Config
	handler    Handler
	checkpoint Checkpointer
	clock      clock.Clock
	logger     *zap.Logger

	conn *ConnectionState

	mu     sync.RWMutex
	status Status
}

type sessionResult struct {
	err    error
	stable bool
}

// NewManager builds a Manager. checkpoint may be nil.
func NewManager(cfg Config, handler Handler, checkpoint Checkpointer, clk clock.Clock, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	if cfg.BackfillPageSize == 0 {
		cfg.BackfillPageSize = 100
	}
	return &Manager{
		cfg:        cfg,
		handler:    handler,
		checkpoint: checkpoint,
		clock:      clk,
		logger:     logger,
		conn:       newConnectionState(),
		status:     Status{State: Disconnected, StateName: Disconnected.String(), Since: clk.Now()},
	}
}

// Serve runs the state machine until ctx is done.
func (m *Manager) Serve(ctx context.Context) error {
	if m.handler == nil {
		return fmt.Errorf("handler is nil")
	}
	if m.cfg.Bridge == "" {
		return fmt.Errorf("bridge address is required")
	}
	if err := m.loadCheckpoint(); err != nil {
		return err
	}

	bo := m.newBackOff()
	for {
		result := m.session(ctx)
		if ctx.Err() != nil {
			m.setState(Disconnected)
			return ctx.Err()
		}
		m.setState(Disconnected)

		if result.stable {
			m.conn.Attempts = 0
			bo.Reset()
		}
		m.conn.Attempts++
		metrics.Reconnects.Inc()

		offline := m.cfg.MaxReconnectAttempts > 0 && m.conn.Attempts >= m.cfg.MaxReconnectAttempts
		delay := bo.NextBackOff()
		if offline && m.cfg.BackoffMax > 0 {
			delay = m.cfg.BackoffMax
		}
		m.logger.Warn("node session ended",
			zap.Error(result.err),
			zap.Int("attempt", m.conn.Attempts),
			zap.Bool("offline", offline),
			zap.Duration("retry_in", delay),
		)
		m.setBackoff(m.conn.Attempts, offline)

		select {
		case <-ctx.Done():
			m.setState(Disconnected)
			return ctx.Err()
		case <-m.clock.TickAfter(delay):
		}
	}
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) String() string {
	return "stream-manager"
}

func (m *Manager) session(ctx context.Context) sessionResult {
	m.setState(Connecting)
	session := m.conn.newSession()
	logger := m.logger.With(zap.String("session", session))

	client, err := chain.Dial(ctx, chain.Config{
		URL:          m.cfg.NodeURL,
		IdleTimeout:  m.cfg.IdleTimeout,
		PingInterval: m.cfg.PingInterval,
	}, logger)
	if err != nil {
		return sessionResult{err: err}
	}
	defer client.Close()

	subID, err := client.Subscribe(ctx, m.cfg.Bridge)
	if err != nil {
		return sessionResult{err: fmt.Errorf("subscribe: %w", err)}
	}
	m.setState(Subscribed)
	logger.Info("subscribed", zap.String("subscription", subID), zap.String("bridge", m.cfg.Bridge))

	if err := m.recover(ctx, client, logger); err != nil {
		return sessionResult{err: fmt.Errorf("gap recovery: %w", err)}
	}

	m.setStreaming(session)
	stable := m.watchStability(logger)
	err = m.stream(ctx, client, subID, logger)
	return sessionResult{err: err, stable: stable()}
}

// watchStability clears the reported attempt count once the session has been
// streaming for StableAfter. The returned func ends the watch and reports
// whether the window was reached.
func (m *Manager) watchStability(logger *zap.Logger) func() bool {
	var reached atomic.Bool
	stop := make(chan struct{})
	done := make(chan struct{})
	tick := m.clock.TickAfter(m.cfg.StableAfter)

	go func() {
		defer close(done)
		select {
		case <-stop:
		case <-tick:
			reached.Store(true)
			m.mu.Lock()
			m.status.Attempts = 0
			m.mu.Unlock()
			logger.Debug("connection stable, reconnect attempts reset")
		}
	}()

	return func() bool {
		close(stop)
		<-done
		return reached.Load()
	}
}

func (m *Manager) stream(ctx context.Context, client *chain.Client, subID string, logger *zap.Logger) error {
	for {
		frame, err := client.Next(ctx)
		if err != nil {
			return err
		}
		sub, blocks, err := codec.ParseNotification(frame)
		if errors.Is(err, codec.ErrNotNotification) {
			continue
		}
		if err != nil {
			logger.Warn("discard notification", zap.Error(err))
			continue
		}
		if sub != subID {
			logger.Debug("notification for unknown subscription", zap.String("subscription", sub))
			continue
		}
		if err := m.deliver(ctx, blocks); err != nil {
			return err
		}
	}
}

func (m *Manager) recover(ctx context.Context, client *chain.Client, logger *zap.Logger) error {
	last := m.conn.LastConfirmed[m.cfg.Bridge]
	if last == 0 {
		return nil
	}
	frontier, err := client.FrontierHeight(ctx, m.cfg.Bridge)
	if err != nil {
		return fmt.Errorf("frontier height: %w", err)
	}
	rng, ok := RecoveryRange(last, frontier, m.cfg.BackfillMaxHeights)
	if !ok {
		logger.Info("no gap to recover", zap.Uint64("last_confirmed", last), zap.Uint64("frontier", frontier))
		return nil
	}
	overlap := last
	if overlap > 1 {
		overlap--
	}
	if rng.From > overlap {
		logger.Warn("backfill window truncated",
			zap.Uint64("last_confirmed", last),
			zap.Uint64("from", rng.From),
			zap.Uint64("max_heights", m.cfg.BackfillMaxHeights),
		)
	}

	pages, err := SplitRange(rng.From, rng.To, m.cfg.BackfillPageSize)
	if err != nil {
		return err
	}
	for _, page := range pages {
		blocks, err := client.AccountBlocksByHeight(ctx, m.cfg.Bridge, page.From, page.Count())
		if err != nil {
			return fmt.Errorf("blocks %d-%d: %w", page.From, page.To, err)
		}
		metrics.BackfillBlocks.Add(float64(len(blocks)))
		if err := m.deliver(ctx, blocks); err != nil {
			return err
		}
	}
	logger.Info("gap recovery complete", zap.Uint64("from", rng.From), zap.Uint64("to", rng.To))
	return nil
}

// deliver hands events to the handler in order. A bridge block is confirmed
// only after every event it carries was handled.
func (m *Manager) deliver(ctx context.Context, blocks []model.AccountBlock) error {
	for i := range blocks {
		for _, event := range codec.ExtractEvents(blocks[i:i+1], m.cfg.Bridge) {
			if err := m.handler.HandleEvent(ctx, event); err != nil {
				return fmt.Errorf("handle event %s: %w", event.Hash, err)
			}
		}
		if blocks[i].Address == m.cfg.Bridge {
			m.confirm(blocks[i].Height)
		}
	}
	return nil
}

func (m *Manager) confirm(height uint64) {
	if !m.conn.confirm(m.cfg.Bridge, height) {
		return
	}
	m.mu.Lock()
	m.status.LastConfirmed = height
	m.mu.Unlock()

	if m.checkpoint != nil {
		if err := m.checkpoint.Save(height); err != nil {
			m.logger.Warn("save checkpoint failed", zap.Error(err), zap.Uint64("height", height))
		}
	}
}

func (m *Manager) loadCheckpoint() error {
	if m.checkpoint == nil {
		return nil
	}
	height, ok, err := m.checkpoint.Load()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if ok && height > 0 {
		m.conn.confirm(m.cfg.Bridge, height)
		m.mu.Lock()
		m.status.LastConfirmed = height
		m.mu.Unlock()
		m.logger.Info("resume from checkpoint", zap.Uint64("last_confirmed", height))
	}
	return nil
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	if m.cfg.BackoffInitial > 0 {
		bo.InitialInterval = m.cfg.BackoffInitial
	}
	if m.cfg.BackoffMax > 0 {
		bo.MaxInterval = m.cfg.BackoffMax
	}
	if m.cfg.BackoffJitter >= 0 && m.cfg.BackoffJitter < 1 {
		bo.RandomizationFactor = m.cfg.BackoffJitter
	}
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (m *Manager) setState(state State) {
	metrics.ConnectionState.Set(float64(state))
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State != state {
		m.status.Since = m.clock.Now()
	}
	m.status.State = state
	m.status.StateName = state.String()
}

func (m *Manager) setStreaming(session string) {
	metrics.ConnectionState.Set(float64(Streaming))
	metrics.ConnectionOffline.Set(0)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.State = Streaming
	m.status.StateName = Streaming.String()
	m.status.Since = m.clock.Now()
	m.status.Session = session
	m.status.Offline = false
}

func (m *Manager) setBackoff(attempts int, offline bool) {
	if offline {
		metrics.ConnectionOffline.Set(1)
	}
	m.setState(Backoff)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status.Attempts = attempts
	if offline {
		m.status.Offline = true
	}
}
