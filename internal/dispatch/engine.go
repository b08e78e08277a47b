// Package dispatch fans stored transactions out to subscribers through a
// bounded queue, a rate limiter and per-recipient circuit breakers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"bridgewatch/internal/metrics"
	"bridgewatch/internal/model"
	"bridgewatch/internal/registry"
)

// Registry is the subscriber view the engine needs.
type Registry interface {
	ActiveSubscribers() *registry.Snapshot
	Deactivate(ctx context.Context, id, reason string) error
}

// Config controls the worker pool and delivery policy.
type Config struct {
	Workers         int
	QueueSize       int
	Rate            float64
	Burst           int
	MaxSendFailures int
	SendRetries     int
	RetryBackoff    time.Duration
	BreakerTimeout  time.Duration
	// BreakerFailures is the number of consecutive transient failures that
	// open a recipient's breaker.
	BreakerFailures int
}

type job struct {
	subscriber string
	hash       string
	text       string
	// failed counts transient send failures across holds.
	failed int
}

// Engine delivers notifications concurrently. Dispatch blocks when the queue
// is full; jobs are never dropped.
type Engine struct {
	cfg       Config
	registry  Registry
	notifier  Notifier
	formatter *Formatter
	limiter   *rate.Limiter
	logger    *zap.Logger

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker[struct{}]

	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeMu sync.RWMutex
	closed  bool

	failMu   sync.Mutex
	failures map[string]int
}

func NewEngine(cfg Config, reg Registry, notifier Notifier, formatter *Formatter, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if formatter == nil {
		formatter = NewFormatter(nil)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MaxSendFailures <= 0 {
		cfg.MaxSendFailures = 3
	}
	if cfg.SendRetries < 0 {
		cfg.SendRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}

	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		registry:  reg,
		notifier:  notifier,
		formatter: formatter,
		limiter:   rate.NewLimiter(limit, burst),
		logger:    logger,
		queue:     make(chan job, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
		breakers:  make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		failures:  make(map[string]int),
	}
	for i := 0; i < cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Dispatch enqueues one job per active subscriber whose filter accepts tx.
// It reads a single registry snapshot.
func (e *Engine) Dispatch(ctx context.Context, tx model.Transaction) error {
	e.closeMu.RLock()
	defer e.closeMu.RUnlock()
	if e.closed {
		return ErrClosed
	}

	recipients := e.registry.ActiveSubscribers().Matching(tx.Type)
	if len(recipients) == 0 {
		return nil
	}
	text := e.formatter.Format(tx)

	for _, sub := range recipients {
		select {
		case e.queue <- job{subscriber: sub.ID, hash: tx.Hash, text: text}:
			metrics.DispatchQueueDepth.Inc()
		case <-ctx.Done():
			return fmt.Errorf("enqueue notification: %w", ctx.Err())
		}
	}
	e.logger.Debug("notifications queued", zap.String("hash", tx.Hash), zap.Int("recipients", len(recipients)))
	return nil
}

// Close stops accepting jobs and waits for queued and held jobs to be
// delivered. When ctx ends first, in-flight deliveries are canceled.
func (e *Engine) Close(ctx context.Context) error {
	e.closeMu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.closeMu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		return nil
	case <-ctx.Done():
		e.cancel()
		<-done
		return fmt.Errorf("drain dispatch queue: %w", ctx.Err())
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for j := range e.queue {
		metrics.DispatchQueueDepth.Dec()
		if err := e.limiter.Wait(e.ctx); err != nil {
			metrics.DispatchJobs.WithLabelValues("canceled").Inc()
			continue
		}
		e.deliver(j)
	}
}

func (e *Engine) deliver(j job) {
	logger := e.logger.With(zap.String("subscriber", j.subscriber), zap.String("hash", j.hash))

	err := e.send(&j)
	if wait, ok := e.throttled(err); ok {
		logger.Debug("notification held", zap.Error(err), zap.Duration("wait", wait))
		e.hold(j, wait)
		return
	}
	switch {
	case err == nil:
		metrics.DispatchJobs.WithLabelValues("sent").Inc()
		e.resetFailures(j.subscriber)
	case errors.Is(err, ErrRecipientUnavailable):
		metrics.DispatchJobs.WithLabelValues("unavailable").Inc()
		count := e.recordFailure(j.subscriber)
		logger.Warn("recipient unavailable", zap.Error(err), zap.Int("failures", count))
		if count >= e.cfg.MaxSendFailures {
			if err := e.registry.Deactivate(e.ctx, j.subscriber, err.Error()); err != nil {
				logger.Error("deactivate subscriber failed", zap.Error(err))
				return
			}
			e.resetFailures(j.subscriber)
			e.dropBreaker(j.subscriber)
		}
	case errors.Is(err, context.Canceled):
		metrics.DispatchJobs.WithLabelValues("canceled").Inc()
	default:
		metrics.DispatchJobs.WithLabelValues("failed").Inc()
		logger.Error("notification failed", zap.Error(err), zap.Int("attempts", j.failed))
	}
}

// send tries j through the recipient's breaker. Transient failures are
// retried until the job has failed SendRetries+1 times in total; throttling
// ends the attempt without using up the budget.
func (e *Engine) send(j *job) error {
	retries := e.cfg.SendRetries - j.failed
	if retries < 0 {
		retries = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryBackoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), e.ctx)
	breaker := e.breakerFor(j.subscriber)

	return backoff.RetryNotify(func() error {
		_, err := breaker.Execute(func() (struct{}, error) {
			return struct{}{}, e.notifier.Send(e.ctx, j.subscriber, j.text)
		})
		if err == nil {
			return nil
		}
		if _, ok := e.throttled(err); ok || errors.Is(err, ErrRecipientUnavailable) {
			return backoff.Permanent(err)
		}
		if e.ctx.Err() != nil {
			return backoff.Permanent(e.ctx.Err())
		}
		j.failed++
		return err
	}, policy, func(err error, wait time.Duration) {
		e.logger.Debug("retry notification", zap.String("subscriber", j.subscriber), zap.Error(err), zap.Duration("wait", wait))
	})
}

// throttled reports whether err asks the engine to wait and try again, and
// for how long.
func (e *Engine) throttled(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var limited *RateLimitedError
	switch {
	case errors.As(err, &limited):
		if limited.RetryAfter > 0 {
			return limited.RetryAfter, true
		}
		return e.cfg.RetryBackoff, true
	case errors.Is(err, gobreaker.ErrOpenState):
		return e.cfg.BreakerTimeout, true
	case errors.Is(err, gobreaker.ErrTooManyRequests):
		return e.cfg.RetryBackoff, true
	}
	return 0, false
}

// hold parks j off the worker pool until wait elapses, then delivers it
// again. Held jobs count toward Close's drain.
func (e *Engine) hold(j job, wait time.Duration) {
	metrics.DispatchJobs.WithLabelValues("held").Inc()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-e.ctx.Done():
			metrics.DispatchJobs.WithLabelValues("canceled").Inc()
			return
		case <-timer.C:
		}
		if err := e.limiter.Wait(e.ctx); err != nil {
			metrics.DispatchJobs.WithLabelValues("canceled").Inc()
			return
		}
		e.deliver(j)
	}()
}

func (e *Engine) breakerFor(id string) *gobreaker.CircuitBreaker[struct{}] {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()
	if cb, ok := e.breakers[id]; ok {
		return cb
	}
	threshold := uint32(e.cfg.BreakerFailures)
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "notifier:" + id,
		MaxRequests: 1,
		Timeout:     e.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			var limited *RateLimitedError
			return err == nil || errors.Is(err, ErrRecipientUnavailable) || errors.As(err, &limited)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("notifier circuit state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	e.breakers[id] = cb
	return cb
}

func (e *Engine) dropBreaker(id string) {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()
	delete(e.breakers, id)
}

func (e *Engine) recordFailure(id string) int {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	e.failures[id]++
	return e.failures[id]
}

func (e *Engine) resetFailures(id string) {
	e.failMu.Lock()
	defer e.failMu.Unlock()
	delete(e.failures, id)
}
