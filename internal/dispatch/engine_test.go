package dispatch

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"bridgewatch/internal/model"
	"bridgewatch/internal/registry"
	"bridgewatch/internal/storage"
)

type fakeNotifier struct {
	mu        sync.Mutex
	sent      map[string]int
	attempts  map[string]int
	failures  map[string]error
	transient map[string]int
	limited   map[string]int
	release   chan struct{}
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		sent:      make(map[string]int),
		attempts:  make(map[string]int),
		failures:  make(map[string]error),
		transient: make(map[string]int),
		limited:   make(map[string]int),
	}
}

func (n *fakeNotifier) Send(ctx context.Context, subscriberID, _ string) error {
	if n.release != nil {
		select {
		case <-n.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attempts[subscriberID]++
	if err := n.failures[subscriberID]; err != nil {
		return err
	}
	if n.limited[subscriberID] > 0 {
		n.limited[subscriberID]--
		return &RateLimitedError{RetryAfter: 5 * time.Millisecond}
	}
	if n.transient[subscriberID] > 0 {
		n.transient[subscriberID]--
		return errors.New("connection reset")
	}
	n.sent[subscriberID]++
	return nil
}

func (n *fakeNotifier) sentTo() map[string]int {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]int, len(n.sent))
	for k, v := range n.sent {
		out[k] = v
	}
	return out
}

func newRegistry(t *testing.T, subs map[string][]string) *registry.Registry {
	t.Helper()
	ctx := context.Background()
	reg := registry.New(storage.NewMemoryStore(nil), nil)
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := reg.Subscribe(ctx, id); err != nil {
			t.Fatalf("subscribe %s: %v", id, err)
		}
		if len(subs[id]) == 0 {
			continue
		}
		filter, err := registry.ParseFilter(subs[id])
		if err != nil {
			t.Fatalf("filter %s: %v", id, err)
		}
		if err := reg.SetFilter(ctx, id, filter); err != nil {
			t.Fatalf("set filter %s: %v", id, err)
		}
	}
	return reg
}

func testTx(hash string, txType model.TxType) model.Transaction {
	return model.Transaction{Hash: hash, Type: txType, Token: "zts1znnxxxxxxxxxxxxx9z4ulx", Amount: big.NewInt(100000000)}
}

func testConfig() Config {
	return Config{Workers: 2, QueueSize: 8, MaxSendFailures: 2, SendRetries: 2, RetryBackoff: time.Millisecond}
}

func closeEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDispatchHonoursFilters(t *testing.T) {
	reg := newRegistry(t, map[string][]string{
		"all":    nil,
		"wraps":  {"WrapToken"},
		"redeem": {"Redeem"},
		"gone":   nil,
	})
	if err := reg.Unsubscribe(context.Background(), "gone"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	notifier := newFakeNotifier()
	engine := NewEngine(testConfig(), reg, notifier, nil, nil)

	ctx := context.Background()
	if err := engine.Dispatch(ctx, testTx("a", model.WrapToken)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if err := engine.Dispatch(ctx, testTx("b", model.UnwrapToken)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	closeEngine(t, engine)

	got := notifier.sentTo()
	want := map[string]int{"all": 2, "wraps": 1}
	if len(got) != len(want) {
		t.Fatalf("unexpected deliveries: %v", got)
	}
	for id, n := range want {
		if got[id] != n {
			t.Fatalf("subscriber %s: got %d want %d (%v)", id, got[id], n, got)
		}
	}
}

func TestUnavailableRecipientIsDeactivated(t *testing.T) {
	reg := newRegistry(t, map[string][]string{"blocked": nil, "ok": nil})
	notifier := newFakeNotifier()
	notifier.failures["blocked"] = ErrRecipientUnavailable
	cfg := testConfig()
	cfg.Workers = 1
	engine := NewEngine(cfg, reg, notifier, nil, nil)

	for _, hash := range []string{"a", "b", "c"} {
		if err := engine.Dispatch(context.Background(), testTx(hash, model.Redeem)); err != nil {
			t.Fatalf("dispatch %s: %v", hash, err)
		}
	}
	closeEngine(t, engine)

	if got := notifier.sentTo()["ok"]; got != 3 {
		t.Fatalf("healthy subscriber must get every message, got %d", got)
	}
	sub, ok := reg.ActiveSubscribers().Get("blocked")
	if !ok || sub.Active {
		t.Fatalf("blocked subscriber should be deactivated: %+v", sub)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if notifier.attempts["blocked"] > 3 {
		t.Fatalf("unavailable recipient must not be retried, attempts=%d", notifier.attempts["blocked"])
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	reg := newRegistry(t, map[string][]string{"flaky": nil})
	notifier := newFakeNotifier()
	notifier.transient["flaky"] = 2
	engine := NewEngine(testConfig(), reg, notifier, nil, nil)

	if err := engine.Dispatch(context.Background(), testTx("a", model.WrapToken)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	closeEngine(t, engine)

	if got := notifier.sentTo()["flaky"]; got != 1 {
		t.Fatalf("expected delivery after retries, got %d", got)
	}
	if sub, _ := reg.ActiveSubscribers().Get("flaky"); !sub.Active {
		t.Fatalf("transient failures must not deactivate")
	}
}

func TestDispatchBlocksWhenQueueIsFull(t *testing.T) {
	reg := newRegistry(t, map[string][]string{"a": nil, "b": nil, "c": nil})
	notifier := newFakeNotifier()
	notifier.release = make(chan struct{})
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	engine := NewEngine(cfg, reg, notifier, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := engine.Dispatch(ctx, testTx("a", model.WrapToken))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected back-pressure, got %v", err)
	}

	close(notifier.release)
	closeEngine(t, engine)
	if got := notifier.sentTo(); got["a"] != 1 || got["b"] != 1 {
		t.Fatalf("queued jobs must be drained: %v", got)
	}
}

func TestDispatchAfterClose(t *testing.T) {
	engine := NewEngine(testConfig(), newRegistry(t, nil), newFakeNotifier(), nil, nil)
	closeEngine(t, engine)
	if err := engine.Dispatch(context.Background(), testTx("a", model.WrapToken)); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestFailingRecipientsDoNotStarveOthers(t *testing.T) {
	reg := newRegistry(t, map[string][]string{"a-bad": nil, "a-bad2": nil, "b-good": nil})
	notifier := newFakeNotifier()
	notifier.failures["a-bad"] = errors.New("connection reset")
	notifier.failures["a-bad2"] = errors.New("connection reset")
	cfg := testConfig()
	cfg.Workers = 1
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = 20 * time.Millisecond
	engine := NewEngine(cfg, reg, notifier, nil, nil)

	for _, hash := range []string{"a", "b", "c"} {
		if err := engine.Dispatch(context.Background(), testTx(hash, model.WrapToken)); err != nil {
			t.Fatalf("dispatch %s: %v", hash, err)
		}
	}
	closeEngine(t, engine)

	if got := notifier.sentTo()["b-good"]; got != 3 {
		t.Fatalf("healthy subscriber got %d of 3 notifications", got)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	for _, id := range []string{"a-bad", "a-bad2"} {
		if n := notifier.attempts[id]; n == 0 || n > 3*(cfg.SendRetries+1) {
			t.Fatalf("%s: unexpected attempt count %d", id, n)
		}
	}
	for _, id := range []string{"a-bad", "a-bad2"} {
		if sub, _ := reg.ActiveSubscribers().Get(id); !sub.Active {
			t.Fatalf("%s: transient failures must not deactivate", id)
		}
	}
}

func TestRateLimitedJobIsHeldNotDropped(t *testing.T) {
	reg := newRegistry(t, map[string][]string{"busy": nil, "idle": nil})
	notifier := newFakeNotifier()
	notifier.limited["busy"] = 6
	cfg := testConfig()
	cfg.Workers = 1
	cfg.SendRetries = 1
	engine := NewEngine(cfg, reg, notifier, nil, nil)

	if err := engine.Dispatch(context.Background(), testTx("a", model.Redeem)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	closeEngine(t, engine)

	got := notifier.sentTo()
	if got["busy"] != 1 || got["idle"] != 1 {
		t.Fatalf("rate limited job must eventually be delivered: %v", got)
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if n := notifier.attempts["busy"]; n != 7 {
		t.Fatalf("expected 6 throttled attempts and one success, got %d", n)
	}
}
