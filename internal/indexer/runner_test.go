package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"bridgewatch/internal/codec"
	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
)

const (
	testBridge = "z1qxemdeddedxdrydgexxxxxxxxxxxxxxxmqgr0d"
	testUser   = "z1qqjnwjjpnue8xmmpanz6csze6tcmtzzdtfsww7"
	testZNN    = "zts1znnxxxxxxxxxxxxx9z4ulx"
)

var testNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu     sync.Mutex
	hashes []string
}

func (d *recordingDispatcher) Dispatch(_ context.Context, tx model.Transaction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hashes = append(d.hashes, tx.Hash)
	return nil
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.hashes))
	copy(out, d.hashes)
	return out
}

type flakyStore struct {
	*storage.MemoryStore
	failures int
	calls    int
}

func (s *flakyStore) Record(ctx context.Context, tx model.Transaction) (storage.Outcome, error) {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return 0, &storage.Error{Op: "record", Err: errors.New("connection reset")}
	}
	return s.MemoryStore.Record(ctx, tx)
}

func testDecoder(t *testing.T) *codec.Decoder {
	t.Helper()
	decoder, err := codec.NewDecoder(codec.DecoderConfig{Zenon: model.ChainRef{NetworkClass: 1, ChainID: 1}})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	return decoder
}

func blockHash(n uint64) string {
	return fmt.Sprintf("%064x", n)
}

func wrapData(t *testing.T) []byte {
	t.Helper()
	data, err := codec.EncodeCall("WrapToken", uint32(2), uint32(1), "0x5aD1f5F34a5b2B1f53B3b2fD6b1F7a9cD3B3c1A0")
	if err != nil {
		t.Fatalf("pack wrap: %v", err)
	}
	return data
}

func wrapEvent(t *testing.T, n uint64) model.RawEvent {
	return model.RawEvent{
		Hash:          blockHash(n),
		Anchor:        n,
		Address:       testUser,
		ToAddress:     testBridge,
		TokenStandard: testZNN,
		Amount:        "100000000",
		Data:          wrapData(t),
	}
}

func newTestRunner(t *testing.T, store storage.EventStore, dispatcher Dispatcher) *Runner {
	t.Helper()
	return NewRunner(RunConfig{MaxRetries: 3, RetryBackoff: time.Millisecond}, testDecoder(t), store, dispatcher, clock.NewTestClock(testNow), nil)
}

func TestRunnerDedupDispatchesOnce(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	dispatcher := &recordingDispatcher{}
	runner := newTestRunner(t, store, dispatcher)
	ctx := context.Background()

	event := wrapEvent(t, 1)
	for i := 0; i < 3; i++ {
		if err := runner.HandleEvent(ctx, event); err != nil {
			t.Fatalf("handle %d: %v", i, err)
		}
	}

	if got := dispatcher.dispatched(); len(got) != 1 || got[0] != event.Hash {
		t.Fatalf("expected exactly one dispatch, got %v", got)
	}
	tx, ok := store.Transaction(event.Hash)
	if !ok {
		t.Fatalf("transaction not stored")
	}
	if !tx.Timestamp.Equal(testNow) {
		t.Fatalf("missing momentum timestamp must be stamped with clock: %v", tx.Timestamp)
	}
}

func TestRunnerDropsSkipAndMalformed(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	dispatcher := &recordingDispatcher{}
	runner := newTestRunner(t, store, dispatcher)
	ctx := context.Background()

	skip := wrapEvent(t, 1)
	skip.Data = []byte("plain transfer")
	malformed := wrapEvent(t, 2)
	malformed.Data = malformed.Data[:20]

	for _, event := range []model.RawEvent{skip, malformed} {
		if err := runner.HandleEvent(ctx, event); err != nil {
			t.Fatalf("handle %s: %v", event.Hash, err)
		}
	}
	if store.Len() != 0 || len(dispatcher.dispatched()) != 0 {
		t.Fatalf("skip and malformed events must not be stored or dispatched")
	}
}

func TestRunnerRetriesStorageErrors(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(nil), failures: 2}
	dispatcher := &recordingDispatcher{}
	runner := newTestRunner(t, store, dispatcher)

	if err := runner.HandleEvent(context.Background(), wrapEvent(t, 1)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if store.calls != 3 || len(dispatcher.dispatched()) != 1 {
		t.Fatalf("expected success on third attempt, calls=%d dispatched=%v", store.calls, dispatcher.dispatched())
	}
}

func TestRunnerStorageErrorIsNotDuplicate(t *testing.T) {
	store := &flakyStore{MemoryStore: storage.NewMemoryStore(nil), failures: 10}
	dispatcher := &recordingDispatcher{}
	runner := newTestRunner(t, store, dispatcher)

	err := runner.HandleEvent(context.Background(), wrapEvent(t, 1))
	if !storage.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if len(dispatcher.dispatched()) != 0 {
		t.Fatalf("failed record must not dispatch")
	}

	store.failures = 0
	if err := runner.HandleEvent(context.Background(), wrapEvent(t, 1)); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(dispatcher.dispatched()) != 1 {
		t.Fatalf("replayed event must dispatch once recorded")
	}
}

func TestParseBridgeAddress(t *testing.T) {
	got, err := ParseBridgeAddress("  " + strings.ToUpper(testBridge) + " ")
	if err != nil || got != testBridge {
		t.Fatalf("parse bridge: %s %v", got, err)
	}
	if _, err := ParseBridgeAddress("0x1111111111111111111111111111111111111111"); err == nil {
		t.Fatalf("expected error for non-zenon address")
	}
	if _, err := ParseBridgeAddress(""); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestParseSelectorMap(t *testing.T) {
	got, err := ParseSelectorMap(map[string]string{"CAFEBABE": " Redeem "})
	if err != nil {
		t.Fatalf("parse selector map: %v", err)
	}
	if got["0xcafebabe"] != "Redeem" {
		t.Fatalf("unexpected map: %v", got)
	}
	if _, err := ParseSelectorMap(map[string]string{"0xcafe": "Redeem"}); err == nil {
		t.Fatalf("expected error for short selector")
	}
}
