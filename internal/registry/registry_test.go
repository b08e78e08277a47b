package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
)

type failingStore struct {
	*storage.MemoryStore
	fail bool
}

func (s *failingStore) SaveSubscriber(ctx context.Context, sub model.StoredSubscriber) error {
	if s.fail {
		return &storage.Error{Op: "save subscriber", Err: errors.New("disk full")}
	}
	return s.MemoryStore.SaveSubscriber(ctx, sub)
}

func storedFilters(t *testing.T, store storage.SubscriberStore, id string) []string {
	t.Helper()
	rows, err := store.LoadSubscribers(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, row := range rows {
		if row.ID == id {
			return row.Filters
		}
	}
	t.Fatalf("subscriber %s not stored", id)
	return nil
}

func TestPurgeRetiredFilterTypes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(nil)
	seed := []model.StoredSubscriber{
		{ID: "100", Active: true, Filters: []string{"WrapToken", "Transfer"}},
		{ID: "200", Active: true, Filters: []string{"UpdateWrapRequest"}},
		{ID: "300", Active: false, Filters: []string{"Redeem"}},
	}
	for _, row := range seed {
		if err := store.SaveSubscriber(ctx, row); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	reg := New(store, nil)
	purged, err := reg.PurgeInvalidFilters(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged entries, got %d", purged)
	}

	snap := reg.ActiveSubscribers()
	if snap.Len() != 2 {
		t.Fatalf("purge must keep subscriptions active, got %d", snap.Len())
	}
	first, _ := snap.Get("100")
	if first.Filter.Cardinality() != 1 || !first.Filter.Contains(model.WrapToken) {
		t.Fatalf("unexpected filter for 100: %v", first.FilterNames())
	}
	second, _ := snap.Get("200")
	if !second.Active || second.Filter.Cardinality() != 0 || !second.Accepts(model.Redeem) {
		t.Fatalf("emptied filter must mean every type: %+v", second)
	}
	if got := storedFilters(t, store, "100"); len(got) != 1 || got[0] != "WrapToken" {
		t.Fatalf("cleaned filter not persisted: %v", got)
	}

	again, err := reg.PurgeInvalidFilters(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second purge should be a no-op: %d %v", again, err)
	}
}

func TestSubscribeLifecycle(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore(nil)
	reg := New(store, nil)
	if err := reg.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := reg.Subscribe(ctx, "42"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	filter, err := ParseFilter([]string{"unwraptoken", "REDEEM"})
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	if err := reg.SetFilter(ctx, "42", filter); err != nil {
		t.Fatalf("set filter: %v", err)
	}

	before := reg.ActiveSubscribers()
	if err := reg.Unsubscribe(ctx, "42"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if before.Len() != 1 {
		t.Fatalf("published snapshot must not change")
	}
	if reg.ActiveCount() != 0 {
		t.Fatalf("expected no active subscribers")
	}

	sub, err := reg.Subscribe(ctx, "42")
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	if !sub.Active || sub.Filter.Cardinality() != 2 || sub.Accepts(model.WrapToken) {
		t.Fatalf("resubscribe should keep the filter: %+v", sub.FilterNames())
	}

	reloaded := New(store, nil)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	got, ok := reloaded.ActiveSubscribers().Get("42")
	if !ok || !got.Active || got.Filter.Cardinality() != 2 {
		t.Fatalf("state not persisted: %+v", got)
	}

	if err := reg.SetFilter(ctx, "missing", filter); !errors.Is(err, ErrUnknownSubscriber) {
		t.Fatalf("expected unknown subscriber, got %v", err)
	}
}

func TestMutationNotPublishedOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{MemoryStore: storage.NewMemoryStore(nil)}
	reg := New(store, nil)
	if _, err := reg.Subscribe(ctx, "1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	store.fail = true
	if err := reg.Deactivate(ctx, "1", "blocked"); !storage.IsStorageError(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if reg.ActiveCount() != 1 {
		t.Fatalf("failed write must not be published")
	}
}

func TestMatchingHonoursFilters(t *testing.T) {
	ctx := context.Background()
	reg := New(storage.NewMemoryStore(nil), nil)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := reg.Subscribe(ctx, id); err != nil {
			t.Fatalf("subscribe %s: %v", id, err)
		}
	}
	wrapOnly, _ := ParseFilter([]string{"WrapToken"})
	if err := reg.SetFilter(ctx, "b", wrapOnly); err != nil {
		t.Fatalf("set filter: %v", err)
	}
	if err := reg.Unsubscribe(ctx, "c"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	snap := reg.ActiveSubscribers()
	ids := func(subs []model.Subscriber) []string {
		out := make([]string, len(subs))
		for i, sub := range subs {
			out[i] = sub.ID
		}
		return out
	}
	if got := ids(snap.Matching(model.WrapToken)); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("wrap recipients: %v", got)
	}
	if got := ids(snap.Matching(model.Redeem)); len(got) != 1 || got[0] != "a" {
		t.Fatalf("redeem recipients: %v", got)
	}
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	ctx := context.Background()
	reg := New(storage.NewMemoryStore(nil), nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := reg.Subscribe(ctx, "s"); err != nil {
				t.Errorf("subscribe: %v", err)
				return
			}
			if err := reg.Unsubscribe(ctx, "s"); err != nil {
				t.Errorf("unsubscribe: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			snap := reg.ActiveSubscribers()
			if snap.Len() != len(snap.Matching(model.WrapToken)) {
				t.Errorf("torn snapshot")
				return
			}
		}
	}()
	wg.Wait()
}

func TestParseFilter(t *testing.T) {
	all, err := ParseFilter([]string{"ALL"})
	if err != nil || all.Cardinality() != 0 {
		t.Fatalf("all should clear the filter: %v %v", all, err)
	}
	set, err := ParseFilter([]string{"wraptoken,redeem"})
	if err != nil || set.Cardinality() != 2 {
		t.Fatalf("comma separated: %v %v", set, err)
	}
	for _, bad := range [][]string{{"Transfer"}, {}, {"all", "Redeem"}} {
		if _, err := ParseFilter(bad); err == nil {
			t.Fatalf("expected error for %v", bad)
		}
	}
}
