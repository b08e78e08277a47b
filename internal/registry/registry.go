// Package registry owns the subscriber set. Reads go through immutable
// snapshots; writes are serialized and persisted before they are published.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"bridgewatch/internal/metrics"
	"bridgewatch/internal/model"
	"bridgewatch/internal/storage"
)

// ErrUnknownSubscriber is returned by mutations on an id that was never subscribed.
var ErrUnknownSubscriber = errors.New("unknown subscriber")

// Snapshot is a point-in-time view of the subscriber set. It must not be mutated.
type Snapshot struct {
	byID   map[string]model.Subscriber
	active []model.Subscriber
}

// Active returns the active subscribers ordered by id.
func (s *Snapshot) Active() []model.Subscriber {
	return s.active
}

// Len returns the number of active subscribers.
func (s *Snapshot) Len() int {
	return len(s.active)
}

// Get returns the subscriber with the given id, active or not.
func (s *Snapshot) Get(id string) (model.Subscriber, bool) {
	sub, ok := s.byID[id]
	return sub, ok
}

// Matching returns the active subscribers whose filter accepts t.
func (s *Snapshot) Matching(t model.TxType) []model.Subscriber {
	var out []model.Subscriber
	for _, sub := range s.active {
		if sub.Accepts(t) {
			out = append(out, sub)
		}
	}
	return out
}

func newSnapshot(byID map[string]model.Subscriber) *Snapshot {
	snap := &Snapshot{byID: byID}
	for _, sub := range byID {
		if sub.Active {
			snap.active = append(snap.active, sub)
		}
	}
	sort.Slice(snap.active, func(i, j int) bool { return snap.active[i].ID < snap.active[j].ID })
	return snap
}

// Registry is the single writer of subscriber rows.
type Registry struct {
	store  storage.SubscriberStore
	logger *zap.Logger

	mu       sync.Mutex
	snapshot atomic.Pointer[Snapshot]
}

func New(store storage.SubscriberStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{store: store, logger: logger}
	r.snapshot.Store(newSnapshot(map[string]model.Subscriber{}))
	return r
}

// Load reads every subscriber from the store, purging unknown filter entries.
func (r *Registry) Load(ctx context.Context) error {
	_, err := r.PurgeInvalidFilters(ctx)
	return err
}

// PurgeInvalidFilters reloads the subscriber set and removes filter entries
// that are not in the current type enumeration. Cleaned rows are written back.
// It returns the number of entries removed and is safe to run repeatedly.
func (r *Registry) PurgeInvalidFilters(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.store.LoadSubscribers(ctx)
	if err != nil {
		return 0, fmt.Errorf("load subscribers: %w", err)
	}

	purged := 0
	byID := make(map[string]model.Subscriber, len(rows))
	for _, row := range rows {
		sub, invalid := fromStored(row)
		if len(invalid) > 0 {
			purged += len(invalid)
			metrics.FilterEntriesPurged.Add(float64(len(invalid)))
			r.logger.Info("purged subscriber filter entries",
				zap.String("subscriber", row.ID),
				zap.Strings("removed", invalid),
				zap.Strings("kept", sub.FilterNames()),
			)
			if err := r.store.SaveSubscriber(ctx, toStored(sub)); err != nil {
				return purged, fmt.Errorf("save subscriber %s: %w", sub.ID, err)
			}
		}
		byID[sub.ID] = sub
	}

	r.snapshot.Store(newSnapshot(byID))
	r.logger.Info("subscribers loaded", zap.Int("total", len(byID)), zap.Int("purged_entries", purged))
	return purged, nil
}

// ActiveSubscribers returns the current snapshot.
func (r *Registry) ActiveSubscribers() *Snapshot {
	return r.snapshot.Load()
}

// ActiveCount returns the number of active subscribers.
func (r *Registry) ActiveCount() int {
	return r.snapshot.Load().Len()
}

// Subscribe activates id, creating it with an empty filter if needed. An
// existing filter is kept.
func (r *Registry) Subscribe(ctx context.Context, id string) (model.Subscriber, error) {
	var out model.Subscriber
	err := r.mutate(ctx, id, true, func(sub *model.Subscriber) {
		sub.Active = true
		out = *sub
	})
	return out, err
}

// Unsubscribe marks id inactive. The row is kept.
func (r *Registry) Unsubscribe(ctx context.Context, id string) error {
	return r.mutate(ctx, id, false, func(sub *model.Subscriber) {
		sub.Active = false
	})
}

// SetFilter replaces the filter of id. An empty set means every type.
func (r *Registry) SetFilter(ctx context.Context, id string, filter Filter) error {
	next := model.NewFilter()
	if filter != nil {
		next = model.NewFilter(filter.ToSlice()...)
	}
	return r.mutate(ctx, id, false, func(sub *model.Subscriber) {
		sub.Filter = next
	})
}

// Deactivate marks id inactive after delivery to it kept failing.
func (r *Registry) Deactivate(ctx context.Context, id, reason string) error {
	err := r.mutate(ctx, id, false, func(sub *model.Subscriber) {
		sub.Active = false
	})
	if err != nil {
		return err
	}
	metrics.SubscribersDeactivated.Inc()
	r.logger.Warn("subscriber deactivated", zap.String("subscriber", id), zap.String("reason", reason))
	return nil
}

func (r *Registry) mutate(ctx context.Context, id string, create bool, fn func(sub *model.Subscriber)) error {
	if id == "" {
		return fmt.Errorf("subscriber id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.snapshot.Load()
	sub, ok := current.byID[id]
	if !ok {
		if !create {
			return fmt.Errorf("%w: %s", ErrUnknownSubscriber, id)
		}
		sub = model.Subscriber{ID: id, Filter: model.NewFilter()}
	}
	sub = sub.Clone()
	fn(&sub)

	if err := r.store.SaveSubscriber(ctx, toStored(sub)); err != nil {
		return fmt.Errorf("save subscriber %s: %w", id, err)
	}

	next := make(map[string]model.Subscriber, len(current.byID)+1)
	for key, value := range current.byID {
		next[key] = value
	}
	next[id] = sub
	r.snapshot.Store(newSnapshot(next))
	return nil
}

func fromStored(row model.StoredSubscriber) (model.Subscriber, []string) {
	filter := model.NewFilter()
	var invalid []string
	for _, name := range row.Filters {
		t := model.TxType(name)
		if !t.Valid() {
			invalid = append(invalid, name)
			continue
		}
		filter.Add(t)
	}
	return model.Subscriber{ID: row.ID, Active: row.Active, Filter: filter}, invalid
}

func toStored(sub model.Subscriber) model.StoredSubscriber {
	return model.StoredSubscriber{ID: sub.ID, Active: sub.Active, Filters: sub.FilterNames()}
}
