package model

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Subscriber is a notification target. An empty filter means every type.
type Subscriber struct {
	ID     string
	Active bool
	Filter mapset.Set[TxType]
}

// NewFilter builds a filter set from the given types.
func NewFilter(types ...TxType) mapset.Set[TxType] {
	return mapset.NewThreadUnsafeSet(types...)
}

// Accepts reports whether the subscriber wants transactions of type t.
func (s Subscriber) Accepts(t TxType) bool {
	if s.Filter == nil || s.Filter.Cardinality() == 0 {
		return true
	}
	return s.Filter.Contains(t)
}

// FilterNames returns the filter entries sorted by name, suitable for storage.
func (s Subscriber) FilterNames() []string {
	if s.Filter == nil {
		return []string{}
	}
	names := make([]string, 0, s.Filter.Cardinality())
	s.Filter.Each(func(t TxType) bool {
		names = append(names, string(t))
		return false
	})
	sort.Strings(names)
	return names
}

// Clone returns a copy whose filter can be mutated independently.
func (s Subscriber) Clone() Subscriber {
	out := s
	if s.Filter != nil {
		out.Filter = s.Filter.Clone()
	} else {
		out.Filter = NewFilter()
	}
	return out
}

// StoredSubscriber is a subscriber row as persisted. Filters are free-form text
// until the registry validates them.
type StoredSubscriber struct {
	ID      string
	Active  bool
	Filters []string
}
