// Package storage defines the event and subscriber stores.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bridgewatch/internal/model"
)

// Outcome is the result of recording a transaction.
type Outcome int

const (
	Inserted Outcome = iota + 1
	AlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

const (
	// DefaultWindow is used when a stats window is zero or negative.
	DefaultWindow = 24 * time.Hour
	// MaxWindow bounds stats windows.
	MaxWindow = 30 * 24 * time.Hour
)

// EventStore persists decoded transactions keyed by hash.
type EventStore interface {
	// Record inserts tx unless its hash is already stored. Storage failures
	// return an *Error and never AlreadyPresent.
	Record(ctx context.Context, tx model.Transaction) (Outcome, error)
	// Aggregate returns count and volume per (type, token) over the trailing window.
	Aggregate(ctx context.Context, window time.Duration) (model.Stats, error)
	// Prune deletes transactions older than before and returns how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SubscriberStore persists subscriber rows.
type SubscriberStore interface {
	LoadSubscribers(ctx context.Context) ([]model.StoredSubscriber, error)
	SaveSubscriber(ctx context.Context, sub model.StoredSubscriber) error
}

// ClampWindow bounds a stats window to (0, MaxWindow].
func ClampWindow(window time.Duration) time.Duration {
	if window <= 0 {
		return DefaultWindow
	}
	if window > MaxWindow {
		return MaxWindow
	}
	return window
}

// Error is a persistence failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is a storage Error.
func IsStorageError(err error) bool {
	var storageErr *Error
	return errors.As(err, &storageErr)
}
