package dispatch

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRecipientUnavailable means the channel refused delivery to this
	// recipient (blocked bot, removed chat). It is not retried.
	ErrRecipientUnavailable = errors.New("recipient unavailable")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatch engine closed")
)

// RateLimitedError is a transient refusal carrying the server's retry hint.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}
