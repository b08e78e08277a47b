package stream

import (
	"time"

	"github.com/google/uuid"
)

// State is a connection manager state.
type State int

const (
	Disconnected State = iota
	Backoff
	Connecting
	Subscribed
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Backoff:
		return "backoff"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Streaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// ConnectionState is owned by the manager's run loop. The session id changes
// on every connection; confirmed heights survive reconnects and anchor gap recovery.
type ConnectionState struct {
	Session       string
	LastConfirmed map[string]uint64
	Attempts      int
}

func newConnectionState() *ConnectionState {
	return &ConnectionState{LastConfirmed: make(map[string]uint64)}
}

func (c *ConnectionState) newSession() string {
	c.Session = uuid.NewString()
	return c.Session
}

// confirm records height for account and reports whether it advanced.
func (c *ConnectionState) confirm(account string, height uint64) bool {
	if height <= c.LastConfirmed[account] {
		return false
	}
	c.LastConfirmed[account] = height
	return true
}

// Status is a point-in-time view of the manager for status reporting.
type Status struct {
	State         State     `json:"-"`
	StateName     string    `json:"state"`
	Offline       bool      `json:"offline"`
	Session       string    `json:"session,omitempty"`
	Attempts      int       `json:"reconnect_attempts"`
	LastConfirmed uint64    `json:"last_confirmed_height"`
	Since         time.Time `json:"since"`
}
