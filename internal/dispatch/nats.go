package dispatch

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is the subject notifications are published on.
const DefaultNATSSubject = "bridgewatch.notifications"

const natsFlushTimeout = 5 * time.Second

// NATSNotifier publishes messages for an external chat worker to deliver.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

// NATSMessage is the payload published per notification.
type NATSMessage struct {
	Subscriber string `json:"subscriber"`
	Text       string `json:"text"`
}

func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	conn, err := nats.Connect(url, nats.Name("bridgewatch"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSNotifier{conn: conn, subject: subject}, nil
}

func (n *NATSNotifier) Send(ctx context.Context, subscriberID, text string) error {
	data, err := json.Marshal(NATSMessage{Subscriber: subscriberID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, natsFlushTimeout)
		defer cancel()
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (n *NATSNotifier) Close() error {
	return n.conn.Drain()
}
