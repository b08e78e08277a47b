package dispatch

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers one message to one subscriber.
type Notifier interface {
	Send(ctx context.Context, subscriberID, text string) error
}

// LogNotifier only logs messages. It is used for dry runs.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(_ context.Context, subscriberID, text string) error {
	n.logger.Info("notification", zap.String("subscriber", subscriberID), zap.String("text", text))
	return nil
}
