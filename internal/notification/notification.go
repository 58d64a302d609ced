package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	// KindBalanceChanged is sent after the wallet balance may have moved.
	KindBalanceChanged = "balance_changed"
)

// Message describes a notification payload.
type Message struct {
	Kind    string    `json:"kind"`
	Account string    `json:"account"`
	Balance uint64    `json:"balance"`
	At      time.Time `json:"at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("account", message.Account),
		slog.Uint64("balance", message.Balance),
	)
	return nil
}
