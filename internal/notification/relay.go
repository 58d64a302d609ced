package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/congo-pay/fedwallet/internal/domain"
)

// BalanceSource is the part of the wallet the relay watches.
type BalanceSource interface {
	Account() domain.PublicKey
	Balance(ctx context.Context) (domain.Amount, error)
	SubscribeBalanceChanges(ctx context.Context) <-chan struct{}
}

// Relay turns balance-change signals into notifications.
type Relay struct {
	source   BalanceSource
	notifier Notifier
	logger   *slog.Logger
}

func NewRelay(source BalanceSource, notifier Notifier, logger *slog.Logger) *Relay {
	return &Relay{source: source, notifier: notifier, logger: logger.With(slog.String("component", "balance_relay"))}
}

// Run forwards one message per signal until ctx is done. Failed reads and
// sends are logged and skipped.
func (r *Relay) Run(ctx context.Context) error {
	signals := r.source.SubscribeBalanceChanges(ctx)
	account := r.source.Account().String()
	for range signals {
		balance, err := r.source.Balance(ctx)
		if err != nil {
			r.logger.Error("balance_read_failed", slog.Any("err", err))
			continue
		}
		msg := Message{
			Kind:    KindBalanceChanged,
			Account: account,
			Balance: uint64(balance),
			At:      time.Now().UTC(),
		}
		if err := r.notifier.Send(ctx, msg); err != nil {
			r.logger.Error("balance_notification_failed", slog.Any("err", err))
		}
	}
	return ctx.Err()
}
