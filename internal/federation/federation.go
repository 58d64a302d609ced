// Package federation defines what the wallet consumes from the federation:
// transaction submission, transaction outcomes and per-output outcomes.
package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/congo-pay/fedwallet/internal/domain"
)

var (
	// ErrTimeout is returned when a bounded wait for an outcome expires.
	ErrTimeout = errors.New("federation: timed out waiting for outcome")
	// ErrRejected is matched by every *RejectionError.
	ErrRejected = errors.New("federation: transaction rejected")
	// ErrNoSuchOutput is returned for an outpoint index the transaction does not have.
	ErrNoSuchOutput = errors.New("federation: no such output")
)

// RejectionError carries the federation's reason for declining a transaction.
type RejectionError struct {
	TxID   domain.TxID
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("transaction %s rejected: %s", e.TxID, e.Reason)
}

func (e *RejectionError) Unwrap() error { return ErrRejected }

// TxOutcome is the federation's final decision on a transaction.
type TxOutcome struct {
	TxID     domain.TxID `json:"txid"`
	Accepted bool        `json:"accepted"`
	Reason   string      `json:"reason,omitempty"`
}

// Err returns nil for accepted transactions and a *RejectionError otherwise.
func (o TxOutcome) Err() error {
	if o.Accepted {
		return nil
	}
	return &RejectionError{TxID: o.TxID, Reason: o.Reason}
}

// API is the federation as seen by a client.
type API interface {
	// SubmitTransaction hands a signed transaction to the federation. A nil
	// error means it was received, not that it was accepted.
	SubmitTransaction(ctx context.Context, tx domain.Transaction) error
	// AwaitTransaction blocks until the federation decided on txid.
	AwaitTransaction(ctx context.Context, txid domain.TxID) (TxOutcome, error)
	// AwaitOutputOutcome blocks for at most timeout and returns ErrTimeout on
	// expiry.
	AwaitOutputOutcome(ctx context.Context, outpoint domain.OutPoint, timeout time.Duration) (domain.OutputOutcome, error)
}
