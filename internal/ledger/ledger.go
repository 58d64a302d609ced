// Package ledger is the wallet's balance store: the locally known, settled
// funds of the module's own account plus its diagnostic metadata.
//
// The package-level functions operate inside a caller's store transaction so
// balance changes commit atomically with whatever triggered them. Store wraps
// them for callers that need a single self-contained change.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/store"
)

var (
	// ErrInsufficientFunds occurs when the account lacks the balance to cover
	// a reservation. The stored balance is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

const (
	// FundsKey holds the settled balance as 8 big-endian bytes.
	FundsKey = "client_funds/v1"
	// NameKey holds the optional display name.
	NameKey = "client_name"

	// fundsKeyV0 is where schema version 0 kept the balance.
	fundsKeyV0 = "client_funds/v0"
)

// Funds returns the stored balance, or zero if none was ever written.
func Funds(ctx context.Context, tx store.Tx) (domain.Amount, error) {
	raw, ok, err := tx.Get(ctx, FundsKey)
	if err != nil {
		return 0, fmt.Errorf("read funds: %w", err)
	}
	if !ok {
		return domain.ZeroAmount, nil
	}
	return domain.AmountFromBytes(raw)
}

// Reserve deducts delta from the balance if it is covered and returns the new
// balance.
func Reserve(ctx context.Context, tx store.Tx, delta domain.Amount) (domain.Amount, error) {
	current, err := Funds(ctx, tx)
	if err != nil {
		return 0, err
	}
	updated, ok := current.Sub(delta)
	if !ok {
		return current, ErrInsufficientFunds
	}
	if err := tx.Put(ctx, FundsKey, updated.Bytes()); err != nil {
		return 0, fmt.Errorf("write funds: %w", err)
	}
	return updated, nil
}

// Credit overwrites the balance with a federation-confirmed value. Writing the
// same value twice leaves the store in the same state.
func Credit(ctx context.Context, tx store.Tx, newBalance domain.Amount) error {
	if err := tx.Put(ctx, FundsKey, newBalance.Bytes()); err != nil {
		return fmt.Errorf("write funds: %w", err)
	}
	return nil
}

// Deposit adds delta to the balance and returns the new balance.
func Deposit(ctx context.Context, tx store.Tx, delta domain.Amount) (domain.Amount, error) {
	current, err := Funds(ctx, tx)
	if err != nil {
		return 0, err
	}
	updated, ok := current.Add(delta)
	if !ok {
		return current, domain.ErrAmountOverflow
	}
	if err := tx.Put(ctx, FundsKey, updated.Bytes()); err != nil {
		return 0, fmt.Errorf("write funds: %w", err)
	}
	return updated, nil
}

// MigrateToV1 relocates the version 0 balance record to FundsKey.
func MigrateToV1(ctx context.Context, tx store.Tx) error {
	raw, ok, err := tx.Get(ctx, fundsKeyV0)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if _, err := domain.AmountFromBytes(raw); err != nil {
		return fmt.Errorf("decode v0 funds: %w", err)
	}
	if err := tx.Delete(ctx, fundsKeyV0); err != nil {
		return err
	}
	return tx.Put(ctx, FundsKey, raw)
}

// Store runs balance operations in their own transactions.
type Store struct {
	db store.Database
}

// NewStore builds a balance store over db.
func NewStore(db store.Database) *Store {
	return &Store{db: db}
}

// Balance returns the settled balance.
func (s *Store) Balance(ctx context.Context) (domain.Amount, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck
	return Funds(ctx, tx)
}

// Reserve atomically deducts delta and commits.
func (s *Store) Reserve(ctx context.Context, delta domain.Amount) (domain.Amount, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	updated, err := Reserve(ctx, tx, delta)
	if err != nil {
		return updated, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return updated, nil
}

// Credit atomically overwrites the balance and commits.
func (s *Store) Credit(ctx context.Context, newBalance domain.Amount) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := Credit(ctx, tx, newBalance); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetName stores the display name.
func (s *Store) SetName(ctx context.Context, name string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := tx.Put(ctx, NameKey, []byte(name)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Name returns the display name and whether one was set.
func (s *Store) Name(ctx context.Context) (string, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", false, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	raw, ok, err := tx.Get(ctx, NameKey)
	if err != nil || !ok {
		return "", false, err
	}
	return string(raw), true, nil
}

// Dump returns a labelled snapshot for diagnostics; see the package-level Dump.
func (s *Store) Dump(ctx context.Context, tables []string) ([]DumpItem, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck
	return Dump(ctx, tx, tables)
}
