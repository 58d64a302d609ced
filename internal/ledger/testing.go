package ledger

import (
	"context"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/store"
)

// SeedFunds is a test helper that overwrites the stored balance.
func SeedFunds(ctx context.Context, db store.Database, amount domain.Amount) error {
	return NewStore(db).Credit(ctx, amount)
}

// SeedFundsV0 writes a balance where schema version 0 kept it. Used by
// migration tests.
func SeedFundsV0(ctx context.Context, db store.Database, amount domain.Amount) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck
	if err := tx.Put(ctx, fundsKeyV0, amount.Bytes()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
