package statemachine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/store"
)

// legacyRecord is the first persisted layout: no version field, snake_case
// kinds, and an "unreachable" kind that no code path produces any more.
type legacyRecord struct {
	Version     *int               `json:"version"`
	Kind        string             `json:"kind"`
	Amount      domain.Amount      `json:"amount"`
	TxID        domain.TxID        `json:"txid"`
	OperationID domain.OperationID `json:"operation_id"`
}

var legacyKinds = map[string]Kind{
	"input":       KindInput,
	"output":      KindOutput,
	"output_done": KindOutputDone,
	"refund":      KindRefund,
}

// MigrateStatesV1 rewrites legacy active leg records in place. Records of
// obsolete or terminal kinds have nothing left to await and are dropped.
func MigrateStatesV1(ctx context.Context, tx store.Tx) error {
	entries, err := tx.Scan(ctx, activePrefix)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		var legacy legacyRecord
		if err := json.Unmarshal(entry.Value, &legacy); err != nil {
			return fmt.Errorf("migrate leg state %s: %w", entry.Key, err)
		}
		if legacy.Version != nil {
			continue
		}
		kind, ok := legacyKinds[legacy.Kind]
		if !ok || kind.Terminal() {
			if err := tx.Delete(ctx, entry.Key); err != nil {
				return err
			}
			continue
		}
		state := LegState{Kind: kind, Amount: legacy.Amount, TxID: legacy.TxID, OperationID: legacy.OperationID}
		raw, err := encodeState(state)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, entry.Key); err != nil {
			return err
		}
		if err := tx.Put(ctx, activeKey(state), raw); err != nil {
			return err
		}
	}
	return nil
}
