package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/store"
)

const (
	balancePrefix = "balance/"
	txPrefix      = "tx/"
)

type journalEntry struct {
	Tx      domain.Transaction     `json:"tx"`
	Decided bool                   `json:"decided"`
	Outcome TxOutcome              `json:"outcome"`
	Outputs []domain.OutputOutcome `json:"outputs,omitempty"`
}

func (s *Simulator) journalSubmitted(ctx context.Context, txid domain.TxID, tx domain.Transaction) error {
	if s.cfg.State == nil {
		return nil
	}
	return s.journal(ctx, func(stx store.Tx) error {
		return putEntry(ctx, stx, txid, journalEntry{Tx: tx})
	})
}

// journalDecided records the outcome and the touched balances in one store
// transaction.
func (s *Simulator) journalDecided(ctx context.Context, txid domain.TxID, tx domain.Transaction, outcome TxOutcome, outputs []domain.OutputOutcome, balances map[domain.PublicKey]domain.Amount) error {
	if s.cfg.State == nil {
		return nil
	}
	return s.journal(ctx, func(stx store.Tx) error {
		for account, amount := range balances {
			if err := stx.Put(ctx, balancePrefix+account.String(), amount.Bytes()); err != nil {
				return err
			}
		}
		return putEntry(ctx, stx, txid, journalEntry{Tx: tx, Decided: true, Outcome: outcome, Outputs: outputs})
	})
}

func (s *Simulator) journal(ctx context.Context, fn func(store.Tx) error) error {
	stx, err := s.cfg.State.Begin(ctx)
	if err != nil {
		return err
	}
	defer stx.Rollback(ctx) // nolint:errcheck
	if err := fn(stx); err != nil {
		return err
	}
	return stx.Commit(ctx)
}

func putEntry(ctx context.Context, stx store.Tx, txid domain.TxID, entry journalEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return stx.Put(ctx, txPrefix+txid.String(), raw)
}

// Restore loads journaled balances and transactions. Decided transactions
// answer awaits immediately; submitted but undecided ones are decided again.
// It returns the number of transactions relaunched and must be called before
// the simulator serves requests.
func (s *Simulator) Restore(ctx context.Context) (int, error) {
	if s.cfg.State == nil {
		return 0, nil
	}
	balances, entries, err := s.load(ctx)
	if err != nil {
		return 0, err
	}

	var pending []journalEntry
	s.mu.Lock()
	for account, amount := range balances {
		s.balances[account] = amount
	}
	for txid, entry := range entries {
		rec := s.recordLocked(txid)
		rec.submitted = true
		if !entry.Decided {
			pending = append(pending, entry)
			continue
		}
		if !isClosed(rec.decided) {
			rec.outcome = entry.Outcome
			rec.outputs = entry.Outputs
			close(rec.decided)
		}
	}
	s.mu.Unlock()

	for _, entry := range pending {
		s.launch(entry.Tx.ID(), entry.Tx)
	}
	s.logger.Info("federation_state_restored",
		slog.Int("accounts", len(balances)),
		slog.Int("transactions", len(entries)),
		slog.Int("pending", len(pending)),
	)
	return len(pending), nil
}

func (s *Simulator) load(ctx context.Context) (map[domain.PublicKey]domain.Amount, map[domain.TxID]journalEntry, error) {
	stx, err := s.cfg.State.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer stx.Rollback(ctx) // nolint:errcheck

	rows, err := stx.Scan(ctx, balancePrefix)
	if err != nil {
		return nil, nil, err
	}
	balances := make(map[domain.PublicKey]domain.Amount, len(rows))
	for _, row := range rows {
		account, err := domain.ParsePublicKey(strings.TrimPrefix(row.Key, balancePrefix))
		if err != nil {
			return nil, nil, fmt.Errorf("balance key %q: %w", row.Key, err)
		}
		amount, err := domain.AmountFromBytes(row.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("balance %q: %w", row.Key, err)
		}
		balances[account] = amount
	}

	rows, err = stx.Scan(ctx, txPrefix)
	if err != nil {
		return nil, nil, err
	}
	entries := make(map[domain.TxID]journalEntry, len(rows))
	for _, row := range rows {
		var entry journalEntry
		if err := json.Unmarshal(row.Value, &entry); err != nil {
			return nil, nil, fmt.Errorf("transaction %q: %w", row.Key, err)
		}
		entries[entry.Tx.ID()] = entry
	}
	return balances, entries, nil
}
