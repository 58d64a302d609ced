package wallet

import (
	"context"
	"errors"
	"log/slog"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/store"
	"github.com/congo-pay/fedwallet/internal/txn"
)

// PrintUsingAccount spends amount from the account of kp into this module.
// It returns once the federation settled the change output. The amount must
// exceed the input fee.
func (m *Module) PrintUsingAccount(ctx context.Context, amount domain.Amount, kp domain.Keypair) (domain.OperationID, domain.OutPoint, error) {
	op := domain.NewOperationID()
	if amount == 0 {
		return op, domain.OutPoint{}, ErrInvalidAmount
	}
	if kp.IsZero() {
		return op, domain.OutPoint{}, ErrNoIssuanceKey
	}
	// The balancer would cover the shortfall from this module's own funds.
	if amount <= m.InputFee() {
		return op, domain.OutPoint{}, ErrAmountBelowFee
	}

	builder := txn.NewBuilder().WithInputs(txn.ClientInput{
		Input: domain.Input{Amount: amount, Account: kp.PublicKey()},
		Keys:  []domain.Keypair{kp},
	})
	_, change, err := m.txn.FinalizeAndSubmit(ctx, op, builder)
	if err != nil {
		return op, domain.OutPoint{}, err
	}
	if len(change) == 0 {
		return op, domain.OutPoint{}, errors.New("fees consumed the printed amount")
	}
	if _, err := m.txn.AwaitPrimaryModuleOutputs(ctx, op, change); err != nil {
		return op, domain.OutPoint{}, err
	}

	m.logger.Info("money_printed",
		slog.String("operation_id", op.String()),
		slog.String("outpoint", change[0].String()),
		slog.Uint64("amount", uint64(amount)),
	)
	return op, change[0], nil
}

// PrintMoney prints using the federation's issuance key.
func (m *Module) PrintMoney(ctx context.Context, amount domain.Amount) (domain.OperationID, domain.OutPoint, error) {
	return m.PrintUsingAccount(ctx, amount, m.cfg.FederationKey)
}

// PrintLiability prints using a key the federation does not honor. The
// transaction is built and submitted like any other and the federation is
// expected to reject it.
func (m *Module) PrintLiability(ctx context.Context, amount domain.Amount) (domain.OperationID, domain.OutPoint, error) {
	return m.PrintUsingAccount(ctx, amount, m.cfg.BrokenFederationKey)
}

// SendMoney pays amount to account and waits until the federation accepted
// the transaction. The payment is always output 0.
func (m *Module) SendMoney(ctx context.Context, account domain.PublicKey, amount domain.Amount) (domain.OutPoint, error) {
	if err := store.EnsureIsolated(m.db); err != nil {
		return domain.OutPoint{}, err
	}
	if amount == 0 {
		return domain.OutPoint{}, ErrInvalidAmount
	}

	op := domain.NewOperationID()
	builder := txn.NewBuilder().WithOutputs(txn.ClientOutput{
		Output: domain.Output{Amount: amount, Account: account},
	})
	txid, _, err := m.txn.FinalizeAndSubmit(ctx, op, builder)
	if err != nil {
		return domain.OutPoint{}, err
	}
	if err := m.txn.AwaitTxAccepted(ctx, txid); err != nil {
		return domain.OutPoint{}, err
	}

	outpoint := domain.OutPoint{TxID: txid, OutIdx: 0}
	m.logger.Info("money_sent",
		slog.String("operation_id", op.String()),
		slog.String("outpoint", outpoint.String()),
		slog.String("to", account.String()),
		slog.Uint64("amount", uint64(amount)),
	)
	return outpoint, nil
}

// ReceiveMoney waits for the output at outpoint and, if it pays this
// module's account, adopts the federation's balance for the account.
func (m *Module) ReceiveMoney(ctx context.Context, outpoint domain.OutPoint) (domain.Amount, error) {
	outcome, err := m.fed.AwaitOutputOutcome(ctx, outpoint, m.cfg.ReceiveTimeout)
	if err != nil {
		return 0, err
	}
	if outcome.Account != m.key.PublicKey() {
		return 0, ErrWrongAccount
	}
	if err := m.funds.Credit(ctx, outcome.NewBalance); err != nil {
		return 0, err
	}

	m.logger.Info("money_received",
		slog.String("outpoint", outpoint.String()),
		slog.Uint64("balance", uint64(outcome.NewBalance)),
	)
	return outcome.NewBalance, nil
}
