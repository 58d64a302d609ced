// Package txn assembles partial transactions from operations, lets the
// primary module balance them, and submits the result to the federation.
package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
	"github.com/congo-pay/fedwallet/internal/statemachine"
	"github.com/congo-pay/fedwallet/internal/store"
)

// ClientInput is an input leg together with its signing key and the state
// machines that track it.
type ClientInput struct {
	Input domain.Input
	Keys  []domain.Keypair
	Seeds []statemachine.Seed
}

// ClientOutput is an output leg with the state machines that track it.
type ClientOutput struct {
	Output domain.Output
	Seeds  []statemachine.Seed
}

// Builder collects the legs an operation contributes.
type Builder struct {
	inputs  []ClientInput
	outputs []ClientOutput
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) WithInputs(inputs ...ClientInput) *Builder {
	b.inputs = append(b.inputs, inputs...)
	return b
}

func (b *Builder) WithOutputs(outputs ...ClientOutput) *Builder {
	b.outputs = append(b.outputs, outputs...)
	return b
}

// PrimaryModule is the module that funds and absorbs whatever an operation's
// legs leave unbalanced.
type PrimaryModule interface {
	InputFee() domain.Amount
	OutputFee() domain.Amount
	// CreateFinalInputsAndOutputs runs inside tx and returns the legs that
	// make inputAmount equal outputAmount.
	CreateFinalInputsAndOutputs(ctx context.Context, tx store.Tx, op domain.OperationID, inputAmount, outputAmount domain.Amount) ([]ClientInput, []ClientOutput, error)
	AwaitPrimaryModuleOutput(ctx context.Context, op domain.OperationID, outpoint domain.OutPoint) (domain.Amount, error)
	Balance(ctx context.Context) (domain.Amount, error)
	SubscribeBalanceChanges(ctx context.Context) <-chan struct{}
}

// Context is what operations use to reach the federation.
type Context struct {
	db      store.Database
	fed     federation.API
	runtime *statemachine.Runtime
	primary PrimaryModule
	logger  *slog.Logger
}

func NewContext(db store.Database, fed federation.API, runtime *statemachine.Runtime, primary PrimaryModule, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		db:      db,
		fed:     fed,
		runtime: runtime,
		primary: primary,
		logger:  logger.With(slog.String("component", "txn")),
	}
}

// FinalizeAndSubmit balances the builder's legs through the primary module,
// persists the resulting state machines and submits the signed transaction.
// The returned outpoints are the primary module's change outputs.
//
// Local state is committed before submission. If submission fails the
// transaction is settled locally as rejected, refunding any reservation.
func (c *Context) FinalizeAndSubmit(ctx context.Context, op domain.OperationID, b *Builder) (domain.TxID, []domain.OutPoint, error) {
	inputAmount, outputAmount, err := c.amounts(b)
	if err != nil {
		return domain.TxID{}, nil, err
	}

	dbtx, err := c.db.Begin(ctx)
	if err != nil {
		return domain.TxID{}, nil, err
	}
	defer dbtx.Rollback(ctx) // nolint:errcheck

	if err := store.EnsureIsolated(dbtx); err != nil {
		return domain.TxID{}, nil, err
	}

	extraIn, extraOut, err := c.primary.CreateFinalInputsAndOutputs(ctx, dbtx, op, inputAmount, outputAmount)
	if err != nil {
		return domain.TxID{}, nil, err
	}
	inputs := append(append([]ClientInput{}, b.inputs...), extraIn...)
	outputs := append(append([]ClientOutput{}, b.outputs...), extraOut...)

	tx, err := assemble(inputs, outputs)
	if err != nil {
		return domain.TxID{}, nil, err
	}
	txid := tx.ID()

	var states []statemachine.LegState
	for _, in := range inputs {
		for _, seed := range in.Seeds {
			states = append(states, seed.Build(txid))
		}
	}
	for _, out := range outputs {
		for _, seed := range out.Seeds {
			states = append(states, seed.Build(txid))
		}
	}
	if err := c.runtime.Persist(ctx, dbtx, states); err != nil {
		return domain.TxID{}, nil, err
	}
	if err := dbtx.Commit(ctx); err != nil {
		return domain.TxID{}, nil, err
	}

	change := make([]domain.OutPoint, len(extraOut))
	for i := range extraOut {
		change[i] = domain.OutPoint{TxID: txid, OutIdx: uint64(len(b.outputs) + i)}
	}

	if err := c.fed.SubmitTransaction(ctx, tx); err != nil {
		c.logger.Error("transaction_submit_failed",
			slog.String("operation_id", op.String()),
			slog.String("txid", txid.String()),
			slog.String("error", err.Error()),
		)
		if failErr := c.runtime.Fail(context.WithoutCancel(ctx), states, err.Error()); failErr != nil {
			err = errors.Join(err, failErr)
		}
		return txid, nil, fmt.Errorf("submit transaction %s: %w", txid, err)
	}
	c.runtime.Launch(states)

	c.logger.Info("transaction_submitted",
		slog.String("operation_id", op.String()),
		slog.String("txid", txid.String()),
		slog.Int("inputs", len(inputs)),
		slog.Int("outputs", len(outputs)),
	)
	return txid, change, nil
}

// AwaitTxAccepted returns nil once the federation accepted txid and the
// rejection otherwise.
func (c *Context) AwaitTxAccepted(ctx context.Context, txid domain.TxID) error {
	outcome, err := c.fed.AwaitTransaction(ctx, txid)
	if err != nil {
		return err
	}
	return outcome.Err()
}

// AwaitPrimaryModuleOutputs waits for every change output and sums them.
func (c *Context) AwaitPrimaryModuleOutputs(ctx context.Context, op domain.OperationID, outpoints []domain.OutPoint) (domain.Amount, error) {
	total := domain.ZeroAmount
	for _, outpoint := range outpoints {
		amount, err := c.primary.AwaitPrimaryModuleOutput(ctx, op, outpoint)
		if err != nil {
			return 0, err
		}
		next, ok := total.Add(amount)
		if !ok {
			return 0, domain.ErrAmountOverflow
		}
		total = next
	}
	return total, nil
}

// Subscribe follows the states of one operation, history included.
func (c *Context) Subscribe(op domain.OperationID) *statemachine.Subscription {
	return c.runtime.Notifier().Subscribe(op)
}

// amounts returns the builder's input total and its output total with every
// leg's fee added to the output side.
func (c *Context) amounts(b *Builder) (domain.Amount, domain.Amount, error) {
	in := domain.ZeroAmount
	out := domain.ZeroAmount
	var ok bool
	for _, leg := range b.inputs {
		if in, ok = in.Add(leg.Input.Amount); !ok {
			return 0, 0, domain.ErrAmountOverflow
		}
		if out, ok = out.Add(c.primary.InputFee()); !ok {
			return 0, 0, domain.ErrAmountOverflow
		}
	}
	for _, leg := range b.outputs {
		if out, ok = out.Add(leg.Output.Amount); !ok {
			return 0, 0, domain.ErrAmountOverflow
		}
		if out, ok = out.Add(c.primary.OutputFee()); !ok {
			return 0, 0, domain.ErrAmountOverflow
		}
	}
	return in, out, nil
}

func assemble(inputs []ClientInput, outputs []ClientOutput) (domain.Transaction, error) {
	legsIn := make([]domain.Input, len(inputs))
	keys := make([]domain.Keypair, len(inputs))
	for i, in := range inputs {
		if len(in.Keys) != 1 {
			return domain.Transaction{}, fmt.Errorf("input %d: expected one signing key, got %d", i, len(in.Keys))
		}
		legsIn[i] = in.Input
		keys[i] = in.Keys[0]
	}
	legsOut := make([]domain.Output, len(outputs))
	for i, out := range outputs {
		legsOut[i] = out.Output
	}

	tx := domain.NewTransaction(legsIn, legsOut)
	if err := tx.Sign(keys); err != nil {
		return domain.Transaction{}, err
	}
	return tx, nil
}
