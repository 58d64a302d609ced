package wallet

import (
	"context"
	"fmt"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/ledger"
	"github.com/congo-pay/fedwallet/internal/statemachine"
	"github.com/congo-pay/fedwallet/internal/store"
	"github.com/congo-pay/fedwallet/internal/txn"
)

// DecisionKind says which leg, if any, balances a transaction.
type DecisionKind uint8

const (
	// AddInput funds a shortfall from the own account.
	AddInput DecisionKind = iota + 1
	// Balanced needs no extra leg.
	Balanced
	// AddOutput returns a surplus to the own account.
	AddOutput
)

// Decision is the outcome of Plan.
type Decision struct {
	Kind   DecisionKind
	Amount domain.Amount
}

// Plan decides how to balance a transaction whose legs sum to in and out.
func Plan(in, out domain.Amount) Decision {
	switch {
	case in < out:
		return Decision{Kind: AddInput, Amount: out - in}
	case in > out:
		return Decision{Kind: AddOutput, Amount: in - out}
	default:
		return Decision{Kind: Balanced}
	}
}

// CreateFinalInputsAndOutputs balances a transaction inside the caller's
// store transaction, reserving funds when it adds an input.
func (m *Module) CreateFinalInputsAndOutputs(ctx context.Context, tx store.Tx, op domain.OperationID, inputAmount, outputAmount domain.Amount) ([]txn.ClientInput, []txn.ClientOutput, error) {
	if err := store.EnsureIsolated(tx); err != nil {
		return nil, nil, err
	}

	decision := Plan(inputAmount, outputAmount)
	switch decision.Kind {
	case AddInput:
		if _, err := ledger.Reserve(ctx, tx, decision.Amount); err != nil {
			return nil, nil, fmt.Errorf("fund %s: %w", decision.Amount, err)
		}
		return []txn.ClientInput{{
			Input: domain.Input{Amount: decision.Amount, Account: m.key.PublicKey()},
			Keys:  []domain.Keypair{m.key},
			Seeds: []statemachine.Seed{statemachine.InputSeed(decision.Amount, op)},
		}}, nil, nil
	case AddOutput:
		return nil, []txn.ClientOutput{{
			Output: domain.Output{Amount: decision.Amount, Account: m.key.PublicKey()},
			Seeds:  []statemachine.Seed{statemachine.OutputSeed(decision.Amount, op)},
		}}, nil
	default:
		return nil, nil, nil
	}
}

// AwaitPrimaryModuleOutput follows op until the change output at outpoint
// settles or the operation is refunded.
func (m *Module) AwaitPrimaryModuleOutput(ctx context.Context, op domain.OperationID, outpoint domain.OutPoint) (domain.Amount, error) {
	sub := m.txn.Subscribe(op)
	defer sub.Close()
	for {
		state, err := sub.Next(ctx)
		if err != nil {
			return 0, err
		}
		amount, done, err := statemachine.PrimaryOutput(state, outpoint.TxID)
		if done {
			return amount, err
		}
	}
}
