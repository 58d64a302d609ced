// Package statemachine tracks every leg of a submitted transaction until the
// federation settles it, applying each terminal effect to the balance exactly
// once.
package statemachine

import (
	"errors"
	"fmt"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
)

// ErrRefunded is returned by await points that observe a Refund.
var ErrRefunded = errors.New("transaction was refunded")

// Kind enumerates leg states.
type Kind uint8

const (
	KindInput Kind = iota + 1
	KindOutput
	KindOutputDone
	KindRefund
)

var kindNames = map[Kind]string{
	KindInput:      "Input",
	KindOutput:     "Output",
	KindOutputDone: "OutputDone",
	KindRefund:     "Refund",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown leg kind %q", s)
}

// Terminal reports whether no further transition leaves k.
func (k Kind) Terminal() bool {
	return k == KindOutputDone || k == KindRefund
}

// LegState is the observable state of one leg. TxID is zero for Refund.
type LegState struct {
	Kind        Kind
	Amount      domain.Amount
	TxID        domain.TxID
	OperationID domain.OperationID
}

// Seed is what a builder attaches to a leg before the TxID is known.
type Seed struct {
	Kind        Kind
	Amount      domain.Amount
	OperationID domain.OperationID
}

// InputSeed tracks funds reserved from the own account.
func InputSeed(amount domain.Amount, op domain.OperationID) Seed {
	return Seed{Kind: KindInput, Amount: amount, OperationID: op}
}

// OutputSeed tracks a payment expected to land in the own account.
func OutputSeed(amount domain.Amount, op domain.OperationID) Seed {
	return Seed{Kind: KindOutput, Amount: amount, OperationID: op}
}

// Build turns the seed into the leg's initial state.
func (s Seed) Build(txid domain.TxID) LegState {
	return LegState{Kind: s.Kind, Amount: s.Amount, TxID: txid, OperationID: s.OperationID}
}

// Transition is the result of applying an outcome to a leg.
type Transition struct {
	From LegState
	// To is the state entered. It is meaningless when Retired is set.
	To      LegState
	Retired bool
	// Deposit is credited to the own balance in the same store transaction
	// that records the transition.
	Deposit domain.Amount
}

// Next applies the federation's decision to a leg. It reports false when the
// outcome does not concern the leg or the leg is already terminal.
func Next(state LegState, outcome federation.TxOutcome) (Transition, bool) {
	if state.Kind.Terminal() || state.TxID != outcome.TxID {
		return Transition{}, false
	}
	tr := Transition{From: state}
	refund := LegState{Kind: KindRefund, Amount: state.Amount, OperationID: state.OperationID}

	switch state.Kind {
	case KindInput:
		if outcome.Accepted {
			tr.Retired = true
			return tr, true
		}
		tr.To = refund
		tr.Deposit = state.Amount
	case KindOutput:
		if outcome.Accepted {
			tr.To = LegState{Kind: KindOutputDone, Amount: state.Amount, TxID: state.TxID, OperationID: state.OperationID}
			tr.Deposit = state.Amount
			return tr, true
		}
		tr.To = refund
	default:
		return Transition{}, false
	}
	return tr, true
}

// BalanceChanged selects the states after which the own balance may differ.
func BalanceChanged(state LegState) bool {
	switch state.Kind {
	case KindOutputDone, KindInput, KindRefund:
		return true
	default:
		return false
	}
}

// PrimaryOutput classifies a state observed while awaiting the primary
// module's output of txid. done is true once the wait is over, err is
// ErrRefunded when it ended in a refund.
func PrimaryOutput(state LegState, txid domain.TxID) (amount domain.Amount, done bool, err error) {
	switch state.Kind {
	case KindOutputDone:
		if state.TxID != txid {
			return 0, false, nil
		}
		return state.Amount, true, nil
	case KindRefund:
		return 0, true, ErrRefunded
	default:
		return 0, false, nil
	}
}
