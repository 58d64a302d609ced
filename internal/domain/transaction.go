package domain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

const txDomainTag = "fedwallet-tx-v1"

// ErrAmountOverflow is returned when leg amounts do not fit an Amount.
var ErrAmountOverflow = errors.New("amount overflow")

// Input spends Amount from Account. It must be signed by Account's key.
type Input struct {
	Amount  Amount    `json:"amount"`
	Account PublicKey `json:"account"`
}

// Output pays Amount to Account.
type Output struct {
	Amount  Amount    `json:"amount"`
	Account PublicKey `json:"account"`
}

// OutputOutcome is the federation's authoritative result for an output: the
// account's balance after the output settled and the account it settled to.
type OutputOutcome struct {
	NewBalance Amount    `json:"new_balance"`
	Account    PublicKey `json:"account"`
}

// Transaction is a value-balanced bundle submitted to the federation.
type Transaction struct {
	Nonce      [16]byte `json:"nonce"`
	Inputs     []Input  `json:"inputs"`
	Outputs    []Output `json:"outputs"`
	Signatures [][]byte `json:"signatures"`
}

// NewTransaction returns an unsigned transaction with a fresh nonce, so two
// otherwise identical bundles get distinct ids.
func NewTransaction(inputs []Input, outputs []Output) Transaction {
	return Transaction{
		Nonce:   uuid.New(),
		Inputs:  inputs,
		Outputs: outputs,
	}
}

// ID hashes everything except the signatures.
func (tx *Transaction) ID() TxID {
	h := sha3.New256()
	_, _ = h.Write([]byte(txDomainTag))
	_, _ = h.Write(tx.Nonce[:])

	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], uint64(len(tx.Inputs)))
	_, _ = h.Write(scratch[:])
	for _, in := range tx.Inputs {
		binary.BigEndian.PutUint64(scratch[:], uint64(in.Amount))
		_, _ = h.Write(scratch[:])
		_, _ = h.Write(in.Account[:])
	}
	binary.BigEndian.PutUint64(scratch[:], uint64(len(tx.Outputs)))
	_, _ = h.Write(scratch[:])
	for _, out := range tx.Outputs {
		binary.BigEndian.PutUint64(scratch[:], uint64(out.Amount))
		_, _ = h.Write(scratch[:])
		_, _ = h.Write(out.Account[:])
	}

	var id TxID
	copy(id[:], h.Sum(nil))
	return id
}

// Sign attaches one signature per input, keys[i] signing Inputs[i].
func (tx *Transaction) Sign(keys []Keypair) error {
	if len(keys) != len(tx.Inputs) {
		return fmt.Errorf("need %d signing keys, got %d", len(tx.Inputs), len(keys))
	}
	id := tx.ID()
	tx.Signatures = make([][]byte, len(keys))
	for i, k := range keys {
		if k.IsZero() {
			return fmt.Errorf("input %d has no signing key", i)
		}
		tx.Signatures[i] = k.Sign(id[:])
	}
	return nil
}

// VerifySignatures checks that every input is signed by its account.
func (tx *Transaction) VerifySignatures() error {
	if len(tx.Signatures) != len(tx.Inputs) {
		return fmt.Errorf("expected %d signatures, got %d", len(tx.Inputs), len(tx.Signatures))
	}
	id := tx.ID()
	for i, in := range tx.Inputs {
		if !in.Account.Verify(id[:], tx.Signatures[i]) {
			return fmt.Errorf("invalid signature for input %d", i)
		}
	}
	return nil
}

// InputTotal sums the input amounts.
func (tx *Transaction) InputTotal() (Amount, error) {
	total := ZeroAmount
	for _, in := range tx.Inputs {
		next, ok := total.Add(in.Amount)
		if !ok {
			return 0, ErrAmountOverflow
		}
		total = next
	}
	return total, nil
}

// OutputTotal sums the output amounts.
func (tx *Transaction) OutputTotal() (Amount, error) {
	total := ZeroAmount
	for _, out := range tx.Outputs {
		next, ok := total.Add(out.Amount)
		if !ok {
			return 0, ErrAmountOverflow
		}
		total = next
	}
	return total, nil
}
