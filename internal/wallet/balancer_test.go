package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/ledger"
	"github.com/congo-pay/fedwallet/internal/store"
)

func TestPlanBranches(t *testing.T) {
	cases := []struct {
		in, out domain.Amount
		want    Decision
	}{
		{0, 70, Decision{Kind: AddInput, Amount: 70}},
		{30, 70, Decision{Kind: AddInput, Amount: 40}},
		{70, 70, Decision{Kind: Balanced}},
		{0, 0, Decision{Kind: Balanced}},
		{100, 0, Decision{Kind: AddOutput, Amount: 100}},
		{100, 1, Decision{Kind: AddOutput, Amount: 99}},
	}
	for _, tc := range cases {
		got := Plan(tc.in, tc.out)
		if got != tc.want {
			t.Fatalf("Plan(%d, %d) = %+v, want %+v", tc.in, tc.out, got, tc.want)
		}
		// Whatever the branch, the extra leg closes the gap exactly.
		in, out := tc.in, tc.out
		switch got.Kind {
		case AddInput:
			in += got.Amount
		case AddOutput:
			out += got.Amount
		}
		if in != out {
			t.Fatalf("Plan(%d, %d) leaves %d vs %d", tc.in, tc.out, in, out)
		}
	}
}

func TestCreateFinalInputsAndOutputs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	db := store.WithPrefix(store.NewMemory(), "wallet/")
	if err := ledger.SeedFunds(ctx, db, 100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	m := h.newModuleWith(t, db, h.config("alice"))
	op := domain.NewOperationID()

	tx, err := db.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	inputs, outputs, err := m.CreateFinalInputsAndOutputs(ctx, tx, op, 0, 70)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if len(inputs) != 1 || len(outputs) != 0 {
		t.Fatalf("expected one input, got %d inputs %d outputs", len(inputs), len(outputs))
	}
	if inputs[0].Input.Amount != 70 || inputs[0].Input.Account != m.Account() {
		t.Fatalf("unexpected input %+v", inputs[0].Input)
	}
	if funds, _ := ledger.Funds(ctx, tx); funds != 30 {
		t.Fatalf("expected 30 left after reservation, got %d", funds)
	}

	inputs, outputs, err = m.CreateFinalInputsAndOutputs(ctx, tx, op, 70, 70)
	if err != nil || len(inputs) != 0 || len(outputs) != 0 {
		t.Fatalf("balanced transaction must get no legs: %d %d %v", len(inputs), len(outputs), err)
	}

	inputs, outputs, err = m.CreateFinalInputsAndOutputs(ctx, tx, op, 100, 0)
	if err != nil {
		t.Fatalf("change: %v", err)
	}
	if len(inputs) != 0 || len(outputs) != 1 || outputs[0].Output.Amount != 100 {
		t.Fatalf("expected one change output of 100, got %+v", outputs)
	}
	if funds, _ := ledger.Funds(ctx, tx); funds != 30 {
		t.Fatalf("change output must not touch the balance yet, got %d", funds)
	}

	if _, _, err := m.CreateFinalInputsAndOutputs(ctx, tx, op, 0, 31); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
}

func TestCreateFinalInputsAndOutputsRequiresIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := store.NewMemory()
	m := h.newModule(t, "alice")

	tx, err := root.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, _, err := m.CreateFinalInputsAndOutputs(ctx, tx, domain.NewOperationID(), 0, 1); !errors.Is(err, store.ErrIsolationViolation) {
		t.Fatalf("expected isolation violation, got %v", err)
	}
}
