package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
	"github.com/congo-pay/fedwallet/internal/ledger"
	"github.com/congo-pay/fedwallet/internal/logging"
	"github.com/congo-pay/fedwallet/internal/statemachine"
	"github.com/congo-pay/fedwallet/internal/store"
)

// stubPrimary funds shortfalls from a fixed key and returns surpluses to it.
type stubPrimary struct {
	key domain.Keypair
	fee domain.Amount

	lastIn, lastOut domain.Amount
}

func (p *stubPrimary) InputFee() domain.Amount  { return p.fee }
func (p *stubPrimary) OutputFee() domain.Amount { return p.fee }

func (p *stubPrimary) CreateFinalInputsAndOutputs(ctx context.Context, tx store.Tx, op domain.OperationID, in, out domain.Amount) ([]ClientInput, []ClientOutput, error) {
	p.lastIn, p.lastOut = in, out
	switch {
	case in < out:
		if _, err := ledger.Reserve(ctx, tx, out-in); err != nil {
			return nil, nil, err
		}
		return []ClientInput{{
			Input: domain.Input{Amount: out - in, Account: p.key.PublicKey()},
			Keys:  []domain.Keypair{p.key},
			Seeds: []statemachine.Seed{statemachine.InputSeed(out-in, op)},
		}}, nil, nil
	case in > out:
		return nil, []ClientOutput{{
			Output: domain.Output{Amount: in - out, Account: p.key.PublicKey()},
			Seeds:  []statemachine.Seed{statemachine.OutputSeed(in-out, op)},
		}}, nil
	}
	return nil, nil, nil
}

func (p *stubPrimary) AwaitPrimaryModuleOutput(context.Context, domain.OperationID, domain.OutPoint) (domain.Amount, error) {
	return 0, errors.New("not used")
}

func (p *stubPrimary) Balance(context.Context) (domain.Amount, error) { return 0, nil }

func (p *stubPrimary) SubscribeBalanceChanges(context.Context) <-chan struct{} { return nil }

// downFederation refuses every submission.
type downFederation struct{ federation.API }

func (downFederation) SubmitTransaction(context.Context, domain.Transaction) error {
	return errors.New("connection refused")
}

func setup(t *testing.T, fed federation.API, fee domain.Amount) (*Context, *stubPrimary, store.Database) {
	t.Helper()
	key, err := domain.DeriveKeypair([]byte("txn-test"), "own")
	require.NoError(t, err)
	db := store.WithPrefix(store.NewMemory(), "wallet/")
	rt := statemachine.NewRuntime(db, fed, nil, logging.Discard())
	t.Cleanup(rt.Close)
	primary := &stubPrimary{key: key, fee: fee}
	return NewContext(db, fed, rt, primary, logging.Discard()), primary, db
}

func TestFinalizeAndSubmitAddsFeesToOutputSide(t *testing.T) {
	issuer, err := domain.DeriveKeypair([]byte("txn-test"), "issuer")
	require.NoError(t, err)
	sim := federation.NewSimulator(federation.SimulatorConfig{IssuanceKey: issuer.PublicKey()}, logging.Discard())
	defer sim.Close()

	c, primary, _ := setup(t, sim, 2)
	b := NewBuilder().WithInputs(ClientInput{
		Input: domain.Input{Amount: 50, Account: issuer.PublicKey()},
		Keys:  []domain.Keypair{issuer},
	})

	txid, change, err := c.FinalizeAndSubmit(context.Background(), domain.NewOperationID(), b)
	require.NoError(t, err)
	require.Equal(t, domain.Amount(50), primary.lastIn)
	require.Equal(t, domain.Amount(2), primary.lastOut)
	require.Equal(t, []domain.OutPoint{{TxID: txid, OutIdx: 0}}, change)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.AwaitTxAccepted(ctx, txid))
	require.Equal(t, domain.Amount(48), sim.Balance(primary.key.PublicKey()))
}

func TestFinalizeAndSubmitRefundsOnSubmitFailure(t *testing.T) {
	c, _, db := setup(t, downFederation{}, 0)
	ctx := context.Background()
	require.NoError(t, ledger.SeedFunds(ctx, db, 100))

	to, err := domain.DeriveKeypair([]byte("txn-test"), "payee")
	require.NoError(t, err)
	op := domain.NewOperationID()
	b := NewBuilder().WithOutputs(ClientOutput{Output: domain.Output{Amount: 60, Account: to.PublicKey()}})

	_, _, err = c.FinalizeAndSubmit(ctx, op, b)
	require.ErrorContains(t, err, "connection refused")

	balance, err := ledger.NewStore(db).Balance(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.Amount(100), balance)

	sub := c.Subscribe(op)
	defer sub.Close()
	first, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, statemachine.KindInput, first.Kind)
	second, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, statemachine.KindRefund, second.Kind)
}

func TestFinalizeAndSubmitRejectsSharedDatabase(t *testing.T) {
	key, err := domain.DeriveKeypair([]byte("txn-test"), "own")
	require.NoError(t, err)
	db := store.NewMemory()
	rt := statemachine.NewRuntime(db, downFederation{}, nil, logging.Discard())
	defer rt.Close()
	c := NewContext(db, downFederation{}, rt, &stubPrimary{key: key}, logging.Discard())

	_, _, err = c.FinalizeAndSubmit(context.Background(), domain.NewOperationID(), NewBuilder())
	require.ErrorIs(t, err, store.ErrIsolationViolation)
}
