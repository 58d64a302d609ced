package statemachine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
	"github.com/congo-pay/fedwallet/internal/ledger"
	"github.com/congo-pay/fedwallet/internal/logging"
	"github.com/congo-pay/fedwallet/internal/store"
)

// manualSource resolves transactions when the test says so.
type manualSource struct {
	mu      sync.Mutex
	pending map[domain.TxID]chan federation.TxOutcome
}

func newManualSource() *manualSource {
	return &manualSource{pending: make(map[domain.TxID]chan federation.TxOutcome)}
}

func (m *manualSource) ch(txid domain.TxID) chan federation.TxOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pending[txid]
	if !ok {
		c = make(chan federation.TxOutcome, 1)
		m.pending[txid] = c
	}
	return c
}

func (m *manualSource) resolve(outcome federation.TxOutcome) {
	m.ch(outcome.TxID) <- outcome
}

func (m *manualSource) AwaitTransaction(ctx context.Context, txid domain.TxID) (federation.TxOutcome, error) {
	select {
	case o := <-m.ch(txid):
		return o, nil
	case <-ctx.Done():
		return federation.TxOutcome{}, ctx.Err()
	}
}

func newTestRuntime(t *testing.T) (*Runtime, store.Database, *manualSource) {
	t.Helper()
	db := store.WithPrefix(store.NewMemory(), "wallet/")
	src := newManualSource()
	rt := NewRuntime(db, src, NewNotifier(), logging.Discard())
	t.Cleanup(rt.Close)
	return rt, db, src
}

func persist(t *testing.T, rt *Runtime, db store.Database, states ...LegState) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, rt.Persist(ctx, tx, states))
	require.NoError(t, tx.Commit(ctx))
}

func balance(t *testing.T, db store.Database) domain.Amount {
	t.Helper()
	got, err := ledger.NewStore(db).Balance(context.Background())
	require.NoError(t, err)
	return got
}

func TestDeliverIsIdempotent(t *testing.T) {
	rt, db, _ := newTestRuntime(t)
	ctx := context.Background()
	op := domain.NewOperationID()
	txid := testTxID(3)

	persist(t, rt, db, OutputSeed(40, op).Build(txid))

	outcome := federation.TxOutcome{TxID: txid, Accepted: true}
	require.NoError(t, rt.Deliver(ctx, outcome))
	require.NoError(t, rt.Deliver(ctx, outcome))

	require.Equal(t, domain.Amount(40), balance(t, db))
}

func TestRejectedInputIsRefunded(t *testing.T) {
	rt, db, _ := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, ledger.SeedFunds(ctx, db, 70))

	op := domain.NewOperationID()
	txid := testTxID(4)
	persist(t, rt, db, InputSeed(30, op).Build(txid))

	sub := rt.Notifier().Subscribe(op)
	defer sub.Close()

	require.NoError(t, rt.Deliver(ctx, federation.TxOutcome{TxID: txid, Reason: "insufficient"}))
	require.Equal(t, domain.Amount(100), balance(t, db))

	state, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, KindRefund, state.Kind)
	require.Equal(t, domain.Amount(30), state.Amount)
}

func TestRefundIsAppliedOnce(t *testing.T) {
	rt, db, _ := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, ledger.SeedFunds(ctx, db, 10))

	op := domain.NewOperationID()
	txid := testTxID(12)
	persist(t, rt, db, InputSeed(30, op).Build(txid))

	rejected := federation.TxOutcome{TxID: txid, Reason: "double spend"}
	require.NoError(t, rt.Deliver(ctx, rejected))
	require.NoError(t, rt.Deliver(ctx, rejected))

	require.Equal(t, domain.Amount(40), balance(t, db))
}

func TestLaunchAwaitsOutcome(t *testing.T) {
	rt, db, src := newTestRuntime(t)
	op := domain.NewOperationID()
	txid := testTxID(5)
	states := []LegState{OutputSeed(25, op).Build(txid)}
	persist(t, rt, db, states...)

	sub := rt.Notifier().Subscribe(op)
	defer sub.Close()
	rt.Launch(states)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	first, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, KindOutput, first.Kind)

	src.resolve(federation.TxOutcome{TxID: txid, Accepted: true})

	second, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, KindOutputDone, second.Kind)
	require.Equal(t, txid, second.TxID)
	require.Equal(t, domain.Amount(25), balance(t, db))
}

func TestResumeRelaunchesActiveLegs(t *testing.T) {
	db := store.WithPrefix(store.NewMemory(), "wallet/")
	op := domain.NewOperationID()
	txid := testTxID(6)

	before := NewRuntime(db, newManualSource(), nil, logging.Discard())
	persist(t, before, db, OutputSeed(12, op).Build(txid), InputSeed(3, op).Build(txid))
	before.Close()

	src := newManualSource()
	after := NewRuntime(db, src, nil, logging.Discard())
	defer after.Close()

	n, err := after.Resume(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)

	sub := after.Notifier().Subscribe(op)
	defer sub.Close()
	src.resolve(federation.TxOutcome{TxID: txid, Accepted: true})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		state, err := sub.Next(ctx)
		require.NoError(t, err)
		if state.Kind == KindOutputDone {
			break
		}
	}
	require.Equal(t, domain.Amount(12), balance(t, db))
}

func TestPersistRejectsTerminalStates(t *testing.T) {
	rt, db, _ := newTestRuntime(t)
	ctx := context.Background()
	tx, err := db.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) // nolint:errcheck

	err = rt.Persist(ctx, tx, []LegState{{Kind: KindRefund, OperationID: domain.NewOperationID()}})
	require.Error(t, err)
}

func TestFailRefundsReservation(t *testing.T) {
	rt, db, _ := newTestRuntime(t)
	ctx := context.Background()
	require.NoError(t, ledger.SeedFunds(ctx, db, 10))

	op := domain.NewOperationID()
	states := []LegState{InputSeed(40, op).Build(testTxID(11))}
	persist(t, rt, db, states...)

	require.NoError(t, rt.Fail(ctx, states, "connection refused"))
	require.Equal(t, domain.Amount(50), balance(t, db))

	sub := rt.Notifier().Subscribe(op)
	defer sub.Close()
	first, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, KindInput, first.Kind)
	second, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, KindRefund, second.Kind)
}
