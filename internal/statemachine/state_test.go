package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
)

func testTxID(b byte) domain.TxID {
	var id domain.TxID
	id[0] = b
	return id
}

func TestNextTransitions(t *testing.T) {
	op := domain.NewOperationID()
	txid := testTxID(1)
	accepted := federation.TxOutcome{TxID: txid, Accepted: true}
	rejected := federation.TxOutcome{TxID: txid, Reason: "no"}

	cases := []struct {
		name        string
		state       LegState
		outcome     federation.TxOutcome
		wantRetired bool
		wantKind    Kind
		wantDeposit domain.Amount
	}{
		{"input accepted", InputSeed(30, op).Build(txid), accepted, true, 0, 0},
		{"input rejected", InputSeed(30, op).Build(txid), rejected, false, KindRefund, 30},
		{"output accepted", OutputSeed(20, op).Build(txid), accepted, false, KindOutputDone, 20},
		{"output rejected", OutputSeed(20, op).Build(txid), rejected, false, KindRefund, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr, ok := Next(tc.state, tc.outcome)
			require.True(t, ok)
			require.Equal(t, tc.wantRetired, tr.Retired)
			require.Equal(t, tc.wantDeposit, tr.Deposit)
			if !tc.wantRetired {
				require.Equal(t, tc.wantKind, tr.To.Kind)
				require.Equal(t, op, tr.To.OperationID)
				require.Equal(t, tc.state.Amount, tr.To.Amount)
			}
		})
	}
}

func TestNextIgnoresTerminalAndForeignOutcomes(t *testing.T) {
	op := domain.NewOperationID()
	txid := testTxID(1)

	done := LegState{Kind: KindOutputDone, Amount: 5, TxID: txid, OperationID: op}
	_, ok := Next(done, federation.TxOutcome{TxID: txid, Accepted: true})
	require.False(t, ok)

	refund := LegState{Kind: KindRefund, Amount: 5, OperationID: op}
	_, ok = Next(refund, federation.TxOutcome{Accepted: false})
	require.False(t, ok)

	pending := OutputSeed(5, op).Build(txid)
	_, ok = Next(pending, federation.TxOutcome{TxID: testTxID(2), Accepted: true})
	require.False(t, ok)
}

func TestBalanceChangedFilter(t *testing.T) {
	require.True(t, BalanceChanged(LegState{Kind: KindOutputDone}))
	require.True(t, BalanceChanged(LegState{Kind: KindInput}))
	require.True(t, BalanceChanged(LegState{Kind: KindRefund}))
	require.False(t, BalanceChanged(LegState{Kind: KindOutput}))
}

func TestPrimaryOutputFilter(t *testing.T) {
	txid := testTxID(7)

	amount, done, err := PrimaryOutput(LegState{Kind: KindOutputDone, Amount: 50, TxID: txid}, txid)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, domain.Amount(50), amount)

	_, done, err = PrimaryOutput(LegState{Kind: KindOutputDone, Amount: 50, TxID: testTxID(8)}, txid)
	require.NoError(t, err)
	require.False(t, done)

	_, done, err = PrimaryOutput(LegState{Kind: KindRefund, Amount: 50}, txid)
	require.ErrorIs(t, err, ErrRefunded)
	require.True(t, done)

	_, done, err = PrimaryOutput(LegState{Kind: KindInput, TxID: txid}, txid)
	require.NoError(t, err)
	require.False(t, done)
}

func TestKindRoundTripsThroughString(t *testing.T) {
	for _, k := range []Kind{KindInput, KindOutput, KindOutputDone, KindRefund} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		require.Equal(t, k, parsed)
	}
	_, err := ParseKind("Unreachable")
	require.Error(t, err)
}
