package stake

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"threatmesh/internal/database/dbtest"
	"threatmesh/internal/domain"
	"threatmesh/internal/ledger"
)

func TestGateWithStaticBalances(t *testing.T) {
	balances := NewStaticBalances()
	balances.Set("rich", uint256.MustFromDecimal("2000000000000000000000"))
	balances.Set("exact", domain.DefaultMinTokenBalance)
	balances.Set("poor", uint256.NewInt(1))

	gate := NewGate(balances, nil)
	tx := &ledger.Tx{Seq: 1}

	require.NoError(t, gate.CheckEligible(tx, "rich"))
	require.NoError(t, gate.CheckEligible(tx, "exact"))
	require.ErrorIs(t, gate.CheckEligible(tx, "poor"), domain.ErrInsufficientStake)
	require.ErrorIs(t, gate.CheckEligible(tx, "unknown"), domain.ErrInsufficientStake)
	require.ErrorIs(t, gate.CheckEligible(tx, ""), domain.ErrInsufficientStake)
}

func TestGateFollowsParams(t *testing.T) {
	balances := NewStaticBalances()
	balances.Set("reporter", uint256.NewInt(50))

	params := domain.DefaultParams()
	params.MinTokenBalance = uint256.NewInt(100)
	gate := NewGate(balances, func() domain.Params { return params })
	tx := &ledger.Tx{Seq: 1}

	require.ErrorIs(t, gate.CheckEligible(tx, "reporter"), domain.ErrInsufficientStake)

	params.MinTokenBalance = uint256.NewInt(50)
	require.NoError(t, gate.CheckEligible(tx, "reporter"))
}

func TestDBBalancesInsideTransition(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.New(ctx, dbtest.Open(t), nil)
	require.NoError(t, err)

	gate := NewGate(DBBalances{}, nil)

	_, err = l.Apply(ctx, ledger.OpSetStake, "gov", func(tx *ledger.Tx) error {
		return SetBalance(tx, "reporter-a", uint256.MustFromDecimal("1500000000000000000000"))
	})
	require.NoError(t, err)

	_, err = l.Apply(ctx, ledger.OpCommit, "reporter-a", func(tx *ledger.Tx) error {
		return gate.CheckEligible(tx, "reporter-a")
	})
	require.NoError(t, err)

	_, err = l.Apply(ctx, ledger.OpSetStake, "gov", func(tx *ledger.Tx) error {
		return SetBalance(tx, "reporter-a", uint256.NewInt(10))
	})
	require.NoError(t, err)

	_, err = l.Apply(ctx, ledger.OpCommit, "reporter-a", func(tx *ledger.Tx) error {
		return gate.CheckEligible(tx, "reporter-a")
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStake)

	var row domain.StakeBalance
	require.NoError(t, l.DB(ctx).First(&row, "reporter_id = ?", "reporter-a").Error)
	require.Equal(t, "10", row.Balance)
	require.EqualValues(t, 3, row.UpdatedAtSeq)
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 1000000000000000000000 ")
	require.NoError(t, err)
	require.Zero(t, amount.Cmp(domain.DefaultMinTokenBalance))

	_, err = ParseAmount("-5")
	require.Error(t, err)
}
