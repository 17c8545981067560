package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-engine/internal/model"
)

func TestMemoryLedger_NotFound(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	_, err := l.FetchGlobalConfig(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.FetchSpotMarket(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.FetchPerpMarket(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.FetchOraclePrice(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = l.FetchAccount(ctx, model.AccountID{Authority: "nobody"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryLedger_ReturnsCopies(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	id := model.AccountID{Authority: "alice", SubAccountID: 2}

	acct := &model.Account{
		ID:            id,
		SpotPositions: []model.SpotPosition{{MarketIndex: 1, ScaledBalance: 10}},
	}
	l.PutAccount(acct)
	acct.SpotPositions[0].ScaledBalance = 99

	got, err := l.FetchAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.SpotPositions[0].ScaledBalance)

	got.SpotPositions[0].ScaledBalance = 42
	again, err := l.FetchAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), again.SpotPositions[0].ScaledBalance)
}

func TestMemoryLedger_Markets(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()

	l.PutGlobalConfig(model.GlobalConfig{NumberOfSpotMarkets: 2, NumberOfPerpMarkets: 1})
	l.PutSpotMarket(model.SpotMarket{MarketIndex: 1, Oracle: "sol", Decimals: 9})
	l.PutPerpMarket(model.PerpMarket{MarketIndex: 0, Oracle: "sol"})
	l.PutOraclePrice("sol", model.OraclePrice{Price: 100_000_000, Slot: 7})

	cfg, err := l.FetchGlobalConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), cfg.NumberOfSpotMarkets)

	spot, err := l.FetchSpotMarket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.OracleRef("sol"), spot.Oracle)

	perp, err := l.FetchPerpMarket(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), perp.MarketIndex)

	price, err := l.FetchOraclePrice(ctx, "sol")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), price.Slot)
}
