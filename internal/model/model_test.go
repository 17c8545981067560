package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpotPosition_IsAvailable(t *testing.T) {
	assert.True(t, (&SpotPosition{MarketIndex: 3}).IsAvailable())
	assert.False(t, (&SpotPosition{ScaledBalance: 1}).IsAvailable())
	assert.False(t, (&SpotPosition{OpenOrders: 1, OpenBids: 10}).IsAvailable())
}

func TestPerpPosition_IsAvailable(t *testing.T) {
	assert.True(t, (&PerpPosition{MarketIndex: 1}).IsAvailable())
	assert.False(t, (&PerpPosition{BaseAssetAmount: -1}).IsAvailable())
	assert.False(t, (&PerpPosition{QuoteAssetAmount: 5}).IsAvailable())
	assert.False(t, (&PerpPosition{LPShares: 1}).IsAvailable())
	assert.False(t, (&PerpPosition{OpenOrders: 2}).IsAvailable())
}

func TestAccount_Validate(t *testing.T) {
	acc := &Account{
		SpotPositions: []SpotPosition{
			{MarketIndex: 0, ScaledBalance: 10},
			{MarketIndex: 0}, // empty slot, ignored
			{MarketIndex: 1, ScaledBalance: 5, BalanceType: Borrow},
		},
		PerpPositions: []PerpPosition{
			{MarketIndex: 0, BaseAssetAmount: 1},
		},
	}
	require.NoError(t, acc.Validate())

	acc.PerpPositions = append(acc.PerpPositions, PerpPosition{MarketIndex: 0, BaseAssetAmount: 2})
	assert.ErrorIs(t, acc.Validate(), ErrDuplicatePosition)
}

func TestAccount_CloneIsDeep(t *testing.T) {
	acc := &Account{SpotPositions: []SpotPosition{{MarketIndex: 1, ScaledBalance: 1}}}
	c := acc.Clone()
	c.SpotPositions[0].ScaledBalance = 99
	assert.Equal(t, uint64(1), acc.SpotPositions[0].ScaledBalance)
}

func TestOraclePrice_Validate(t *testing.T) {
	assert.NoError(t, (&OraclePrice{Price: 1}).Validate())
	assert.ErrorIs(t, (&OraclePrice{Price: 0}).Validate(), ErrInvalidOraclePrice)
	assert.ErrorIs(t, (&OraclePrice{Price: -5}).Validate(), ErrInvalidOraclePrice)
}

func TestEnums_JSON(t *testing.T) {
	data, err := json.Marshal(SpotPosition{BalanceType: Borrow})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"balance_type":"borrow"`)

	var p SpotPosition
	require.NoError(t, json.Unmarshal([]byte(`{"balance_type":"Deposit"}`), &p))
	assert.Equal(t, Deposit, p.BalanceType)

	assert.Error(t, json.Unmarshal([]byte(`{"balance_type":"lend"}`), &p))

	c, err := ParseMarginCategory("Maintenance")
	require.NoError(t, err)
	assert.Equal(t, MarginMaintenance, c)

	c, err = ParseMarginCategory("")
	require.NoError(t, err)
	assert.Equal(t, MarginNone, c)

	_, err = ParseMarginCategory("strict")
	assert.Error(t, err)
}
