package ledger

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-engine/internal/model"
)

const fixtureJSON = `{
  "config": {"number_of_spot_markets": 1, "number_of_perp_markets": 0, "liquidation_margin_buffer_ratio": 200},
  "spot_markets": [{
    "market_index": 0, "oracle": "usdc", "decimals": 6,
    "cumulative_deposit_interest": "10000000000", "cumulative_borrow_interest": "10000000000"
  }],
  "oracles": {"sol": {"price": 100000000, "confidence": 0, "slot": 7}},
  "accounts": [{
    "id": {"authority": "alice", "sub_account_id": 2},
    "spot_positions": [{"market_index": 0, "scaled_balance": 5000000000, "balance_type": "deposit"}]
  }]
}`

func TestReadFixture(t *testing.T) {
	f, err := ReadFixture(strings.NewReader(fixtureJSON))
	require.NoError(t, err)

	l := NewMemoryLedger()
	f.Load(l)
	ctx := context.Background()

	cfg, err := l.FetchGlobalConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(200), cfg.LiquidationMarginBufferRatio)

	m, err := l.FetchSpotMarket(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "10000000000", m.CumulativeDepositInterest.String())

	p, err := l.FetchOraclePrice(ctx, "sol")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), p.Slot)

	a, err := l.FetchAccount(ctx, model.AccountID{Authority: "alice", SubAccountID: 2})
	require.NoError(t, err)
	require.Len(t, a.SpotPositions, 1)
	assert.Equal(t, model.Deposit, a.SpotPositions[0].BalanceType)
}

func TestReadFixture_Malformed(t *testing.T) {
	_, err := ReadFixture(strings.NewReader(`{"config": [}`))
	assert.Error(t, err)
}
