package margin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-engine/internal/fixed"
	"github.com/atmx/risk-engine/internal/model"
)

var oneInterest = fixed.New(SpotCumulativeInterestPrecision)

func solMarket() *model.SpotMarket {
	return &model.SpotMarket{
		MarketIndex:                1,
		Oracle:                     "sol-oracle",
		Decimals:                   9,
		CumulativeDepositInterest:  oneInterest,
		CumulativeBorrowInterest:   oneInterest,
		InitialAssetWeight:         8_000,
		MaintenanceAssetWeight:     9_000,
		InitialLiabilityWeight:     12_000,
		MaintenanceLiabilityWeight: 11_000,
	}
}

func solOracle() *model.OraclePrice {
	return &model.OraclePrice{Price: 100 * PricePrecision, Slot: 1}
}

func sol(n int64) fixed.Int { return fixed.New(n * 1_000_000_000) }
func usd(n int64) fixed.Int { return fixed.New(n * QuotePrecision) }

func assertInt(t *testing.T, expected, got fixed.Int) {
	t.Helper()
	assert.Equal(t, expected.String(), got.String())
}

// --- Token amounts ---

func TestTokenAmount_UsesDirectionalIndex(t *testing.T) {
	m := solMarket()
	m.CumulativeDepositInterest = fixed.New(10_500_000_000) // 1.05
	m.CumulativeBorrowInterest = fixed.New(11_000_000_000)  // 1.10

	dep, err := TokenAmount(100*SpotBalancePrecision, m, model.Deposit)
	require.NoError(t, err)
	assertInt(t, sol(105), dep)

	bor, err := TokenAmount(100*SpotBalancePrecision, m, model.Borrow)
	require.NoError(t, err)
	assertInt(t, sol(110), bor)
}

func TestTokenAmount_Truncates(t *testing.T) {
	m := solMarket()
	m.CumulativeDepositInterest = fixed.New(15_000_000_000) // 1.5

	got, err := TokenAmount(1, m, model.Deposit)
	require.NoError(t, err)
	assertInt(t, fixed.New(1), got)
}

func TestTokenAmount_SixDecimals(t *testing.T) {
	m := solMarket()
	m.Decimals = 6

	got, err := TokenAmount(1_000*SpotBalancePrecision, m, model.Deposit)
	require.NoError(t, err)
	assertInt(t, usd(1_000), got)
}

func TestTokenAmount_Overflow(t *testing.T) {
	m := solMarket()
	m.CumulativeDepositInterest = fixed.MustParse("1329227995784915872903807060280344576") // 2^120

	_, err := TokenAmount(^uint64(0), m, model.Deposit)
	assert.ErrorIs(t, err, fixed.ErrOverflow)
}

func TestTokenAmount_Errors(t *testing.T) {
	m := solMarket()
	_, err := TokenAmount(1, m, model.BalanceType(7))
	assert.ErrorIs(t, err, ErrUnknownBalanceType)

	m.Decimals = 20
	_, err = TokenAmount(1, m, model.Deposit)
	assert.ErrorIs(t, err, ErrInvalidDecimals)
}

func TestTokenValue_RejectsInvalidOracle(t *testing.T) {
	_, err := TokenValue(sol(1), 9, &model.OraclePrice{Price: 0})
	assert.ErrorIs(t, err, model.ErrInvalidOraclePrice)
}

// --- Spot values ---

func TestSpotAssetValue(t *testing.T) {
	tests := []struct {
		name     string
		category model.MarginCategory
		expected fixed.Int
	}{
		{"unweighted", model.MarginNone, usd(10_000)},
		{"initial", model.MarginInitial, usd(8_000)},
		{"maintenance", model.MarginMaintenance, usd(9_000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SpotAssetValue(sol(100), solOracle(), solMarket(), tt.category)
			require.NoError(t, err)
			assertInt(t, tt.expected, got)
		})
	}
}

func TestSpotAssetValue_ConfidenceShrinksInitialOnly(t *testing.T) {
	oracle := solOracle()
	oracle.Confidence = PricePrecision // 1% of a $100 price

	initial, err := SpotAssetValue(sol(100), oracle, solMarket(), model.MarginInitial)
	require.NoError(t, err)
	assertInt(t, usd(7_920), initial)

	maint, err := SpotAssetValue(sol(100), oracle, solMarket(), model.MarginMaintenance)
	require.NoError(t, err)
	assertInt(t, usd(9_000), maint)

	oracle.Confidence = uint64(oracle.Price)
	wiped, err := SpotAssetValue(sol(100), oracle, solMarket(), model.MarginInitial)
	require.NoError(t, err)
	assert.True(t, wiped.IsZero())
}

func TestSpotLiabilityValue(t *testing.T) {
	tests := []struct {
		name           string
		category       model.MarginCategory
		buffer         uint32
		maxMarginRatio uint32
		expected       fixed.Int
	}{
		{"unweighted ignores floors", model.MarginNone, 500, 50_000, usd(10_000)},
		{"initial", model.MarginInitial, 0, 0, usd(12_000)},
		{"initial floored by max margin ratio", model.MarginInitial, 0, 15_000, usd(15_000)},
		{"maintenance ignores max margin ratio", model.MarginMaintenance, 0, 15_000, usd(11_000)},
		{"maintenance with liquidation buffer", model.MarginMaintenance, 500, 0, usd(11_500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SpotLiabilityValue(sol(100), solOracle(), solMarket(), tt.category, tt.buffer, tt.maxMarginRatio)
			require.NoError(t, err)
			assertInt(t, tt.expected, got)
		})
	}
}

func TestQuoteLiabilityValue(t *testing.T) {
	got, err := QuoteLiabilityValue(usd(100), model.MarginMaintenance, 20_000)
	require.NoError(t, err)
	assertInt(t, usd(100), got)

	got, err = QuoteLiabilityValue(usd(100), model.MarginInitial, 20_000)
	require.NoError(t, err)
	assertInt(t, usd(200), got)
}

// --- IMF size curves ---

func TestSizeDiscountAssetWeight(t *testing.T) {
	w, err := SizeDiscountAssetWeight(sol(1_000), 0, 8_000)
	require.NoError(t, err)
	assertInt(t, fixed.New(8_000), w)

	w, err = SizeDiscountAssetWeight(sol(1_000), 100_000, 8_000)
	require.NoError(t, err)
	assertInt(t, fixed.New(2_642), w)

	small, err := SizeDiscountAssetWeight(sol(1), 100_000, 8_000)
	require.NoError(t, err)
	assert.False(t, small.LessThan(w), "discount must not grow as size shrinks")
}

func TestSizePremiumLiabilityWeight(t *testing.T) {
	w, err := SizePremiumLiabilityWeight(sol(1_000), 0, 12_000, SpotWeightPrecision)
	require.NoError(t, err)
	assertInt(t, fixed.New(12_000), w)

	w, err = SizePremiumLiabilityWeight(sol(1_000), 100_000, 12_000, SpotWeightPrecision)
	require.NoError(t, err)
	assertInt(t, fixed.New(41_222), w)

	tiny, err := SizePremiumLiabilityWeight(fixed.Zero, 100_000, 12_000, SpotWeightPrecision)
	require.NoError(t, err)
	assertInt(t, fixed.New(12_000), tiny)
}

// --- Worst case ---

func TestWorstCaseTokenAmounts_Borrow(t *testing.T) {
	tests := []struct {
		name          string
		bids, asks    int64
		expectedToken fixed.Int
		expectedQuote fixed.Int
	}{
		{"no orders", 0, 0, sol(-100), fixed.Zero},
		{"bid reduces borrow", 40_000_000_000, 0, sol(-60), usd(-4_000)},
		{"ask deepens borrow", 0, -40_000_000_000, sol(-140), usd(4_000)},
		{"both sides, asks worse", 40_000_000_000, -40_000_000_000, sol(-140), usd(4_000)},
		{"both sides, bids worse", 300_000_000_000, -10_000_000_000, sol(200), usd(-30_000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := &model.SpotPosition{
				MarketIndex:   1,
				ScaledBalance: 100 * SpotBalancePrecision,
				BalanceType:   model.Borrow,
				OpenBids:      tt.bids,
				OpenAsks:      tt.asks,
			}
			token, quote, err := WorstCaseTokenAmounts(pos, solMarket(), solOracle())
			require.NoError(t, err)
			assertInt(t, tt.expectedToken, token)
			assertInt(t, tt.expectedQuote, quote)
		})
	}
}

func TestWorstCaseTokenAmounts_DepositWithBid(t *testing.T) {
	pos := &model.SpotPosition{
		MarketIndex:   1,
		ScaledBalance: 100 * SpotBalancePrecision,
		BalanceType:   model.Deposit,
		OpenOrders:    1,
		OpenBids:      40_000_000_000,
	}
	token, quote, err := WorstCaseTokenAmounts(pos, solMarket(), solOracle())
	require.NoError(t, err)
	assertInt(t, sol(140), token)
	assertInt(t, usd(-4_000), quote)
}

func TestWorstCaseBaseAssetAmount(t *testing.T) {
	tests := []struct {
		name             string
		base, bids, asks int64
		expected         int64
	}{
		{"resting only", 5_000_000_000, 0, 0, 5_000_000_000},
		{"bids extend long", 5_000_000_000, 3_000_000_000, -10_000_000_000, 8_000_000_000},
		{"asks flip short", 5_000_000_000, 1_000_000_000, -12_000_000_000, -7_000_000_000},
		{"tie resolves to asks", 0, 2_000_000_000, -2_000_000_000, -2_000_000_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WorstCaseBaseAssetAmount(&model.PerpPosition{
				BaseAssetAmount: tt.base,
				OpenBids:        tt.bids,
				OpenAsks:        tt.asks,
			})
			require.NoError(t, err)
			assertInt(t, fixed.New(tt.expected), got)
		})
	}
}

// --- Perps ---

func solPerp() *model.PerpMarket {
	return &model.PerpMarket{
		MarketIndex:            0,
		Oracle:                 "sol-oracle",
		MarginRatioInitial:     1_000,
		MarginRatioMaintenance: 500,
	}
}

func TestPerpPositionValue(t *testing.T) {
	pos := &model.PerpPosition{BaseAssetAmount: 5_000_000_000, OpenBids: 5_000_000_000, OpenOrders: 1}

	tests := []struct {
		name           string
		category       model.MarginCategory
		buffer         uint32
		maxMarginRatio uint32
		openOrders     bool
		expected       fixed.Int
	}{
		{"notional", model.MarginNone, 0, 0, false, usd(500)},
		{"notional with open orders", model.MarginNone, 0, 0, true, usd(1_000)},
		{"initial", model.MarginInitial, 0, 0, false, usd(50)},
		{"initial floored", model.MarginInitial, 0, 2_000, false, usd(100)},
		{"maintenance", model.MarginMaintenance, 0, 2_000, false, usd(25)},
		{"maintenance with buffer", model.MarginMaintenance, 100, 0, false, usd(30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PerpPositionValue(solPerp(), pos, solOracle(), tt.category, tt.buffer, tt.maxMarginRatio, tt.openOrders)
			require.NoError(t, err)
			assertInt(t, tt.expected, got)
		})
	}
}

func TestPositionUnrealizedPnL(t *testing.T) {
	oracle := &model.OraclePrice{Price: 110 * PricePrecision}

	long := &model.PerpPosition{BaseAssetAmount: 5_000_000_000, QuoteAssetAmount: -500 * QuotePrecision}
	got, err := PositionUnrealizedPnL(solPerp(), long, oracle, false)
	require.NoError(t, err)
	assertInt(t, usd(50), got)

	short := &model.PerpPosition{BaseAssetAmount: -5_000_000_000, QuoteAssetAmount: 500 * QuotePrecision}
	got, err = PositionUnrealizedPnL(solPerp(), short, oracle, false)
	require.NoError(t, err)
	assertInt(t, usd(-50), got)
}

func TestFundingPnL(t *testing.T) {
	m := solPerp()
	m.CumulativeFundingRateLong = fixed.New(PricePrecision * FundingRateBuffer)  // $1 per base unit
	m.CumulativeFundingRateShort = fixed.New(PricePrecision * FundingRateBuffer) // $1 per base unit

	long := &model.PerpPosition{BaseAssetAmount: 5_000_000_000}
	got, err := FundingPnL(m, long)
	require.NoError(t, err)
	assertInt(t, usd(-5), got)

	short := &model.PerpPosition{BaseAssetAmount: -5_000_000_000}
	got, err = FundingPnL(m, short)
	require.NoError(t, err)
	assertInt(t, usd(5), got)

	withFunding, err := PositionUnrealizedPnL(m, long, solOracle(), true)
	require.NoError(t, err)
	assertInt(t, usd(495), withFunding)
}

func TestMarketMarginRatio_RequiresCategory(t *testing.T) {
	_, err := MarketMarginRatio(solPerp(), sol(1), model.MarginNone)
	assert.ErrorIs(t, err, ErrUnknownMarginCategory)
}
