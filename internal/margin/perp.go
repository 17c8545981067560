package margin

import (
	"fmt"

	"github.com/atmx/risk-engine/internal/fixed"
	"github.com/atmx/risk-engine/internal/model"
)

// MarketMarginRatio returns the perp margin ratio in MarginPrecision for a
// position of the given absolute base size.
func MarketMarginRatio(m *model.PerpMarket, size fixed.Int, category model.MarginCategory) (fixed.Int, error) {
	switch category {
	case model.MarginInitial:
		return SizePremiumLiabilityWeight(size, m.IMFFactor, m.MarginRatioInitial, MarginPrecision)
	case model.MarginMaintenance:
		return SizePremiumLiabilityWeight(size, m.IMFFactor, m.MarginRatioMaintenance, MarginPrecision)
	default:
		return fixed.Int{}, fmt.Errorf("%w: %s", ErrUnknownMarginCategory, category)
	}
}

// baseAssetValue is |base| * price in quote precision.
func baseAssetValue(base fixed.Int, oracle *model.OraclePrice) (fixed.Int, error) {
	if err := oracle.Validate(); err != nil {
		return fixed.Int{}, err
	}
	return fixed.MulDiv(base.Abs(), fixed.New(oracle.Price), notionalDivisor)
}

// PerpPositionValue returns the notional of a perp position and, when a
// category is given, the margin it requires. The ratio is floored by
// maxMarginRatio under Initial and raised by liquidationBuffer.
func PerpPositionValue(
	m *model.PerpMarket,
	p *model.PerpPosition,
	oracle *model.OraclePrice,
	category model.MarginCategory,
	liquidationBuffer uint32,
	maxMarginRatio uint32,
	includeOpenOrders bool,
) (fixed.Int, error) {
	base := fixed.New(p.BaseAssetAmount)
	if includeOpenOrders {
		var err error
		if base, err = WorstCaseBaseAssetAmount(p); err != nil {
			return fixed.Int{}, err
		}
	}

	value, err := baseAssetValue(base, oracle)
	if err != nil {
		return fixed.Int{}, err
	}
	if category == model.MarginNone {
		return value, nil
	}

	ratio, err := MarketMarginRatio(m, base.Abs(), category)
	if err != nil {
		return fixed.Int{}, err
	}
	if category == model.MarginInitial {
		ratio = fixed.Max(ratio, u32(maxMarginRatio))
	}
	if ratio, err = ratio.Add(u32(liquidationBuffer)); err != nil {
		return fixed.Int{}, err
	}
	return fixed.MulDiv(value, ratio, marginPrecision)
}

// FundingPnL is the funding accrued since the position last settled, in
// quote precision. Positive values are owed to the account.
func FundingPnL(m *model.PerpMarket, p *model.PerpPosition) (fixed.Int, error) {
	if p.BaseAssetAmount == 0 {
		return fixed.Zero, nil
	}

	cumulative := m.CumulativeFundingRateLong
	if p.BaseAssetAmount < 0 {
		cumulative = m.CumulativeFundingRateShort
	}
	delta, err := fixed.New(p.LastCumulativeFundingRate).Sub(cumulative)
	if err != nil {
		return fixed.Int{}, err
	}
	return fixed.MulDiv(delta, fixed.New(p.BaseAssetAmount), fundingDivisor)
}

// PositionUnrealizedPnL marks a perp position to the oracle price:
// signed base value plus quote asset amount, optionally with funding.
func PositionUnrealizedPnL(m *model.PerpMarket, p *model.PerpPosition, oracle *model.OraclePrice, withFunding bool) (fixed.Int, error) {
	base := fixed.New(p.BaseAssetAmount)
	value, err := baseAssetValue(base, oracle)
	if err != nil {
		return fixed.Int{}, err
	}
	if base.Sign() < 0 {
		value = value.Neg()
	}

	pnl, err := value.Add(fixed.New(p.QuoteAssetAmount))
	if err != nil {
		return fixed.Int{}, err
	}
	if !withFunding {
		return pnl, nil
	}

	funding, err := FundingPnL(m, p)
	if err != nil {
		return fixed.Int{}, err
	}
	return pnl.Add(funding)
}
