package margin

import (
	"github.com/atmx/risk-engine/internal/fixed"
	"github.com/atmx/risk-engine/internal/model"
)

// WorstCaseTokenAmounts returns the signed token and quote exposure of a
// spot position if one side of its resting orders filled completely at the
// oracle price.
//
// With orders on one side only, that side fills. With orders on both sides
// the side leaving the larger absolute token exposure fills (bids on a
// tie). A bid fill costs quote (negative), an ask fill pays quote
// (positive). Negative token means a net borrow.
func WorstCaseTokenAmounts(p *model.SpotPosition, m *model.SpotMarket, oracle *model.OraclePrice) (token, quote fixed.Int, err error) {
	amount, err := TokenAmount(p.ScaledBalance, m, p.BalanceType)
	if err != nil {
		return fixed.Int{}, fixed.Int{}, err
	}
	signed := SignedTokenAmount(amount, p.BalanceType)

	bids, asks := fixed.New(p.OpenBids), fixed.New(p.OpenAsks)
	if bids.IsZero() && asks.IsZero() {
		return signed, fixed.Zero, nil
	}

	allBids, err := signed.Add(bids)
	if err != nil {
		return fixed.Int{}, fixed.Int{}, err
	}
	allAsks, err := signed.Add(asks)
	if err != nil {
		return fixed.Int{}, fixed.Int{}, err
	}

	fillAsks := bids.IsZero() || (!asks.IsZero() && allAsks.Abs().GreaterThan(allBids.Abs()))
	if fillAsks {
		value, err := TokenValue(asks, m.Decimals, oracle)
		if err != nil {
			return fixed.Int{}, fixed.Int{}, err
		}
		return allAsks, value.Neg(), nil
	}

	value, err := TokenValue(bids, m.Decimals, oracle)
	if err != nil {
		return fixed.Int{}, fixed.Int{}, err
	}
	return allBids, value.Neg(), nil
}

// WorstCaseBaseAssetAmount returns the perp base amount after whichever side
// of resting orders produces the larger absolute exposure.
func WorstCaseBaseAssetAmount(p *model.PerpPosition) (fixed.Int, error) {
	base := fixed.New(p.BaseAssetAmount)
	allBids, err := base.Add(fixed.New(p.OpenBids))
	if err != nil {
		return fixed.Int{}, err
	}
	allAsks, err := base.Add(fixed.New(p.OpenAsks))
	if err != nil {
		return fixed.Int{}, err
	}
	if allBids.Abs().GreaterThan(allAsks.Abs()) {
		return allBids, nil
	}
	return allAsks, nil
}
