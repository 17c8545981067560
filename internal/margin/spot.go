package margin

import (
	"fmt"

	"github.com/atmx/risk-engine/internal/fixed"
	"github.com/atmx/risk-engine/internal/model"
)

// TokenAmount converts a scaled balance into token precision using the
// market's cumulative interest index for the balance direction.
func TokenAmount(scaledBalance uint64, m *model.SpotMarket, bt model.BalanceType) (fixed.Int, error) {
	if m.Decimals > tokenPrecisionExponent {
		return fixed.Int{}, fmt.Errorf("%w: market %d has %d", ErrInvalidDecimals, m.MarketIndex, m.Decimals)
	}

	var interest fixed.Int
	switch bt {
	case model.Deposit:
		interest = m.CumulativeDepositInterest
	case model.Borrow:
		interest = m.CumulativeBorrowInterest
	default:
		return fixed.Int{}, fmt.Errorf("%w: %s", ErrUnknownBalanceType, bt)
	}

	precisionDecrease, err := fixed.Pow10(tokenPrecisionExponent - m.Decimals)
	if err != nil {
		return fixed.Int{}, err
	}
	return fixed.MulDiv(fixed.NewUint(scaledBalance), interest, precisionDecrease)
}

// SignedTokenAmount returns amount negated for borrows.
func SignedTokenAmount(amount fixed.Int, bt model.BalanceType) fixed.Int {
	if bt == model.Borrow {
		return amount.Neg()
	}
	return amount
}

// TokenValue prices a token amount in quote precision.
func TokenValue(amount fixed.Int, decimals uint32, oracle *model.OraclePrice) (fixed.Int, error) {
	if err := oracle.Validate(); err != nil {
		return fixed.Int{}, err
	}
	precision, err := fixed.Pow10(decimals)
	if err != nil {
		return fixed.Int{}, err
	}
	return fixed.MulDiv(amount, fixed.New(oracle.Price), precision)
}

// sizeInAMMPrecision rescales a token amount to BasePrecision, the unit the
// IMF size curves are calibrated in.
func sizeInAMMPrecision(amount fixed.Int, decimals uint32) (fixed.Int, error) {
	sizePrecision, err := fixed.Pow10(decimals)
	if err != nil {
		return fixed.Int{}, err
	}
	if sizePrecision.GreaterThan(basePrecision) {
		ratio, err := sizePrecision.Quo(basePrecision)
		if err != nil {
			return fixed.Int{}, err
		}
		return amount.Quo(ratio)
	}
	return fixed.MulDiv(amount, basePrecision, sizePrecision)
}

// sizeSqrt returns sqrt(size * 10 + 1), the IMF curve's size term.
func sizeSqrt(size fixed.Int) (fixed.Int, error) {
	x, err := size.Abs().Mul(fixed.New(10))
	if err != nil {
		return fixed.Int{}, err
	}
	if x, err = x.Add(fixed.New(1)); err != nil {
		return fixed.Int{}, err
	}
	return x.Sqrt()
}

// SizeDiscountAssetWeight lowers an asset weight as the position grows.
// A zero IMF factor disables the discount.
func SizeDiscountAssetWeight(size fixed.Int, imfFactor, assetWeight uint32) (fixed.Int, error) {
	weight := u32(assetWeight)
	if imfFactor == 0 {
		return weight, nil
	}

	root, err := sizeSqrt(size)
	if err != nil {
		return fixed.Int{}, err
	}
	scaled, err := fixed.MulDiv(root, u32(imfFactor), fixed.New(100_000))
	if err != nil {
		return fixed.Int{}, err
	}
	denom, err := spotIMFPrecision.Add(scaled)
	if err != nil {
		return fixed.Int{}, err
	}
	numerator := fixed.New(SpotIMFPrecision + SpotIMFPrecision/10)
	discounted, err := fixed.MulDiv(numerator, spotWeightPrecision, denom)
	if err != nil {
		return fixed.Int{}, err
	}
	return fixed.Min(weight, discounted), nil
}

// SizePremiumLiabilityWeight raises a liability weight (or margin ratio,
// given its precision) as the position grows. A zero IMF factor disables
// the premium.
func SizePremiumLiabilityWeight(size fixed.Int, imfFactor, liabilityWeight uint32, precision int64) (fixed.Int, error) {
	weight := u32(liabilityWeight)
	if imfFactor == 0 {
		return weight, nil
	}

	root, err := sizeSqrt(size)
	if err != nil {
		return fixed.Int{}, err
	}
	numerator := u32(liabilityWeight - liabilityWeight/5)
	denom := fixed.Max(fixed.New(100_000*SpotIMFPrecision/precision), spotIMFPrecision)
	premium, err := fixed.MulDiv(root, u32(imfFactor), denom)
	if err != nil {
		return fixed.Int{}, err
	}
	if premium, err = numerator.Add(premium); err != nil {
		return fixed.Int{}, err
	}
	return fixed.Max(weight, premium), nil
}

// ConfidenceAdjustedWeight shrinks a weight by the oracle's relative
// confidence width: weight * (price - conf) / price, floored at zero.
func ConfidenceAdjustedWeight(weight fixed.Int, oracle *model.OraclePrice) (fixed.Int, error) {
	if oracle.Confidence == 0 {
		return weight, nil
	}
	price := fixed.New(oracle.Price)
	conf := fixed.NewUint(oracle.Confidence)
	if conf.Cmp(price) >= 0 {
		return fixed.Zero, nil
	}
	remaining, err := price.Sub(conf)
	if err != nil {
		return fixed.Int{}, err
	}
	return fixed.MulDiv(weight, remaining, price)
}

// AssetWeight returns the spot asset weight in SpotWeightPrecision. Initial
// weights are size-discounted and shrunk by oracle confidence; maintenance
// weights are size-discounted only.
func AssetWeight(amount fixed.Int, oracle *model.OraclePrice, m *model.SpotMarket, category model.MarginCategory) (fixed.Int, error) {
	switch category {
	case model.MarginNone:
		return spotWeightPrecision, nil
	case model.MarginInitial, model.MarginMaintenance:
	default:
		return fixed.Int{}, fmt.Errorf("%w: %s", ErrUnknownMarginCategory, category)
	}

	size, err := sizeInAMMPrecision(amount, m.Decimals)
	if err != nil {
		return fixed.Int{}, err
	}

	if category == model.MarginMaintenance {
		return SizeDiscountAssetWeight(size, m.IMFFactor, m.MaintenanceAssetWeight)
	}
	weight, err := SizeDiscountAssetWeight(size, m.IMFFactor, m.InitialAssetWeight)
	if err != nil {
		return fixed.Int{}, err
	}
	if err := oracle.Validate(); err != nil {
		return fixed.Int{}, err
	}
	return ConfidenceAdjustedWeight(weight, oracle)
}

// LiabilityWeight returns the size-premium spot liability weight in
// SpotWeightPrecision.
func LiabilityWeight(amount fixed.Int, m *model.SpotMarket, category model.MarginCategory) (fixed.Int, error) {
	var base uint32
	switch category {
	case model.MarginNone:
		return spotWeightPrecision, nil
	case model.MarginInitial:
		base = m.InitialLiabilityWeight
	case model.MarginMaintenance:
		base = m.MaintenanceLiabilityWeight
	default:
		return fixed.Int{}, fmt.Errorf("%w: %s", ErrUnknownMarginCategory, category)
	}

	size, err := sizeInAMMPrecision(amount, m.Decimals)
	if err != nil {
		return fixed.Int{}, err
	}
	return SizePremiumLiabilityWeight(size, m.IMFFactor, base, SpotWeightPrecision)
}

// SpotAssetValue prices a deposit and, when a category is given, weights it.
func SpotAssetValue(amount fixed.Int, oracle *model.OraclePrice, m *model.SpotMarket, category model.MarginCategory) (fixed.Int, error) {
	value, err := TokenValue(amount, m.Decimals, oracle)
	if err != nil {
		return fixed.Int{}, err
	}
	if category == model.MarginNone {
		return value, nil
	}

	weight, err := AssetWeight(amount, oracle, m, category)
	if err != nil {
		return fixed.Int{}, err
	}
	return fixed.MulDiv(value, weight, spotWeightPrecision)
}

// SpotLiabilityValue prices a borrow and, when a category is given, weights
// it. Under Initial the weight is floored by maxMarginRatio; the
// liquidation buffer is added on top for accounts being liquidated.
func SpotLiabilityValue(
	amount fixed.Int,
	oracle *model.OraclePrice,
	m *model.SpotMarket,
	category model.MarginCategory,
	liquidationBuffer uint32,
	maxMarginRatio uint32,
) (fixed.Int, error) {
	value, err := TokenValue(amount, m.Decimals, oracle)
	if err != nil {
		return fixed.Int{}, err
	}
	if category == model.MarginNone {
		return value, nil
	}

	weight, err := LiabilityWeight(amount, m, category)
	if err != nil {
		return fixed.Int{}, err
	}
	if category == model.MarginInitial {
		weight = fixed.Max(weight, u32(maxMarginRatio))
	}
	if weight, err = weight.Add(u32(liquidationBuffer)); err != nil {
		return fixed.Int{}, err
	}
	return fixed.MulDiv(value, weight, spotWeightPrecision)
}

// QuoteLiabilityValue weights a cash amount owed: full weight, floored by
// maxMarginRatio under Initial.
func QuoteLiabilityValue(amount fixed.Int, category model.MarginCategory, maxMarginRatio uint32) (fixed.Int, error) {
	weight := spotWeightPrecision
	if category == model.MarginInitial {
		weight = fixed.Max(weight, u32(maxMarginRatio))
	}
	return fixed.MulDiv(amount, weight, spotWeightPrecision)
}
