// Package margin holds the pure valuation functions of the risk engine:
// token amounts, weighted spot values, perpetual notional and pnl, and the
// worst-case exposure of resting open orders.
//
// Every function mirrors the ledger program's integer arithmetic: values are
// fixed.Int, products are overflow-checked and divisions truncate toward
// zero in the same order the ledger performs them.
package margin

import (
	"errors"

	"github.com/atmx/risk-engine/internal/fixed"
)

// Precision constants of the ledger program.
const (
	PricePrecision                  = 1_000_000
	QuotePrecision                  = 1_000_000
	BasePrecision                   = 1_000_000_000
	AMMToQuotePrecisionRatio        = BasePrecision / QuotePrecision
	SpotBalancePrecision            = 1_000_000_000
	SpotCumulativeInterestPrecision = 10_000_000_000
	SpotWeightPrecision             = 10_000
	MarginPrecision                 = 10_000
	SpotIMFPrecision                = 1_000_000
	FundingRateBuffer               = 1_000

	// QuoteSpotMarketIndex is the cash asset. It is never priced by an oracle.
	QuoteSpotMarketIndex = 0

	// LeveragePrecision expresses leverage in basis points.
	LeveragePrecision = 10_000

	// tokenPrecisionExponent is the exponent of SpotBalancePrecision *
	// SpotCumulativeInterestPrecision; dividing by 10^(19 - decimals)
	// lands a scaled balance in token precision.
	tokenPrecisionExponent = 19
)

var (
	// ErrUnknownBalanceType is returned for a balance direction outside the enum.
	ErrUnknownBalanceType = errors.New("margin: unknown balance type")

	// ErrUnknownMarginCategory is returned for a category outside the enum,
	// or MarginNone where a category is required.
	ErrUnknownMarginCategory = errors.New("margin: unknown margin category")

	// ErrInvalidDecimals is returned for a market with more token decimals
	// than the balance precision can express.
	ErrInvalidDecimals = errors.New("margin: market decimals out of range")
)

var (
	basePrecision       = fixed.New(BasePrecision)
	spotWeightPrecision = fixed.New(SpotWeightPrecision)
	marginPrecision     = fixed.New(MarginPrecision)
	spotIMFPrecision    = fixed.New(SpotIMFPrecision)
	notionalDivisor     = fixed.New(AMMToQuotePrecisionRatio * PricePrecision)
	fundingDivisor      = fixed.New(BasePrecision * FundingRateBuffer)
)

func u32(x uint32) fixed.Int { return fixed.NewUint(uint64(x)) }
