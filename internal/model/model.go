// Package model defines the ledger snapshot types the risk engine reads.
// All quantities are integers in the ledger's fixed-point precisions; values
// that the ledger stores as 128-bit integers use fixed.Int.
package model

import (
	"errors"
	"fmt"

	"github.com/atmx/risk-engine/internal/fixed"
)

var (
	// ErrInvalidOraclePrice is returned for an observation with a
	// non-positive price.
	ErrInvalidOraclePrice = errors.New("model: oracle price must be positive")

	// ErrDuplicatePosition is returned when an account holds more than one
	// live position for the same market index.
	ErrDuplicatePosition = errors.New("model: duplicate position for market")
)

// AccountID identifies one subaccount of an authority.
type AccountID struct {
	Authority    string `json:"authority"`
	SubAccountID uint16 `json:"sub_account_id"`
}

func (id AccountID) String() string {
	return fmt.Sprintf("%s/%d", id.Authority, id.SubAccountID)
}

// OracleRef is the address of a price feed.
type OracleRef string

// GlobalConfig holds protocol-wide parameters.
type GlobalConfig struct {
	NumberOfSpotMarkets          uint16 `json:"number_of_spot_markets"`
	NumberOfPerpMarkets          uint16 `json:"number_of_perp_markets"`
	LiquidationMarginBufferRatio uint32 `json:"liquidation_margin_buffer_ratio"` // MarginPrecision
}

// SpotMarket holds one spot asset's parameters. Weights use
// SpotWeightPrecision; interest indices use SpotCumulativeInterestPrecision.
type SpotMarket struct {
	MarketIndex                uint16    `json:"market_index"`
	Oracle                     OracleRef `json:"oracle"`
	Decimals                   uint32    `json:"decimals"`
	CumulativeDepositInterest  fixed.Int `json:"cumulative_deposit_interest"`
	CumulativeBorrowInterest   fixed.Int `json:"cumulative_borrow_interest"`
	InitialAssetWeight         uint32    `json:"initial_asset_weight"`
	MaintenanceAssetWeight     uint32    `json:"maintenance_asset_weight"`
	InitialLiabilityWeight     uint32    `json:"initial_liability_weight"`
	MaintenanceLiabilityWeight uint32    `json:"maintenance_liability_weight"`
	IMFFactor                  uint32    `json:"imf_factor"`
}

// PerpMarket holds one perpetual market's parameters. Margin ratios use
// MarginPrecision; funding rates use PricePrecision * FundingRateBuffer.
type PerpMarket struct {
	MarketIndex                uint16    `json:"market_index"`
	Oracle                     OracleRef `json:"oracle"`
	MarginRatioInitial         uint32    `json:"margin_ratio_initial"`
	MarginRatioMaintenance     uint32    `json:"margin_ratio_maintenance"`
	IMFFactor                  uint32    `json:"imf_factor"`
	CumulativeFundingRateLong  fixed.Int `json:"cumulative_funding_rate_long"`
	CumulativeFundingRateShort fixed.Int `json:"cumulative_funding_rate_short"`
}

// OraclePrice is one price observation in PricePrecision.
type OraclePrice struct {
	Price      int64  `json:"price"`
	Confidence uint64 `json:"confidence"`
	Slot       uint64 `json:"slot"`
}

// QuoteOraclePrice is the constant price of the quote (cash) asset: 1.0.
var QuoteOraclePrice = OraclePrice{Price: 1_000_000}

// Validate rejects observations the engine cannot price with.
func (o *OraclePrice) Validate() error {
	if o.Price <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidOraclePrice, o.Price)
	}
	return nil
}

// SpotPosition is an account's exposure in one spot market. Open order
// quantities follow the ledger's sign convention: bids >= 0, asks <= 0.
type SpotPosition struct {
	MarketIndex   uint16      `json:"market_index"`
	ScaledBalance uint64      `json:"scaled_balance"`
	BalanceType   BalanceType `json:"balance_type"`
	OpenOrders    uint8       `json:"open_orders"`
	OpenBids      int64       `json:"open_bids"`
	OpenAsks      int64       `json:"open_asks"`
}

// IsAvailable reports whether the slot is empty.
func (p *SpotPosition) IsAvailable() bool {
	return p.ScaledBalance == 0 && p.OpenOrders == 0
}

// PerpPosition is an account's exposure in one perpetual market. Base
// amounts use BasePrecision, quote amounts QuotePrecision.
type PerpPosition struct {
	MarketIndex               uint16 `json:"market_index"`
	BaseAssetAmount           int64  `json:"base_asset_amount"`
	QuoteAssetAmount          int64  `json:"quote_asset_amount"`
	LastCumulativeFundingRate int64  `json:"last_cumulative_funding_rate"`
	OpenOrders                uint8  `json:"open_orders"`
	OpenBids                  int64  `json:"open_bids"`
	OpenAsks                  int64  `json:"open_asks"`
	LPShares                  uint64 `json:"lp_shares"`
}

// IsAvailable reports whether the slot is empty. A position with no base
// but unsettled quote is still live.
func (p *PerpPosition) IsAvailable() bool {
	return p.BaseAssetAmount == 0 &&
		p.QuoteAssetAmount == 0 &&
		p.OpenOrders == 0 &&
		p.LPShares == 0
}

// Account is the subaccount under analysis.
type Account struct {
	ID              AccountID      `json:"id"`
	SpotPositions   []SpotPosition `json:"spot_positions"`
	PerpPositions   []PerpPosition `json:"perp_positions"`
	MaxMarginRatio  uint32         `json:"max_margin_ratio"` // MarginPrecision
	BeingLiquidated bool           `json:"being_liquidated"`
}

// Validate checks that no market index has two live positions.
func (a *Account) Validate() error {
	seen := make(map[uint16]bool, len(a.SpotPositions))
	for i := range a.SpotPositions {
		p := &a.SpotPositions[i]
		if p.IsAvailable() {
			continue
		}
		if seen[p.MarketIndex] {
			return fmt.Errorf("%w: spot %d", ErrDuplicatePosition, p.MarketIndex)
		}
		seen[p.MarketIndex] = true
	}

	clear(seen)
	for i := range a.PerpPositions {
		p := &a.PerpPositions[i]
		if p.IsAvailable() {
			continue
		}
		if seen[p.MarketIndex] {
			return fmt.Errorf("%w: perp %d", ErrDuplicatePosition, p.MarketIndex)
		}
		seen[p.MarketIndex] = true
	}
	return nil
}

// Clone returns a deep copy so callers can hand out accounts without
// sharing position slices.
func (a *Account) Clone() *Account {
	c := *a
	c.SpotPositions = append([]SpotPosition(nil), a.SpotPositions...)
	c.PerpPositions = append([]PerpPosition(nil), a.PerpPositions...)
	return &c
}
