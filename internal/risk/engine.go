// Package risk aggregates position valuations into account-level margin
// metrics: collateral, margin requirement, free collateral, leverage and
// liquidation eligibility.
//
// Every method is a stateless recomputation over the Provider it was built
// with. Values are fixed.Int in QuotePrecision unless noted otherwise.
package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/risk-engine/internal/fixed"
	"github.com/atmx/risk-engine/internal/margin"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/snapshot"
)

// ErrUnsupportedOption is returned for a parameter combination the engine
// does not compute, such as margin-weighted unrealized pnl.
var ErrUnsupportedOption = errors.New("risk: unsupported option")

// Options narrows and weights an aggregation. The zero value sums every
// position, unweighted, without open orders.
type Options struct {
	// Market restricts the sum to one market index when non-nil.
	Market *uint16

	Category          model.MarginCategory
	LiquidationBuffer uint32
	IncludeOpenOrders bool
	WithFunding       bool
}

// Market returns a filter for one market index.
func Market(index uint16) *uint16 { return &index }

func (o Options) skip(index uint16) bool {
	return o.Market != nil && *o.Market != index
}

// Engine computes risk metrics for the account a Provider serves.
type Engine struct {
	provider snapshot.Provider
}

// NewEngine creates an engine over p.
func NewEngine(p snapshot.Provider) *Engine {
	return &Engine{provider: p}
}

// Provider returns the provider the engine reads.
func (e *Engine) Provider() snapshot.Provider { return e.provider }

// Refresh refreshes a cached provider. It is a no-op in live mode.
func (e *Engine) Refresh(ctx context.Context) error {
	if r, ok := e.provider.(snapshot.Refresher); ok {
		return r.Refresh(ctx)
	}
	return nil
}

// pinned returns an engine over the cache's current snapshot so one
// operation never mixes two refreshes. Other providers are used as is.
func (e *Engine) pinned() (*Engine, error) {
	c, ok := e.provider.(*snapshot.Cache)
	if !ok {
		return e, nil
	}
	s, err := c.Current()
	if err != nil {
		return nil, err
	}
	return NewEngine(s), nil
}

// SpotMarketLiability sums the liability value of borrow-side spot
// exposure. A cash borrow counts at full weight, floored by the account's
// max margin ratio under Initial. With open orders, negative worst-case
// token and quote amounts are folded in.
func (e *Engine) SpotMarketLiability(ctx context.Context, opts Options) (fixed.Int, error) {
	e, err := e.pinned()
	if err != nil {
		return fixed.Int{}, err
	}
	acct, err := e.provider.Account(ctx)
	if err != nil {
		return fixed.Int{}, err
	}

	total := fixed.Zero
	for i := range acct.SpotPositions {
		p := &acct.SpotPositions[i]
		if p.IsAvailable() || opts.skip(p.MarketIndex) {
			continue
		}

		v, err := e.spotLiability(ctx, acct, p, opts)
		if err != nil {
			return fixed.Int{}, fmt.Errorf("spot liability market %d: %w", p.MarketIndex, err)
		}
		if total, err = total.Add(v); err != nil {
			return fixed.Int{}, err
		}
	}
	return total, nil
}

func (e *Engine) spotLiability(ctx context.Context, acct *model.Account, p *model.SpotPosition, opts Options) (fixed.Int, error) {
	m, err := e.provider.SpotMarket(ctx, p.MarketIndex)
	if err != nil {
		return fixed.Int{}, err
	}

	if p.MarketIndex == margin.QuoteSpotMarketIndex {
		if p.BalanceType != model.Borrow {
			return fixed.Zero, nil
		}
		amount, err := margin.TokenAmount(p.ScaledBalance, m, p.BalanceType)
		if err != nil {
			return fixed.Int{}, err
		}
		return margin.QuoteLiabilityValue(amount, opts.Category, acct.MaxMarginRatio)
	}

	oracle, err := e.provider.OraclePrice(ctx, m.Oracle)
	if err != nil {
		return fixed.Int{}, err
	}

	if !opts.IncludeOpenOrders {
		if p.BalanceType != model.Borrow {
			return fixed.Zero, nil
		}
		amount, err := margin.TokenAmount(p.ScaledBalance, m, p.BalanceType)
		if err != nil {
			return fixed.Int{}, err
		}
		return margin.SpotLiabilityValue(amount, oracle, m, opts.Category, opts.LiquidationBuffer, acct.MaxMarginRatio)
	}

	token, quote, err := margin.WorstCaseTokenAmounts(p, m, oracle)
	if err != nil {
		return fixed.Int{}, err
	}

	total := fixed.Zero
	if token.Sign() < 0 {
		v, err := margin.SpotLiabilityValue(token.Abs(), oracle, m, opts.Category, opts.LiquidationBuffer, acct.MaxMarginRatio)
		if err != nil {
			return fixed.Int{}, err
		}
		total = v
	}
	if quote.Sign() < 0 {
		v, err := margin.QuoteLiabilityValue(quote.Abs(), opts.Category, acct.MaxMarginRatio)
		if err != nil {
			return fixed.Int{}, err
		}
		if total, err = total.Add(v); err != nil {
			return fixed.Int{}, err
		}
	}
	return total, nil
}

// SpotMarketAssetValue sums the asset value of deposit-side spot exposure.
// Cash deposits count at face token amount. With open orders, positive
// worst-case token and quote amounts are folded in.
func (e *Engine) SpotMarketAssetValue(ctx context.Context, opts Options) (fixed.Int, error) {
	e, err := e.pinned()
	if err != nil {
		return fixed.Int{}, err
	}
	acct, err := e.provider.Account(ctx)
	if err != nil {
		return fixed.Int{}, err
	}

	total := fixed.Zero
	for i := range acct.SpotPositions {
		p := &acct.SpotPositions[i]
		if p.IsAvailable() || opts.skip(p.MarketIndex) {
			continue
		}

		v, err := e.spotAsset(ctx, p, opts)
		if err != nil {
			return fixed.Int{}, fmt.Errorf("spot asset market %d: %w", p.MarketIndex, err)
		}
		if total, err = total.Add(v); err != nil {
			return fixed.Int{}, err
		}
	}
	return total, nil
}

func (e *Engine) spotAsset(ctx context.Context, p *model.SpotPosition, opts Options) (fixed.Int, error) {
	m, err := e.provider.SpotMarket(ctx, p.MarketIndex)
	if err != nil {
		return fixed.Int{}, err
	}

	if p.MarketIndex == margin.QuoteSpotMarketIndex {
		if p.BalanceType != model.Deposit {
			return fixed.Zero, nil
		}
		return margin.TokenAmount(p.ScaledBalance, m, p.BalanceType)
	}

	oracle, err := e.provider.OraclePrice(ctx, m.Oracle)
	if err != nil {
		return fixed.Int{}, err
	}

	if !opts.IncludeOpenOrders {
		if p.BalanceType != model.Deposit {
			return fixed.Zero, nil
		}
		amount, err := margin.TokenAmount(p.ScaledBalance, m, p.BalanceType)
		if err != nil {
			return fixed.Int{}, err
		}
		return margin.SpotAssetValue(amount, oracle, m, opts.Category)
	}

	token, quote, err := margin.WorstCaseTokenAmounts(p, m, oracle)
	if err != nil {
		return fixed.Int{}, err
	}

	total := fixed.Zero
	if token.Sign() > 0 {
		if total, err = margin.SpotAssetValue(token, oracle, m, opts.Category); err != nil {
			return fixed.Int{}, err
		}
	}
	if quote.Sign() > 0 {
		if total, err = total.Add(quote); err != nil {
			return fixed.Int{}, err
		}
	}
	return total, nil
}

// TotalPerpPosition sums perp notional or, with a category, perp margin
// requirement.
func (e *Engine) TotalPerpPosition(ctx context.Context, opts Options) (fixed.Int, error) {
	e, err := e.pinned()
	if err != nil {
		return fixed.Int{}, err
	}
	acct, err := e.provider.Account(ctx)
	if err != nil {
		return fixed.Int{}, err
	}

	total := fixed.Zero
	for i := range acct.PerpPositions {
		p := &acct.PerpPositions[i]
		if p.IsAvailable() || opts.skip(p.MarketIndex) {
			continue
		}

		m, oracle, err := e.perpMarket(ctx, p.MarketIndex)
		if err != nil {
			return fixed.Int{}, err
		}
		v, err := margin.PerpPositionValue(m, p, oracle, opts.Category, opts.LiquidationBuffer, acct.MaxMarginRatio, opts.IncludeOpenOrders)
		if err != nil {
			return fixed.Int{}, fmt.Errorf("perp value market %d: %w", p.MarketIndex, err)
		}
		if total, err = total.Add(v); err != nil {
			return fixed.Int{}, err
		}
	}
	return total, nil
}

// UnrealizedPnL sums perp pnl marked to the oracle, optionally with
// funding. A margin category is not supported and fails before any read.
func (e *Engine) UnrealizedPnL(ctx context.Context, opts Options) (fixed.Int, error) {
	if opts.Category != model.MarginNone {
		return fixed.Int{}, fmt.Errorf("%w: margin-weighted unrealized pnl (%s)", ErrUnsupportedOption, opts.Category)
	}
	e, err := e.pinned()
	if err != nil {
		return fixed.Int{}, err
	}

	acct, err := e.provider.Account(ctx)
	if err != nil {
		return fixed.Int{}, err
	}

	total := fixed.Zero
	for i := range acct.PerpPositions {
		p := &acct.PerpPositions[i]
		if p.IsAvailable() || opts.skip(p.MarketIndex) {
			continue
		}

		m, oracle, err := e.perpMarket(ctx, p.MarketIndex)
		if err != nil {
			return fixed.Int{}, err
		}
		pnl, err := margin.PositionUnrealizedPnL(m, p, oracle, opts.WithFunding)
		if err != nil {
			return fixed.Int{}, fmt.Errorf("perp pnl market %d: %w", p.MarketIndex, err)
		}
		if total, err = total.Add(pnl); err != nil {
			return fixed.Int{}, err
		}
	}
	return total, nil
}

func (e *Engine) perpMarket(ctx context.Context, index uint16) (*model.PerpMarket, *model.OraclePrice, error) {
	m, err := e.provider.PerpMarket(ctx, index)
	if err != nil {
		return nil, nil, err
	}
	oracle, err := e.provider.OraclePrice(ctx, m.Oracle)
	if err != nil {
		return nil, nil, err
	}
	return m, oracle, nil
}

// TotalCollateral is spot asset value (with open orders) plus unweighted
// unrealized pnl with funding.
func (e *Engine) TotalCollateral(ctx context.Context, category model.MarginCategory) (fixed.Int, error) {
	e, err := e.pinned()
	if err != nil {
		return fixed.Int{}, err
	}
	spot, err := e.SpotMarketAssetValue(ctx, Options{Category: category, IncludeOpenOrders: true})
	if err != nil {
		return fixed.Int{}, err
	}
	pnl, err := e.UnrealizedPnL(ctx, Options{WithFunding: true})
	if err != nil {
		return fixed.Int{}, err
	}
	return spot.Add(pnl)
}

// MarginRequirement is perp margin plus spot liability, both with open
// orders.
func (e *Engine) MarginRequirement(ctx context.Context, category model.MarginCategory, liquidationBuffer uint32) (fixed.Int, error) {
	e, err := e.pinned()
	if err != nil {
		return fixed.Int{}, err
	}
	opts := Options{Category: category, LiquidationBuffer: liquidationBuffer, IncludeOpenOrders: true}
	perp, err := e.TotalPerpPosition(ctx, opts)
	if err != nil {
		return fixed.Int{}, err
	}
	spot, err := e.SpotMarketLiability(ctx, opts)
	if err != nil {
		return fixed.Int{}, err
	}
	return perp.Add(spot)
}

// FreeCollateral is total collateral above the initial margin requirement,
// floored at zero.
func (e *Engine) FreeCollateral(ctx context.Context) (fixed.Int, error) {
	e, err := e.pinned()
	if err != nil {
		return fixed.Int{}, err
	}
	collateral, err := e.TotalCollateral(ctx, model.MarginNone)
	if err != nil {
		return fixed.Int{}, err
	}
	required, err := e.MarginRequirement(ctx, model.MarginInitial, 0)
	if err != nil {
		return fixed.Int{}, err
	}
	free, err := collateral.Sub(required)
	if err != nil {
		return fixed.Int{}, err
	}
	return fixed.Max(free, fixed.Zero), nil
}

// Leverage is margin requirement over total collateral in
// margin.LeveragePrecision (basis points). It is 0 when either is 0.
func (e *Engine) Leverage(ctx context.Context, category model.MarginCategory) (fixed.Int, error) {
	e, err := e.pinned()
	if err != nil {
		return fixed.Int{}, err
	}
	required, err := e.MarginRequirement(ctx, category, 0)
	if err != nil {
		return fixed.Int{}, err
	}
	collateral, err := e.TotalCollateral(ctx, category)
	if err != nil {
		return fixed.Int{}, err
	}
	return leverage(required, collateral)
}

func leverage(required, collateral fixed.Int) (fixed.Int, error) {
	if required.IsZero() || collateral.IsZero() {
		return fixed.Zero, nil
	}
	return fixed.MulDiv(required, fixed.New(margin.LeveragePrecision), collateral)
}

// CanBeLiquidated reports whether total collateral is below the
// maintenance requirement. Accounts already being liquidated carry the
// global liquidation margin buffer.
func (e *Engine) CanBeLiquidated(ctx context.Context) (bool, error) {
	e, err := e.pinned()
	if err != nil {
		return false, err
	}
	collateral, err := e.TotalCollateral(ctx, model.MarginNone)
	if err != nil {
		return false, err
	}
	buffer, err := e.liquidationBuffer(ctx)
	if err != nil {
		return false, err
	}
	required, err := e.MarginRequirement(ctx, model.MarginMaintenance, buffer)
	if err != nil {
		return false, err
	}
	return collateral.LessThan(required), nil
}

func (e *Engine) liquidationBuffer(ctx context.Context) (uint32, error) {
	acct, err := e.provider.Account(ctx)
	if err != nil {
		return 0, err
	}
	if !acct.BeingLiquidated {
		return 0, nil
	}
	cfg, err := e.provider.Config(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.LiquidationMarginBufferRatio, nil
}

// UserSpotPosition returns the account's live spot position in a market,
// or nil.
func (e *Engine) UserSpotPosition(ctx context.Context, index uint16) (*model.SpotPosition, error) {
	e, err := e.pinned()
	if err != nil {
		return nil, err
	}
	acct, err := e.provider.Account(ctx)
	if err != nil {
		return nil, err
	}
	for i := range acct.SpotPositions {
		p := acct.SpotPositions[i]
		if p.MarketIndex == index && !p.IsAvailable() {
			return &p, nil
		}
	}
	return nil, nil
}

// UserPosition returns the account's live perp position in a market, or
// nil.
func (e *Engine) UserPosition(ctx context.Context, index uint16) (*model.PerpPosition, error) {
	e, err := e.pinned()
	if err != nil {
		return nil, err
	}
	acct, err := e.provider.Account(ctx)
	if err != nil {
		return nil, err
	}
	for i := range acct.PerpPositions {
		p := acct.PerpPositions[i]
		if p.MarketIndex == index && !p.IsAvailable() {
			return &p, nil
		}
	}
	return nil, nil
}
