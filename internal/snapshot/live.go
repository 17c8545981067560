package snapshot

import (
	"context"
	"strconv"

	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
)

// Live is a Provider that fetches from the ledger on every call. Two calls
// may observe different ledger slots.
type Live struct {
	ledger ledger.Ledger
	id     model.AccountID
}

// NewLive creates a live provider for one account.
func NewLive(l ledger.Ledger, id model.AccountID) *Live {
	return &Live{ledger: l, id: id}
}

func (p *Live) Config(ctx context.Context) (*model.GlobalConfig, error) {
	return fetchConfig(ctx, p.ledger)
}

func (p *Live) SpotMarket(ctx context.Context, index uint16) (*model.SpotMarket, error) {
	return fetchSpotMarket(ctx, p.ledger, index)
}

func (p *Live) PerpMarket(ctx context.Context, index uint16) (*model.PerpMarket, error) {
	return fetchPerpMarket(ctx, p.ledger, index)
}

func (p *Live) OraclePrice(ctx context.Context, ref model.OracleRef) (*model.OraclePrice, error) {
	return fetchOraclePrice(ctx, p.ledger, ref)
}

func (p *Live) Account(ctx context.Context) (*model.Account, error) {
	return fetchAccount(ctx, p.ledger, p.id)
}

// --- Instrumented fetches shared by Live and Capture ---

func fetchConfig(ctx context.Context, l ledger.Ledger) (*model.GlobalConfig, error) {
	c, err := l.FetchGlobalConfig(ctx)
	metrics.LedgerFetches.WithLabelValues(string(EntityConfig), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, unavailable(EntityConfig, "", err)
	}
	return c, nil
}

func fetchSpotMarket(ctx context.Context, l ledger.Ledger, index uint16) (*model.SpotMarket, error) {
	key := strconv.Itoa(int(index))
	m, err := l.FetchSpotMarket(ctx, index)
	if err == nil && m.MarketIndex != index {
		err = ErrIndexMismatch
	}
	metrics.LedgerFetches.WithLabelValues(string(EntitySpotMarket), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, unavailable(EntitySpotMarket, key, err)
	}
	return m, nil
}

func fetchPerpMarket(ctx context.Context, l ledger.Ledger, index uint16) (*model.PerpMarket, error) {
	key := strconv.Itoa(int(index))
	m, err := l.FetchPerpMarket(ctx, index)
	if err == nil && m.MarketIndex != index {
		err = ErrIndexMismatch
	}
	metrics.LedgerFetches.WithLabelValues(string(EntityPerpMarket), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, unavailable(EntityPerpMarket, key, err)
	}
	return m, nil
}

func fetchOraclePrice(ctx context.Context, l ledger.Ledger, ref model.OracleRef) (*model.OraclePrice, error) {
	p, err := l.FetchOraclePrice(ctx, ref)
	metrics.LedgerFetches.WithLabelValues(string(EntityOracle), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, unavailable(EntityOracle, string(ref), err)
	}
	return p, nil
}

func fetchAccount(ctx context.Context, l ledger.Ledger, id model.AccountID) (*model.Account, error) {
	a, err := l.FetchAccount(ctx, id)
	if err == nil {
		err = a.Validate()
	}
	metrics.LedgerFetches.WithLabelValues(string(EntityAccount), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, unavailable(EntityAccount, id.String(), err)
	}
	return a, nil
}
