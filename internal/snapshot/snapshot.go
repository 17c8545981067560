package snapshot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/margin"
	"github.com/atmx/risk-engine/internal/model"
)

// captureConcurrency bounds in-flight ledger fetches per capture.
const captureConcurrency = 8

// Snapshot is an immutable capture of everything one account's risk
// depends on: the global config, every spot and perp market, the oracle
// price of each market and the account itself. It implements Provider;
// the context arguments are ignored.
type Snapshot struct {
	id         uuid.UUID
	capturedAt time.Time

	config      model.GlobalConfig
	spotMarkets []model.SpotMarket
	perpMarkets []model.PerpMarket
	oracles     map[model.OracleRef]model.OraclePrice
	quoteOracle model.OracleRef
	account     *model.Account
}

// Capture reads a complete snapshot for id from the ledger. Markets and
// oracles are fetched concurrently. The quote spot market is never priced
// by its oracle; it always reads model.QuoteOraclePrice. Any failed fetch
// fails the whole capture.
func Capture(ctx context.Context, l ledger.Ledger, id model.AccountID) (*Snapshot, error) {
	cfg, err := fetchConfig(ctx, l)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		id:          uuid.New(),
		config:      *cfg,
		spotMarkets: make([]model.SpotMarket, cfg.NumberOfSpotMarkets),
		perpMarkets: make([]model.PerpMarket, cfg.NumberOfPerpMarkets),
		oracles:     make(map[model.OracleRef]model.OraclePrice),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(captureConcurrency)

	g.Go(func() error {
		a, err := fetchAccount(gctx, l, id)
		if err != nil {
			return err
		}
		s.account = a
		return nil
	})
	for i := range s.spotMarkets {
		g.Go(func() error {
			m, err := fetchSpotMarket(gctx, l, uint16(i))
			if err != nil {
				return err
			}
			s.spotMarkets[i] = *m
			return nil
		})
	}
	for i := range s.perpMarkets {
		g.Go(func() error {
			m, err := fetchPerpMarket(gctx, l, uint16(i))
			if err != nil {
				return err
			}
			s.perpMarkets[i] = *m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := s.captureOracles(ctx, l); err != nil {
		return nil, err
	}
	s.capturedAt = time.Now()
	return s, nil
}

// captureOracles fetches each distinct feed referenced by a non-quote
// market once.
func (s *Snapshot) captureOracles(ctx context.Context, l ledger.Ledger) error {
	refs := make(map[model.OracleRef]struct{})
	for i := range s.spotMarkets {
		if i == margin.QuoteSpotMarketIndex {
			s.quoteOracle = s.spotMarkets[i].Oracle
			continue
		}
		refs[s.spotMarkets[i].Oracle] = struct{}{}
	}
	for i := range s.perpMarkets {
		refs[s.perpMarkets[i].Oracle] = struct{}{}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(captureConcurrency)
	for ref := range refs {
		g.Go(func() error {
			p, err := fetchOraclePrice(gctx, l, ref)
			if err != nil {
				return err
			}
			mu.Lock()
			s.oracles[ref] = *p
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// ID identifies the capture.
func (s *Snapshot) ID() uuid.UUID { return s.id }

// CapturedAt is when the capture completed.
func (s *Snapshot) CapturedAt() time.Time { return s.capturedAt }

func (s *Snapshot) Config(context.Context) (*model.GlobalConfig, error) {
	c := s.config
	return &c, nil
}

func (s *Snapshot) SpotMarket(_ context.Context, index uint16) (*model.SpotMarket, error) {
	if int(index) >= len(s.spotMarkets) {
		return nil, unavailable(EntitySpotMarket, strconv.Itoa(int(index)), ledger.ErrNotFound)
	}
	m := s.spotMarkets[index]
	return &m, nil
}

func (s *Snapshot) PerpMarket(_ context.Context, index uint16) (*model.PerpMarket, error) {
	if int(index) >= len(s.perpMarkets) {
		return nil, unavailable(EntityPerpMarket, strconv.Itoa(int(index)), ledger.ErrNotFound)
	}
	m := s.perpMarkets[index]
	return &m, nil
}

func (s *Snapshot) OraclePrice(_ context.Context, ref model.OracleRef) (*model.OraclePrice, error) {
	if p, ok := s.oracles[ref]; ok {
		return &p, nil
	}
	if len(s.spotMarkets) > 0 && ref == s.quoteOracle {
		p := model.QuoteOraclePrice
		return &p, nil
	}
	return nil, unavailable(EntityOracle, string(ref), ledger.ErrNotFound)
}

func (s *Snapshot) Account(context.Context) (*model.Account, error) {
	return s.account.Clone(), nil
}
