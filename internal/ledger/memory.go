package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/atmx/risk-engine/internal/model"
)

// MemoryLedger implements Ledger with in-memory maps. Used for testing
// and development. Writers replace whole entities; readers get copies.
type MemoryLedger struct {
	mu       sync.RWMutex
	config   *model.GlobalConfig
	spot     map[uint16]model.SpotMarket
	perp     map[uint16]model.PerpMarket
	oracles  map[model.OracleRef]model.OraclePrice
	accounts map[model.AccountID]*model.Account
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		spot:     make(map[uint16]model.SpotMarket),
		perp:     make(map[uint16]model.PerpMarket),
		oracles:  make(map[model.OracleRef]model.OraclePrice),
		accounts: make(map[model.AccountID]*model.Account),
	}
}

// PutGlobalConfig replaces the protocol configuration.
func (l *MemoryLedger) PutGlobalConfig(c model.GlobalConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config = &c
}

// PutSpotMarket stores a spot market under its own index.
func (l *MemoryLedger) PutSpotMarket(m model.SpotMarket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spot[m.MarketIndex] = m
}

// PutPerpMarket stores a perp market under its own index.
func (l *MemoryLedger) PutPerpMarket(m model.PerpMarket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.perp[m.MarketIndex] = m
}

// PutOraclePrice sets the latest observation of a feed.
func (l *MemoryLedger) PutOraclePrice(ref model.OracleRef, p model.OraclePrice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.oracles[ref] = p
}

// PutAccount stores a copy of the account.
func (l *MemoryLedger) PutAccount(a *model.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[a.ID] = a.Clone()
}

func (l *MemoryLedger) FetchGlobalConfig(_ context.Context) (*model.GlobalConfig, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.config == nil {
		return nil, fmt.Errorf("global config: %w", ErrNotFound)
	}
	c := *l.config
	return &c, nil
}

func (l *MemoryLedger) FetchSpotMarket(_ context.Context, index uint16) (*model.SpotMarket, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.spot[index]
	if !ok {
		return nil, fmt.Errorf("spot market %d: %w", index, ErrNotFound)
	}
	return &m, nil
}

func (l *MemoryLedger) FetchPerpMarket(_ context.Context, index uint16) (*model.PerpMarket, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.perp[index]
	if !ok {
		return nil, fmt.Errorf("perp market %d: %w", index, ErrNotFound)
	}
	return &m, nil
}

func (l *MemoryLedger) FetchOraclePrice(_ context.Context, ref model.OracleRef) (*model.OraclePrice, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.oracles[ref]
	if !ok {
		return nil, fmt.Errorf("oracle %s: %w", ref, ErrNotFound)
	}
	return &p, nil
}

func (l *MemoryLedger) FetchAccount(_ context.Context, id model.AccountID) (*model.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}
