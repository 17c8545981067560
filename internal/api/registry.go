package api

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/risk"
	"github.com/atmx/risk-engine/internal/snapshot"
)

// Registry holds one risk engine per account. Engines are created on first
// use and published only once the account has been read: in cached mode the
// first snapshot is captured, so a registered engine is never NotReady; in
// live mode the account is fetched once. Unknown accounts are never tracked.
type Registry struct {
	ledger ledger.Ledger
	mode   snapshot.Mode

	mu      sync.RWMutex
	engines map[model.AccountID]*risk.Engine
	group   singleflight.Group
}

// NewRegistry creates an empty registry over l.
func NewRegistry(l ledger.Ledger, mode snapshot.Mode) *Registry {
	return &Registry{
		ledger:  l,
		mode:    mode,
		engines: make(map[model.AccountID]*risk.Engine),
	}
}

// Mode is the provider mode of every engine in the registry.
func (r *Registry) Mode() snapshot.Mode { return r.mode }

// Get returns the engine for id, creating it if needed. Concurrent first
// requests for the same account share one initial refresh.
func (r *Registry) Get(ctx context.Context, id model.AccountID) (*risk.Engine, error) {
	r.mu.RLock()
	e, ok := r.engines[id]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	v, err, _ := r.group.Do(id.String(), func() (any, error) {
		r.mu.RLock()
		e, ok := r.engines[id]
		r.mu.RUnlock()
		if ok {
			return e, nil
		}

		e = risk.NewEngine(snapshot.New(r.ledger, id, r.mode))
		if err := e.Refresh(ctx); err != nil {
			return nil, err
		}
		// A live engine reads nothing until queried; confirm the account
		// exists before tracking it.
		if _, err := e.Provider().Account(ctx); err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.engines[id] = e
		r.mu.Unlock()
		slog.Info("tracking account", "account", id.String(), "mode", r.mode.String())
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*risk.Engine), nil
}

// Tracked is one registered account.
type Tracked struct {
	ID     model.AccountID
	Engine *risk.Engine
}

// Tracked lists registered accounts in a stable order.
func (r *Registry) Tracked() []Tracked {
	r.mu.RLock()
	out := make([]Tracked, 0, len(r.engines))
	for id, e := range r.engines {
		out = append(out, Tracked{ID: id, Engine: e})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.Authority != out[j].ID.Authority {
			return out[i].ID.Authority < out[j].ID.Authority
		}
		return out[i].ID.SubAccountID < out[j].ID.SubAccountID
	})
	return out
}

// Forget stops tracking id.
func (r *Registry) Forget(id model.AccountID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, id)
}
