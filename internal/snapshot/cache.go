package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/metrics"
	"github.com/atmx/risk-engine/internal/model"
)

// Cache is a Provider over the snapshot captured by the last successful
// Refresh. Refreshes are serialised; readers never block and always see
// one complete snapshot. A failed refresh keeps the previous snapshot.
type Cache struct {
	ledger ledger.Ledger
	id     model.AccountID

	mu      sync.Mutex // serialises Refresh
	current atomic.Pointer[Snapshot]
}

// NewCache creates an empty cache. Accessors return ErrNotReady until
// Refresh succeeds.
func NewCache(l ledger.Ledger, id model.AccountID) *Cache {
	return &Cache{ledger: l, id: id}
}

// Refresh captures a new snapshot and publishes it.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	s, err := Capture(ctx, c.ledger, c.id)
	metrics.SnapshotRefreshDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotRefreshes.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		slog.Warn("snapshot refresh failed", "account", c.id.String(), "err", err)
		return fmt.Errorf("refresh %s: %w", c.id, err)
	}

	c.current.Store(s)
	slog.Debug("snapshot refreshed",
		"account", c.id.String(),
		"snapshot", s.ID().String(),
		"spot_markets", len(s.spotMarkets),
		"perp_markets", len(s.perpMarkets),
		"took", time.Since(start),
	)
	return nil
}

// Current returns the published snapshot, or ErrNotReady.
func (c *Cache) Current() (*Snapshot, error) {
	s := c.current.Load()
	if s == nil {
		return nil, ErrNotReady
	}
	metrics.SnapshotAge.WithLabelValues(c.id.String()).Set(time.Since(s.CapturedAt()).Seconds())
	return s, nil
}

func (c *Cache) Config(ctx context.Context) (*model.GlobalConfig, error) {
	s, err := c.Current()
	if err != nil {
		return nil, err
	}
	return s.Config(ctx)
}

func (c *Cache) SpotMarket(ctx context.Context, index uint16) (*model.SpotMarket, error) {
	s, err := c.Current()
	if err != nil {
		return nil, err
	}
	return s.SpotMarket(ctx, index)
}

func (c *Cache) PerpMarket(ctx context.Context, index uint16) (*model.PerpMarket, error) {
	s, err := c.Current()
	if err != nil {
		return nil, err
	}
	return s.PerpMarket(ctx, index)
}

func (c *Cache) OraclePrice(ctx context.Context, ref model.OracleRef) (*model.OraclePrice, error) {
	s, err := c.Current()
	if err != nil {
		return nil, err
	}
	return s.OraclePrice(ctx, ref)
}

func (c *Cache) Account(ctx context.Context) (*model.Account, error) {
	s, err := c.Current()
	if err != nil {
		return nil, err
	}
	return s.Account(ctx)
}

// Mode selects how a provider reads the ledger.
type Mode uint8

const (
	ModeCached Mode = iota
	ModeLive
)

func (m Mode) String() string {
	switch m {
	case ModeCached:
		return "cached"
	case ModeLive:
		return "live"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ParseMode accepts "cached" or "live".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "cached", "":
		return ModeCached, nil
	case "live":
		return ModeLive, nil
	default:
		return 0, fmt.Errorf("snapshot: unknown mode %q", s)
	}
}

// New returns the provider for mode: a *Cache or a *Live.
func New(l ledger.Ledger, id model.AccountID, mode Mode) Provider {
	if mode == ModeLive {
		return NewLive(l, id)
	}
	return NewCache(l, id)
}
