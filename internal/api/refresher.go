package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/risk-engine/internal/metrics"
)

// Refresher periodically refreshes every tracked account and broadcasts
// its summary.
type Refresher struct {
	registry *Registry
	hub      *WSHub // optional
	interval time.Duration
}

// NewRefresher creates a refresher ticking every interval.
func NewRefresher(registry *Registry, hub *WSHub, interval time.Duration) *Refresher {
	return &Refresher{registry: registry, hub: hub, interval: interval}
}

// Run refreshes on every tick until ctx is done.
func (f *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.RefreshAll(ctx)
		}
	}
}

// RefreshAll runs one refresh pass and returns how many tracked accounts
// are liquidatable. A failing account keeps its previous snapshot and is
// reported as a risk_error message.
func (f *Refresher) RefreshAll(ctx context.Context) int {
	liquidatable := 0
	for _, t := range f.registry.Tracked() {
		account := t.ID.String()
		if err := t.Engine.Refresh(ctx); err != nil {
			slog.Warn("account refresh failed", "account", account, "err", err)
			f.broadcast(WSMessage{Type: MessageError, Account: account, Error: err.Error()})
			continue
		}
		summary, err := t.Engine.Summary(ctx)
		if err != nil {
			slog.Warn("account summary failed", "account", account, "err", err)
			f.broadcast(WSMessage{Type: MessageError, Account: account, Error: err.Error()})
			continue
		}
		if summary.CanBeLiquidated {
			liquidatable++
			slog.Warn("account liquidatable",
				"account", account,
				"total_collateral", summary.TotalCollateral.String(),
				"maintenance_margin", summary.MaintenanceMarginRequirement.String(),
			)
		}
		resp := newSummaryResponse(summary)
		f.broadcast(WSMessage{Type: MessageSummary, Account: account, Summary: &resp})
	}
	metrics.LiquidatableAccounts.Set(float64(liquidatable))
	return liquidatable
}

func (f *Refresher) broadcast(msg WSMessage) {
	if f.hub != nil {
		f.hub.Broadcast(msg)
	}
}
