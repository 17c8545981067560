package risk

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/atmx/risk-engine/internal/fixed"
	"github.com/atmx/risk-engine/internal/model"
	"github.com/atmx/risk-engine/internal/snapshot"
)

// Summary is every headline metric of one account.
type Summary struct {
	Account    model.AccountID
	SnapshotID uuid.UUID // uuid.Nil in live mode
	ComputedAt time.Time

	TotalCollateral              fixed.Int
	UnrealizedPnL                fixed.Int
	InitialMarginRequirement     fixed.Int
	MaintenanceMarginRequirement fixed.Int
	FreeCollateral               fixed.Int
	Leverage                     fixed.Int // basis points
	BeingLiquidated              bool
	CanBeLiquidated              bool
}

// Summary computes a Summary. In cached mode every field is read from the
// same snapshot even if a refresh lands midway.
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	e, err := e.pinned()
	if err != nil {
		return nil, err
	}
	var snapshotID uuid.UUID
	if s, ok := e.provider.(*snapshot.Snapshot); ok {
		snapshotID = s.ID()
	}
	return e.summarize(ctx, snapshotID)
}

func (e *Engine) summarize(ctx context.Context, snapshotID uuid.UUID) (*Summary, error) {
	acct, err := e.provider.Account(ctx)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Account:         acct.ID,
		SnapshotID:      snapshotID,
		BeingLiquidated: acct.BeingLiquidated,
	}

	if s.TotalCollateral, err = e.TotalCollateral(ctx, model.MarginNone); err != nil {
		return nil, err
	}
	if s.UnrealizedPnL, err = e.UnrealizedPnL(ctx, Options{WithFunding: true}); err != nil {
		return nil, err
	}
	if s.InitialMarginRequirement, err = e.MarginRequirement(ctx, model.MarginInitial, 0); err != nil {
		return nil, err
	}

	buffer, err := e.liquidationBuffer(ctx)
	if err != nil {
		return nil, err
	}
	if s.MaintenanceMarginRequirement, err = e.MarginRequirement(ctx, model.MarginMaintenance, buffer); err != nil {
		return nil, err
	}

	free, err := s.TotalCollateral.Sub(s.InitialMarginRequirement)
	if err != nil {
		return nil, err
	}
	s.FreeCollateral = fixed.Max(free, fixed.Zero)

	if s.Leverage, err = e.Leverage(ctx, model.MarginNone); err != nil {
		return nil, err
	}
	s.CanBeLiquidated = s.TotalCollateral.LessThan(s.MaintenanceMarginRequirement)
	s.ComputedAt = time.Now()
	return s, nil
}
