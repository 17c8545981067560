// Package snapshot supplies the ledger state a risk computation reads.
//
// A Provider is either Live, where every accessor is an independent ledger
// fetch, or a Cache, where accessors read one immutable Snapshot captured
// by the last successful Refresh. Live favours freshness; a Cache
// guarantees that every value read between two refreshes comes from the
// same capture.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/atmx/risk-engine/internal/model"
)

var (
	// ErrNotReady is returned by a Cache accessor before the first
	// successful Refresh.
	ErrNotReady = errors.New("snapshot: not ready, refresh first")

	// ErrDataUnavailable matches every DataUnavailableError.
	ErrDataUnavailable = errors.New("snapshot: data unavailable")

	// ErrIndexMismatch is returned when the ledger answers a market request
	// with a different market.
	ErrIndexMismatch = errors.New("snapshot: market index mismatch")
)

// Entity names the kind of ledger record a fetch was for.
type Entity string

const (
	EntityConfig     Entity = "config"
	EntitySpotMarket Entity = "spot_market"
	EntityPerpMarket Entity = "perp_market"
	EntityOracle     Entity = "oracle"
	EntityAccount    Entity = "account"
)

// DataUnavailableError reports a failed ledger fetch. It is never retried
// here; retry policy belongs to the ledger client.
type DataUnavailableError struct {
	Entity Entity
	Key    string
	Err    error
}

func (e *DataUnavailableError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("snapshot: %s unavailable: %v", e.Entity, e.Err)
	}
	return fmt.Sprintf("snapshot: %s %s unavailable: %v", e.Entity, e.Key, e.Err)
}

func (e *DataUnavailableError) Unwrap() error { return e.Err }

// Is makes every DataUnavailableError match ErrDataUnavailable.
func (e *DataUnavailableError) Is(target error) bool { return target == ErrDataUnavailable }

func unavailable(entity Entity, key string, err error) error {
	return &DataUnavailableError{Entity: entity, Key: key, Err: err}
}

// Provider is the ledger view a risk engine computes over. All accessors
// return values the caller may not mutate.
type Provider interface {
	Config(ctx context.Context) (*model.GlobalConfig, error)
	SpotMarket(ctx context.Context, index uint16) (*model.SpotMarket, error)
	PerpMarket(ctx context.Context, index uint16) (*model.PerpMarket, error)
	OraclePrice(ctx context.Context, ref model.OracleRef) (*model.OraclePrice, error)
	Account(ctx context.Context) (*model.Account, error)
}

// Refresher is implemented by providers that hold a refreshable snapshot.
type Refresher interface {
	Refresh(ctx context.Context) error
}
