// Package ledger defines the read interface the risk engine consumes from
// the margin ledger. Implementations include an HTTP/JSON ledger client,
// a PostgreSQL mirror, a Redis read-through cache and an in-memory ledger
// (for testing).
package ledger

import (
	"context"
	"errors"

	"github.com/atmx/risk-engine/internal/model"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("ledger: not found")

// Ledger is the read-only view of the margin ledger. Every call reflects
// the ledger's state at the time of the call; consistency across calls is
// the caller's concern.
type Ledger interface {
	// FetchGlobalConfig returns protocol-wide parameters.
	FetchGlobalConfig(ctx context.Context) (*model.GlobalConfig, error)

	// FetchSpotMarket returns spot market parameters by index.
	FetchSpotMarket(ctx context.Context, index uint16) (*model.SpotMarket, error)

	// FetchPerpMarket returns perp market parameters by index.
	FetchPerpMarket(ctx context.Context, index uint16) (*model.PerpMarket, error)

	// FetchOraclePrice returns the latest observation of a price feed.
	FetchOraclePrice(ctx context.Context, ref model.OracleRef) (*model.OraclePrice, error)

	// FetchAccount returns the subaccount and all of its positions.
	FetchAccount(ctx context.Context, id model.AccountID) (*model.Account, error)
}
