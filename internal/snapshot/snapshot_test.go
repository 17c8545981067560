package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-engine/internal/fixed"
	"github.com/atmx/risk-engine/internal/ledger"
	"github.com/atmx/risk-engine/internal/model"
)

var alice = model.AccountID{Authority: "alice", SubAccountID: 0}

func seedLedger() *ledger.MemoryLedger {
	l := ledger.NewMemoryLedger()
	interest := fixed.New(10_000_000_000)
	l.PutGlobalConfig(model.GlobalConfig{NumberOfSpotMarkets: 2, NumberOfPerpMarkets: 1, LiquidationMarginBufferRatio: 200})
	l.PutSpotMarket(model.SpotMarket{
		MarketIndex: 0, Oracle: "usdc", Decimals: 6,
		CumulativeDepositInterest: interest, CumulativeBorrowInterest: interest,
	})
	l.PutSpotMarket(model.SpotMarket{
		MarketIndex: 1, Oracle: "sol", Decimals: 9,
		CumulativeDepositInterest: interest, CumulativeBorrowInterest: interest,
	})
	l.PutPerpMarket(model.PerpMarket{MarketIndex: 0, Oracle: "sol", MarginRatioInitial: 1_000, MarginRatioMaintenance: 500})
	l.PutOraclePrice("sol", model.OraclePrice{Price: 100_000_000, Slot: 1})
	l.PutAccount(&model.Account{
		ID:            alice,
		SpotPositions: []model.SpotPosition{{MarketIndex: 0, ScaledBalance: 1_000_000_000_000}},
	})
	return l
}

// countingLedger counts oracle fetches per reference.
type countingLedger struct {
	ledger.Ledger
	mu      sync.Mutex
	oracles map[model.OracleRef]int
}

func (c *countingLedger) FetchOraclePrice(ctx context.Context, ref model.OracleRef) (*model.OraclePrice, error) {
	c.mu.Lock()
	c.oracles[ref]++
	c.mu.Unlock()
	return c.Ledger.FetchOraclePrice(ctx, ref)
}

// failingLedger fails every oracle fetch.
type failingLedger struct {
	ledger.Ledger
	err   error
	calls atomic.Int32
}

func (f *failingLedger) FetchOraclePrice(context.Context, model.OracleRef) (*model.OraclePrice, error) {
	f.calls.Add(1)
	return nil, f.err
}

func TestCapture(t *testing.T) {
	ctx := context.Background()
	s, err := Capture(ctx, seedLedger(), alice)
	require.NoError(t, err)

	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", s.ID().String())
	assert.False(t, s.CapturedAt().IsZero())

	cfg, err := s.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(200), cfg.LiquidationMarginBufferRatio)

	spot, err := s.SpotMarket(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.OracleRef("sol"), spot.Oracle)

	perp, err := s.PerpMarket(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1_000), perp.MarginRatioInitial)

	acct, err := s.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice, acct.ID)
}

func TestCapture_QuoteMarketNeverPriced(t *testing.T) {
	ctx := context.Background()
	counting := &countingLedger{Ledger: seedLedger(), oracles: make(map[model.OracleRef]int)}

	s, err := Capture(ctx, counting, alice)
	require.NoError(t, err)

	assert.Zero(t, counting.oracles["usdc"], "quote oracle must not be fetched")
	assert.Equal(t, 1, counting.oracles["sol"], "shared feed fetched once")

	p, err := s.OraclePrice(ctx, "usdc")
	require.NoError(t, err)
	assert.Equal(t, model.QuoteOraclePrice, *p)
}

func TestCapture_MissingMarketFails(t *testing.T) {
	l := seedLedger()
	l.PutGlobalConfig(model.GlobalConfig{NumberOfSpotMarkets: 3, NumberOfPerpMarkets: 1})

	_, err := Capture(context.Background(), l, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	var du *DataUnavailableError
	require.True(t, errors.As(err, &du))
	assert.Equal(t, EntitySpotMarket, du.Entity)
	assert.Equal(t, "2", du.Key)
}

func TestCapture_RejectsIndexMismatch(t *testing.T) {
	l := seedLedger()
	l.PutGlobalConfig(model.GlobalConfig{NumberOfSpotMarkets: 2, NumberOfPerpMarkets: 2})
	l.PutPerpMarket(model.PerpMarket{MarketIndex: 5, Oracle: "sol"})

	_, err := Capture(context.Background(), &indexShiftLedger{Ledger: l}, alice)
	assert.ErrorIs(t, err, ErrIndexMismatch)
}

// indexShiftLedger answers perp market 1 with market 5.
type indexShiftLedger struct{ ledger.Ledger }

func (s *indexShiftLedger) FetchPerpMarket(ctx context.Context, index uint16) (*model.PerpMarket, error) {
	if index == 1 {
		index = 5
	}
	return s.Ledger.FetchPerpMarket(ctx, index)
}

func TestCapture_RejectsDuplicatePositions(t *testing.T) {
	l := seedLedger()
	l.PutAccount(&model.Account{
		ID: alice,
		SpotPositions: []model.SpotPosition{
			{MarketIndex: 1, ScaledBalance: 1},
			{MarketIndex: 1, ScaledBalance: 2},
		},
	})

	_, err := Capture(context.Background(), l, alice)
	assert.ErrorIs(t, err, model.ErrDuplicatePosition)
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestSnapshot_OutOfRange(t *testing.T) {
	ctx := context.Background()
	s, err := Capture(ctx, seedLedger(), alice)
	require.NoError(t, err)

	_, err = s.SpotMarket(ctx, 7)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	_, err = s.PerpMarket(ctx, 7)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	_, err = s.OraclePrice(ctx, "eth")
	assert.ErrorIs(t, err, ErrDataUnavailable)
}

func TestSnapshot_AccountIsACopy(t *testing.T) {
	ctx := context.Background()
	s, err := Capture(ctx, seedLedger(), alice)
	require.NoError(t, err)

	a, err := s.Account(ctx)
	require.NoError(t, err)
	a.SpotPositions[0].ScaledBalance = 0

	b, err := s.Account(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000_000), b.SpotPositions[0].ScaledBalance)
}
