package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/risk-engine/internal/model"
)

func TestCache_NotReadyBeforeRefresh(t *testing.T) {
	c := NewCache(seedLedger(), alice)
	ctx := context.Background()

	_, err := c.Config(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.SpotMarket(ctx, 0)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.PerpMarket(ctx, 0)
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.OraclePrice(ctx, "sol")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.Account(ctx)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCache_IsolatedFromLedgerUntilRefresh(t *testing.T) {
	l := seedLedger()
	c := NewCache(l, alice)
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	l.PutOraclePrice("sol", model.OraclePrice{Price: 1, Slot: 2})

	p, err := c.OraclePrice(ctx, "sol")
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), p.Price)

	require.NoError(t, c.Refresh(ctx))
	p, err = c.OraclePrice(ctx, "sol")
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.Price)
}

func TestCache_FailedRefreshKeepsSnapshot(t *testing.T) {
	l := seedLedger()
	fail := &failingLedger{Ledger: l, err: errors.New("rpc down")}
	ctx := context.Background()

	c := NewCache(l, alice)
	require.NoError(t, c.Refresh(ctx))
	before, err := c.Current()
	require.NoError(t, err)

	c.ledger = fail
	err = c.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDataUnavailable)

	after, err := c.Current()
	require.NoError(t, err)
	assert.Equal(t, before.ID(), after.ID())
}

func TestCache_FirstRefreshFailureStaysNotReady(t *testing.T) {
	fail := &failingLedger{Ledger: seedLedger(), err: errors.New("rpc down")}
	c := NewCache(fail, alice)

	require.Error(t, c.Refresh(context.Background()))
	_, err := c.Account(context.Background())
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestCache_ConcurrentRefreshAndReads(t *testing.T) {
	c := NewCache(seedLedger(), alice)
	ctx := context.Background()
	require.NoError(t, c.Refresh(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Refresh(ctx))
		}()
		go func() {
			defer wg.Done()
			a, err := c.Account(ctx)
			assert.NoError(t, err)
			assert.Equal(t, alice, a.ID)
		}()
	}
	wg.Wait()
}

func TestLive_FetchesEveryCall(t *testing.T) {
	l := seedLedger()
	p := NewLive(l, alice)
	ctx := context.Background()

	first, err := p.OraclePrice(ctx, "sol")
	require.NoError(t, err)
	l.PutOraclePrice("sol", model.OraclePrice{Price: 7})
	second, err := p.OraclePrice(ctx, "sol")
	require.NoError(t, err)

	assert.Equal(t, int64(100_000_000), first.Price)
	assert.Equal(t, int64(7), second.Price)
}

func TestLive_PropagatesWithoutRetry(t *testing.T) {
	cause := errors.New("timeout")
	fail := &failingLedger{Ledger: seedLedger(), err: cause}
	p := NewLive(fail, alice)

	_, err := p.OraclePrice(context.Background(), "sol")
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, int32(1), fail.calls.Load())
}

func TestNew(t *testing.T) {
	l := seedLedger()
	_, cached := New(l, alice, ModeCached).(*Cache)
	assert.True(t, cached)
	_, live := New(l, alice, ModeLive).(*Live)
	assert.True(t, live)

	m, err := ParseMode("live")
	require.NoError(t, err)
	assert.Equal(t, ModeLive, m)
	_, err = ParseMode("eventual")
	assert.Error(t, err)
}
