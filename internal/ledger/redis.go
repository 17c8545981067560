package ledger

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/risk-engine/internal/model"
)

// CachedLedger wraps a primary Ledger with a Redis read-through cache for
// the global config, which only changes when markets are listed. Market
// records carry interest and funding indices that move every slot, so
// markets, oracle prices and accounts always go to the primary.
type CachedLedger struct {
	primary Ledger
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedLedger creates a cached wrapper around a primary ledger.
func NewCachedLedger(primary Ledger, rdb *redis.Client, ttl time.Duration) *CachedLedger {
	return &CachedLedger{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (l *CachedLedger) FetchGlobalConfig(ctx context.Context) (*model.GlobalConfig, error) {
	return readThrough(ctx, l, configKey(), func() (*model.GlobalConfig, error) {
		return l.primary.FetchGlobalConfig(ctx)
	})
}

// --- Passthrough (not cached) ---

func (l *CachedLedger) FetchSpotMarket(ctx context.Context, index uint16) (*model.SpotMarket, error) {
	return l.primary.FetchSpotMarket(ctx, index)
}

func (l *CachedLedger) FetchPerpMarket(ctx context.Context, index uint16) (*model.PerpMarket, error) {
	return l.primary.FetchPerpMarket(ctx, index)
}

func (l *CachedLedger) FetchOraclePrice(ctx context.Context, ref model.OracleRef) (*model.OraclePrice, error) {
	return l.primary.FetchOraclePrice(ctx, ref)
}

func (l *CachedLedger) FetchAccount(ctx context.Context, id model.AccountID) (*model.Account, error) {
	return l.primary.FetchAccount(ctx, id)
}

// Invalidate drops every cached entry.
func (l *CachedLedger) Invalidate(ctx context.Context) error {
	iter := l.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return l.rdb.Del(ctx, keys...).Err()
}

// --- Cache helpers ---

// readThrough serves key from Redis, falling back to load on a miss or an
// undecodable entry. Cache errors never fail the read.
func readThrough[T any](ctx context.Context, l *CachedLedger, key string, load func() (*T, error)) (*T, error) {
	data, err := l.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}

	v, err := load()
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(v); err == nil {
		if err := l.rdb.Set(ctx, key, data, l.ttl).Err(); err != nil {
			slog.Warn("ledger cache write failed", "key", key, "err", err)
		}
	}
	return v, nil
}

const keyPrefix = "risk:ledger:"

func configKey() string { return keyPrefix + "config" }
