package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/risk-engine/internal/fixed"
	"github.com/atmx/risk-engine/internal/model"
)

// Schema is the PostgreSQL mirror of the ledger's read model. 128-bit and
// unsigned 64-bit quantities are stored as NUMERIC for exact precision.
const Schema = `
CREATE TABLE IF NOT EXISTS global_config (
	id                              SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
	number_of_spot_markets          INTEGER NOT NULL,
	number_of_perp_markets          INTEGER NOT NULL,
	liquidation_margin_buffer_ratio BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS spot_markets (
	market_index                 INTEGER PRIMARY KEY,
	oracle                       TEXT    NOT NULL,
	decimals                     BIGINT  NOT NULL,
	cumulative_deposit_interest  NUMERIC NOT NULL,
	cumulative_borrow_interest   NUMERIC NOT NULL,
	initial_asset_weight         BIGINT  NOT NULL,
	maintenance_asset_weight     BIGINT  NOT NULL,
	initial_liability_weight     BIGINT  NOT NULL,
	maintenance_liability_weight BIGINT  NOT NULL,
	imf_factor                   BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS perp_markets (
	market_index                  INTEGER PRIMARY KEY,
	oracle                        TEXT    NOT NULL,
	margin_ratio_initial          BIGINT  NOT NULL,
	margin_ratio_maintenance      BIGINT  NOT NULL,
	imf_factor                    BIGINT  NOT NULL,
	cumulative_funding_rate_long  NUMERIC NOT NULL,
	cumulative_funding_rate_short NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS oracle_prices (
	oracle     TEXT PRIMARY KEY,
	price      BIGINT  NOT NULL,
	confidence NUMERIC NOT NULL,
	slot       NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	authority        TEXT    NOT NULL,
	sub_account_id   INTEGER NOT NULL,
	max_margin_ratio BIGINT  NOT NULL DEFAULT 0,
	being_liquidated BOOLEAN NOT NULL DEFAULT FALSE,
	PRIMARY KEY (authority, sub_account_id)
);

CREATE TABLE IF NOT EXISTS spot_positions (
	authority      TEXT     NOT NULL,
	sub_account_id INTEGER  NOT NULL,
	slot           SMALLINT NOT NULL,
	market_index   INTEGER  NOT NULL,
	scaled_balance NUMERIC  NOT NULL,
	balance_type   TEXT     NOT NULL,
	open_orders    SMALLINT NOT NULL,
	open_bids      BIGINT   NOT NULL,
	open_asks      BIGINT   NOT NULL,
	PRIMARY KEY (authority, sub_account_id, slot),
	FOREIGN KEY (authority, sub_account_id) REFERENCES accounts ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS perp_positions (
	authority                    TEXT     NOT NULL,
	sub_account_id               INTEGER  NOT NULL,
	slot                         SMALLINT NOT NULL,
	market_index                 INTEGER  NOT NULL,
	base_asset_amount            BIGINT   NOT NULL,
	quote_asset_amount           BIGINT   NOT NULL,
	last_cumulative_funding_rate BIGINT   NOT NULL,
	open_orders                  SMALLINT NOT NULL,
	open_bids                    BIGINT   NOT NULL,
	open_asks                    BIGINT   NOT NULL,
	lp_shares                    NUMERIC  NOT NULL,
	PRIMARY KEY (authority, sub_account_id, slot),
	FOREIGN KEY (authority, sub_account_id) REFERENCES accounts ON DELETE CASCADE
);
`

// PostgresLedger implements Ledger over a PostgreSQL mirror of the ledger,
// kept current by an external indexer.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a new PostgreSQL-backed ledger.
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

// EnsureSchema creates the mirror tables if they do not exist.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, Schema)
	return err
}

func (l *PostgresLedger) FetchGlobalConfig(ctx context.Context) (*model.GlobalConfig, error) {
	var c model.GlobalConfig
	err := l.pool.QueryRow(ctx,
		`SELECT number_of_spot_markets, number_of_perp_markets, liquidation_margin_buffer_ratio
		 FROM global_config WHERE id = 1`).
		Scan(&c.NumberOfSpotMarkets, &c.NumberOfPerpMarkets, &c.LiquidationMarginBufferRatio)
	if err != nil {
		return nil, fmt.Errorf("global config: %w", notFound(err))
	}
	return &c, nil
}

func (l *PostgresLedger) FetchSpotMarket(ctx context.Context, index uint16) (*model.SpotMarket, error) {
	var m model.SpotMarket
	var oracle, depositInterest, borrowInterest string

	err := l.pool.QueryRow(ctx,
		`SELECT market_index, oracle, decimals,
		        cumulative_deposit_interest::TEXT, cumulative_borrow_interest::TEXT,
		        initial_asset_weight, maintenance_asset_weight,
		        initial_liability_weight, maintenance_liability_weight,
		        imf_factor
		 FROM spot_markets WHERE market_index = $1`, int32(index)).
		Scan(&m.MarketIndex, &oracle, &m.Decimals,
			&depositInterest, &borrowInterest,
			&m.InitialAssetWeight, &m.MaintenanceAssetWeight,
			&m.InitialLiabilityWeight, &m.MaintenanceLiabilityWeight,
			&m.IMFFactor)
	if err != nil {
		return nil, fmt.Errorf("spot market %d: %w", index, notFound(err))
	}

	m.Oracle = model.OracleRef(oracle)
	if m.CumulativeDepositInterest, err = fixed.Parse(depositInterest); err != nil {
		return nil, fmt.Errorf("spot market %d deposit interest: %w", index, err)
	}
	if m.CumulativeBorrowInterest, err = fixed.Parse(borrowInterest); err != nil {
		return nil, fmt.Errorf("spot market %d borrow interest: %w", index, err)
	}
	return &m, nil
}

func (l *PostgresLedger) FetchPerpMarket(ctx context.Context, index uint16) (*model.PerpMarket, error) {
	var m model.PerpMarket
	var oracle, fundingLong, fundingShort string

	err := l.pool.QueryRow(ctx,
		`SELECT market_index, oracle,
		        margin_ratio_initial, margin_ratio_maintenance, imf_factor,
		        cumulative_funding_rate_long::TEXT, cumulative_funding_rate_short::TEXT
		 FROM perp_markets WHERE market_index = $1`, int32(index)).
		Scan(&m.MarketIndex, &oracle,
			&m.MarginRatioInitial, &m.MarginRatioMaintenance, &m.IMFFactor,
			&fundingLong, &fundingShort)
	if err != nil {
		return nil, fmt.Errorf("perp market %d: %w", index, notFound(err))
	}

	m.Oracle = model.OracleRef(oracle)
	if m.CumulativeFundingRateLong, err = fixed.Parse(fundingLong); err != nil {
		return nil, fmt.Errorf("perp market %d long funding: %w", index, err)
	}
	if m.CumulativeFundingRateShort, err = fixed.Parse(fundingShort); err != nil {
		return nil, fmt.Errorf("perp market %d short funding: %w", index, err)
	}
	return &m, nil
}

func (l *PostgresLedger) FetchOraclePrice(ctx context.Context, ref model.OracleRef) (*model.OraclePrice, error) {
	var p model.OraclePrice
	var conf, slot string

	err := l.pool.QueryRow(ctx,
		`SELECT price, confidence::TEXT, slot::TEXT
		 FROM oracle_prices WHERE oracle = $1`, string(ref)).
		Scan(&p.Price, &conf, &slot)
	if err != nil {
		return nil, fmt.Errorf("oracle %s: %w", ref, notFound(err))
	}

	if p.Confidence, err = strconv.ParseUint(conf, 10, 64); err != nil {
		return nil, fmt.Errorf("oracle %s confidence: %w", ref, err)
	}
	if p.Slot, err = strconv.ParseUint(slot, 10, 64); err != nil {
		return nil, fmt.Errorf("oracle %s slot: %w", ref, err)
	}
	return &p, nil
}

// FetchAccount reads the account row and its positions in one read-only
// repeatable-read transaction so a concurrent writer cannot be observed
// half applied.
func (l *PostgresLedger) FetchAccount(ctx context.Context, id model.AccountID) (*model.Account, error) {
	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("account %s: begin: %w", id, err)
	}
	defer tx.Rollback(ctx)

	a := model.Account{ID: id}
	err = tx.QueryRow(ctx,
		`SELECT max_margin_ratio, being_liquidated
		 FROM accounts WHERE authority = $1 AND sub_account_id = $2`,
		id.Authority, int32(id.SubAccountID)).
		Scan(&a.MaxMarginRatio, &a.BeingLiquidated)
	if err != nil {
		return nil, fmt.Errorf("account %s: %w", id, notFound(err))
	}

	if a.SpotPositions, err = spotPositions(ctx, tx, id); err != nil {
		return nil, fmt.Errorf("account %s spot positions: %w", id, err)
	}
	if a.PerpPositions, err = perpPositions(ctx, tx, id); err != nil {
		return nil, fmt.Errorf("account %s perp positions: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("account %s: commit: %w", id, err)
	}
	return &a, nil
}

func spotPositions(ctx context.Context, tx pgx.Tx, id model.AccountID) ([]model.SpotPosition, error) {
	rows, err := tx.Query(ctx,
		`SELECT market_index, scaled_balance::TEXT, balance_type,
		        open_orders, open_bids, open_asks
		 FROM spot_positions
		 WHERE authority = $1 AND sub_account_id = $2
		 ORDER BY slot`, id.Authority, int32(id.SubAccountID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.SpotPosition
	for rows.Next() {
		var p model.SpotPosition
		var balance, balanceType string
		if err := rows.Scan(&p.MarketIndex, &balance, &balanceType,
			&p.OpenOrders, &p.OpenBids, &p.OpenAsks); err != nil {
			return nil, err
		}
		if p.ScaledBalance, err = strconv.ParseUint(balance, 10, 64); err != nil {
			return nil, fmt.Errorf("scaled balance: %w", err)
		}
		if p.BalanceType, err = model.ParseBalanceType(balanceType); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func perpPositions(ctx context.Context, tx pgx.Tx, id model.AccountID) ([]model.PerpPosition, error) {
	rows, err := tx.Query(ctx,
		`SELECT market_index, base_asset_amount, quote_asset_amount,
		        last_cumulative_funding_rate, open_orders, open_bids, open_asks,
		        lp_shares::TEXT
		 FROM perp_positions
		 WHERE authority = $1 AND sub_account_id = $2
		 ORDER BY slot`, id.Authority, int32(id.SubAccountID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.PerpPosition
	for rows.Next() {
		var p model.PerpPosition
		var shares string
		if err := rows.Scan(&p.MarketIndex, &p.BaseAssetAmount, &p.QuoteAssetAmount,
			&p.LastCumulativeFundingRate, &p.OpenOrders, &p.OpenBids, &p.OpenAsks,
			&shares); err != nil {
			return nil, err
		}
		if p.LPShares, err = strconv.ParseUint(shares, 10, 64); err != nil {
			return nil, fmt.Errorf("lp shares: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
