package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/claerdex/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL. All monetary values are
// stored as NUMERIC for exact decimal precision. Positions live in their own
// table, ordered by an explicit index so insertion order survives a
// round-trip.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetAccount(ctx context.Context, address string) (*model.Account, error) {
	var a model.Account
	var balance, available string

	err := s.pool.QueryRow(ctx,
		`SELECT address, on_chain_balance_ae::TEXT, available_collateral_ae::TEXT
		 FROM accounts WHERE address = $1`, address).
		Scan(&a.Address, &balance, &available)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get account %s: %w", address, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}

	a.OnChainBalanceAE, _ = decimal.NewFromString(balance)
	a.AvailableCollateralAE, _ = decimal.NewFromString(available)

	rows, err := s.pool.Query(ctx,
		`SELECT id, asset, side,
		        size_usd::TEXT, collateral_ae::TEXT, leverage::TEXT,
		        entry_price::TEXT, liquidation_price::TEXT, opened_at
		 FROM positions WHERE account_address = $1 ORDER BY position_index`, address)
	if err != nil {
		return nil, fmt.Errorf("get positions for %s: %w", address, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Position
		var sizeUSD, collateral, leverage, entry, liquidation string

		if err := rows.Scan(&p.ID, &p.Asset, &p.Side,
			&sizeUSD, &collateral, &leverage,
			&entry, &liquidation, &p.OpenedAt); err != nil {
			return nil, err
		}

		p.SizeUSD, _ = decimal.NewFromString(sizeUSD)
		p.CollateralAE, _ = decimal.NewFromString(collateral)
		p.Leverage, _ = decimal.NewFromString(leverage)
		p.EntryPrice, _ = decimal.NewFromString(entry)
		p.LiquidationPrice, _ = decimal.NewFromString(liquidation)

		a.Positions = append(a.Positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &a, nil
}

// SaveAccount replaces the full account state in one transaction: upsert the
// account row, drop its positions, reinsert them in order.
func (s *PostgresStore) SaveAccount(ctx context.Context, account *model.Account) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save account %s: %w", account.Address, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO accounts (address, on_chain_balance_ae, available_collateral_ae)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC)
		 ON CONFLICT (address) DO UPDATE
		 SET on_chain_balance_ae = EXCLUDED.on_chain_balance_ae,
		     available_collateral_ae = EXCLUDED.available_collateral_ae`,
		account.Address,
		account.OnChainBalanceAE.String(),
		account.AvailableCollateralAE.String(),
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", account.Address, err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM positions WHERE account_address = $1`, account.Address); err != nil {
		return fmt.Errorf("save account %s: %w", account.Address, err)
	}

	for i, p := range account.Positions {
		_, err := tx.Exec(ctx,
			`INSERT INTO positions
			 (id, account_address, position_index, asset, side,
			  size_usd, collateral_ae, leverage, entry_price, liquidation_price, opened_at)
			 VALUES ($1, $2, $3, $4, $5,
			         $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
			p.ID, account.Address, i, p.Asset, p.Side,
			p.SizeUSD.String(), p.CollateralAE.String(), p.Leverage.String(),
			p.EntryPrice.String(), p.LiquidationPrice.String(), p.OpenedAt,
		)
		if err != nil {
			return fmt.Errorf("save position %s: %w", p.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, address string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete account %s: %w", address, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM positions WHERE account_address = $1`, address); err != nil {
		return fmt.Errorf("delete account %s: %w", address, err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM accounts WHERE address = $1`, address); err != nil {
		return fmt.Errorf("delete account %s: %w", address, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AppendPricePoint(ctx context.Context, asset, interval string, point model.OHLCPoint, keep int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_points (asset, interval, ts, open, high, low, close)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC)
		 ON CONFLICT (asset, interval, ts) DO NOTHING`,
		asset, interval, point.Timestamp,
		point.Open.String(), point.High.String(), point.Low.String(), point.Close.String(),
	)
	if err != nil {
		return fmt.Errorf("append price point %s/%s: %w", asset, interval, err)
	}

	if keep > 0 {
		// Trim everything older than the keep-th most recent point.
		_, err = s.pool.Exec(ctx,
			`DELETE FROM price_points
			 WHERE asset = $1 AND interval = $2
			   AND ts NOT IN (
			     SELECT ts FROM price_points
			     WHERE asset = $1 AND interval = $2
			     ORDER BY ts DESC LIMIT $3)`,
			asset, interval, keep)
		if err != nil {
			return fmt.Errorf("trim price points %s/%s: %w", asset, interval, err)
		}
	}
	return nil
}

func (s *PostgresStore) PriceHistory(ctx context.Context, asset, interval string, limit int) ([]model.OHLCPoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, open::TEXT, high::TEXT, low::TEXT, close::TEXT
		 FROM (
		   SELECT ts, open, high, low, close FROM price_points
		   WHERE asset = $1 AND interval = $2
		   ORDER BY ts DESC LIMIT $3
		 ) recent ORDER BY ts ASC`,
		asset, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("price history %s/%s: %w", asset, interval, err)
	}
	defer rows.Close()

	var points []model.OHLCPoint
	for rows.Next() {
		var p model.OHLCPoint
		var open, high, low, closeS string
		if err := rows.Scan(&p.Timestamp, &open, &high, &low, &closeS); err != nil {
			return nil, err
		}
		p.Open, _ = decimal.NewFromString(open)
		p.High, _ = decimal.NewFromString(high)
		p.Low, _ = decimal.NewFromString(low)
		p.Close, _ = decimal.NewFromString(closeS)
		points = append(points, p)
	}
	return points, rows.Err()
}
