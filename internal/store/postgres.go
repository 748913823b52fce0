package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/polyfolio/pnl-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) SaveFills(ctx context.Context, walletAddr string, fills []model.Fill) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save fills for %s: %w", walletAddr, err)
	}
	defer tx.Rollback(ctx)

	// Replace the wallet's fill set wholesale; the feed is refetched in
	// full, so partial updates would risk duplicates.
	if _, err := tx.Exec(ctx, `DELETE FROM fills WHERE wallet = $1`, walletAddr); err != nil {
		return fmt.Errorf("clear fills for %s: %w", walletAddr, err)
	}

	for i, f := range fills {
		meta, err := json.Marshal(f.Meta)
		if err != nil {
			return fmt.Errorf("marshal fill meta: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO fills (wallet, seq, fill_id, ts, condition_id, outcome_id, side, price, quantity, fee, meta)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
			walletAddr, i, f.ID, f.Timestamp, f.ConditionID, f.OutcomeID, string(f.Side),
			f.Price.String(), f.Quantity.String(), f.Fee.String(), meta,
		)
		if err != nil {
			return fmt.Errorf("insert fill %s: %w", f.ID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetFills(ctx context.Context, walletAddr string) ([]model.Fill, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fill_id, ts, condition_id, outcome_id, side,
		        price::TEXT, quantity::TEXT, fee::TEXT, meta
		 FROM fills WHERE wallet = $1 ORDER BY seq`, walletAddr)
	if err != nil {
		return nil, fmt.Errorf("get fills for %s: %w", walletAddr, err)
	}
	defer rows.Close()

	var fills []model.Fill
	for rows.Next() {
		var f model.Fill
		var side string
		var price, quantity, fee string
		var meta []byte

		if err := rows.Scan(&f.ID, &f.Timestamp, &f.ConditionID, &f.OutcomeID, &side,
			&price, &quantity, &fee, &meta); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.Side = model.Side(side)
		f.Price, _ = decimal.NewFromString(price)
		f.Quantity, _ = decimal.NewFromString(quantity)
		f.Fee, _ = decimal.NewFromString(fee)
		if len(meta) > 0 {
			json.Unmarshal(meta, &f.Meta)
		}
		fills = append(fills, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get fills for %s: %w", walletAddr, err)
	}
	if fills == nil {
		return nil, ErrNotFound
	}
	return fills, nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, p *model.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (wallet, username, pseudonym, bio, image, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (wallet) DO UPDATE SET
		   username = EXCLUDED.username,
		   pseudonym = EXCLUDED.pseudonym,
		   bio = EXCLUDED.bio,
		   image = EXCLUDED.image,
		   fetched_at = EXCLUDED.fetched_at`,
		p.Wallet, p.Username, p.Pseudonym, p.Bio, p.Image, p.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.Wallet, err)
	}
	return nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, walletAddr string) (*model.Profile, error) {
	return s.queryProfile(ctx,
		`SELECT wallet, username, pseudonym, bio, image, fetched_at
		 FROM profiles WHERE wallet = $1`, walletAddr)
}

func (s *PostgresStore) GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error) {
	return s.queryProfile(ctx,
		`SELECT wallet, username, pseudonym, bio, image, fetched_at
		 FROM profiles WHERE username = $1`, username)
}

func (s *PostgresStore) queryProfile(ctx context.Context, query, arg string) (*model.Profile, error) {
	var p model.Profile
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&p.Wallet, &p.Username, &p.Pseudonym, &p.Bio, &p.Image, &p.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

// Schema is the DDL for the tables this store expects. Applied by the
// operator or a migration tool, not at startup.
const Schema = `
CREATE TABLE IF NOT EXISTS fills (
    wallet       TEXT        NOT NULL,
    seq          INT         NOT NULL,
    fill_id      TEXT        NOT NULL,
    ts           TIMESTAMPTZ NOT NULL,
    condition_id TEXT        NOT NULL,
    outcome_id   TEXT        NOT NULL,
    side         TEXT        NOT NULL,
    price        NUMERIC     NOT NULL,
    quantity     NUMERIC     NOT NULL,
    fee          NUMERIC     NOT NULL,
    meta         JSONB,
    PRIMARY KEY (wallet, seq)
);
CREATE INDEX IF NOT EXISTS fills_wallet_ts ON fills (wallet, ts);

CREATE TABLE IF NOT EXISTS profiles (
    wallet     TEXT        PRIMARY KEY,
    username   TEXT,
    pseudonym  TEXT,
    bio        TEXT,
    image      TEXT,
    fetched_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS profiles_username ON profiles (username) WHERE username <> '';
`
