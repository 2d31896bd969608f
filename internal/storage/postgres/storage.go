package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/storage"
)

// Storage is a Postgres-backed implementation of the storage interface
type Storage struct {
	pool *pgxpool.Pool
}

// New connects to Postgres, optionally applying migrations first
func New(ctx context.Context, cfg Config) (*Storage, error) {
	const op = "postgres.New"

	if cfg.Migrate {
		if err := Migrate(cfg.DSN); err != nil {
			return nil, err
		}
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{pool: pool}, nil
}

// Close closes the connection pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

const selectAccount = `SELECT user_id, display_name, balance, last_played_at, created_at, updated_at FROM accounts`

func scanAccount(row pgx.Row) (*model.UserAccount, error) {
	var (
		acct       model.UserAccount
		id         int64
		lastPlayed *time.Time
	)
	if err := row.Scan(&id, &acct.DisplayName, &acct.Balance, &lastPlayed, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		return nil, err
	}
	acct.UserID = model.UserID(id)
	if lastPlayed != nil {
		t := lastPlayed.UTC()
		acct.LastPlayedAt = &t
	}
	acct.CreatedAt = acct.CreatedAt.UTC()
	acct.UpdatedAt = acct.UpdatedAt.UTC()
	return &acct, nil
}

func (s *Storage) GetAccount(ctx context.Context, id model.UserID) (*model.UserAccount, error) {
	const op = "postgres.GetAccount"

	acct, err := scanAccount(s.pool.QueryRow(ctx, selectAccount+` WHERE user_id = $1`, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrAccountNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return acct, nil
}

func (s *Storage) CreateAccount(ctx context.Context, id model.UserID, displayName string, now time.Time) (*model.UserAccount, error) {
	const op = "postgres.CreateAccount"

	acct := model.NewUserAccount(id, displayName, model.Timestamp(now))
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, display_name, balance, last_played_at, created_at, updated_at)
		VALUES ($1, $2, 0, NULL, $3, $3)
		ON CONFLICT (user_id) DO NOTHING`,
		int64(id), displayName, acct.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, model.ErrAccountExists
	}
	return acct, nil
}

func (s *Storage) UpdateBalanceAndTimestamp(ctx context.Context, id model.UserID, balance int64, playedAt time.Time, expectedLastPlayedAt *time.Time) error {
	const op = "postgres.UpdateBalanceAndTimestamp"

	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET balance = $2, last_played_at = $3, updated_at = $3
		WHERE user_id = $1 AND last_played_at IS NOT DISTINCT FROM $4`,
		int64(id), balance, model.Timestamp(playedAt), expectedLastPlayedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, int64(id)).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return model.ErrAccountNotFound
	}
	return model.ErrAccountConflict
}

func (s *Storage) TopAccounts(ctx context.Context, limit int) ([]*model.UserAccount, error) {
	const op = "postgres.TopAccounts"

	if limit <= 0 {
		return []*model.UserAccount{}, nil
	}

	rows, err := s.pool.Query(ctx, selectAccount+` ORDER BY balance DESC, user_id ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	accounts := make([]*model.UserAccount, 0, limit)
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		accounts = append(accounts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return accounts, nil
}
