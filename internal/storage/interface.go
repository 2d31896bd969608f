package storage

import (
	"context"
	"time"

	"github.com/mcoot/coinfall/internal/model"
)

// Storage defines the interface for account persistence
type Storage interface {
	// GetAccount returns model.ErrAccountNotFound for an unknown user
	GetAccount(ctx context.Context, id model.UserID) (*model.UserAccount, error)

	// CreateAccount inserts a never-played account with a zero balance.
	// Returns model.ErrAccountExists if the user is already registered.
	CreateAccount(ctx context.Context, id model.UserID, displayName string, now time.Time) (*model.UserAccount, error)

	// UpdateBalanceAndTimestamp stores the settled balance and play time.
	// The write only applies while the stored LastPlayedAt still equals
	// expectedLastPlayedAt; otherwise model.ErrAccountConflict is returned.
	UpdateBalanceAndTimestamp(ctx context.Context, id model.UserID, balance int64, playedAt time.Time, expectedLastPlayedAt *time.Time) error

	// TopAccounts returns up to limit accounts ordered by balance, highest first
	TopAccounts(ctx context.Context, limit int) ([]*model.UserAccount, error)

	// Close releases any connections held by the store
	Close() error
}
