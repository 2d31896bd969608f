package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/storage"
)

// Storage is an in-memory implementation of the storage interface
type Storage struct {
	mu       sync.RWMutex
	accounts map[model.UserID]*model.UserAccount
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		accounts: make(map[model.UserID]*model.UserAccount),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

func (s *Storage) GetAccount(ctx context.Context, id model.UserID) (*model.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, model.ErrAccountNotFound
	}
	return acct.Clone(), nil
}

func (s *Storage) CreateAccount(ctx context.Context, id model.UserID, displayName string, now time.Time) (*model.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; ok {
		return nil, model.ErrAccountExists
	}
	acct := model.NewUserAccount(id, displayName, model.Timestamp(now))
	s.accounts[id] = acct
	return acct.Clone(), nil
}

func (s *Storage) UpdateBalanceAndTimestamp(ctx context.Context, id model.UserID, balance int64, playedAt time.Time, expectedLastPlayedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return model.ErrAccountNotFound
	}
	if !model.SameTimestamp(acct.LastPlayedAt, expectedLastPlayedAt) {
		return model.ErrAccountConflict
	}
	ts := model.Timestamp(playedAt)
	acct.Balance = balance
	acct.LastPlayedAt = &ts
	acct.UpdatedAt = ts
	return nil
}

func (s *Storage) TopAccounts(ctx context.Context, limit int) ([]*model.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]*model.UserAccount, 0, len(s.accounts))
	for _, acct := range s.accounts {
		accounts = append(accounts, acct.Clone())
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Balance != accounts[j].Balance {
			return accounts[i].Balance > accounts[j].Balance
		}
		return accounts[i].UserID < accounts[j].UserID
	})
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

// Close is a no-op
func (s *Storage) Close() error {
	return nil
}
