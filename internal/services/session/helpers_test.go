package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/storage/memory"
)

var errInjected = errors.New("injected store failure")

// faultyStorage wraps the memory store with injectable failures
type faultyStorage struct {
	*memory.Storage

	mu          sync.Mutex
	failGets    int
	failUpdates int
	updates     int
}

func newFaultyStorage() *faultyStorage {
	return &faultyStorage{Storage: memory.New()}
}

func (f *faultyStorage) FailGets(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failGets = n
}

func (f *faultyStorage) FailUpdates(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failUpdates = n
}

func (f *faultyStorage) Updates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *faultyStorage) GetAccount(ctx context.Context, id model.UserID) (*model.UserAccount, error) {
	f.mu.Lock()
	if f.failGets > 0 {
		f.failGets--
		f.mu.Unlock()
		return nil, errInjected
	}
	f.mu.Unlock()
	return f.Storage.GetAccount(ctx, id)
}

func (f *faultyStorage) UpdateBalanceAndTimestamp(ctx context.Context, id model.UserID, balance int64, playedAt time.Time, expected *time.Time) error {
	f.mu.Lock()
	f.updates++
	if f.failUpdates > 0 {
		f.failUpdates--
		f.mu.Unlock()
		return errInjected
	}
	f.mu.Unlock()
	return f.Storage.UpdateBalanceAndTimestamp(ctx, id, balance, playedAt, expected)
}
