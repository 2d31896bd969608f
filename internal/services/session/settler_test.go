package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/coinfall/internal/metrics"
	"github.com/mcoot/coinfall/internal/model"
	logutil "github.com/mcoot/coinfall/internal/testutil"
)

func TestSettlerAppliesWritesForOneUserInOrder(t *testing.T) {
	store := newFaultyStorage()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.CreateAccount(ctx, 1, "alice", base)
	require.NoError(t, err)

	settler := NewSettler(store, RetryConfig{MaxAttempts: 1}, metrics.New(), logutil.NopLogger())

	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(_ SettleWrite, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}

	// Each write expects the previous one to have landed
	var expected *time.Time
	for i := 1; i <= 5; i++ {
		playedAt := base.Add(time.Duration(i) * time.Minute)
		settler.Submit(SettleWrite{UserID: 1, Balance: int64(i), PlayedAt: playedAt, Expected: expected}, record)
		p := playedAt
		expected = &p
	}
	settler.Wait()

	require.Len(t, errs, 5)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	acct, err := store.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), acct.Balance)
	assert.Equal(t, 0, settler.Pending(1))
}

func TestSettlerConflictIsNotRetried(t *testing.T) {
	store := newFaultyStorage()
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _ = store.CreateAccount(ctx, 1, "alice", now)
	require.NoError(t, store.UpdateBalanceAndTimestamp(ctx, 1, 9, now, nil))

	settler := NewSettler(store, RetryConfig{InitialInterval: time.Millisecond, MaxAttempts: 5}, metrics.New(), logutil.NopLogger())

	var got error
	settler.Submit(SettleWrite{UserID: 1, Balance: 1, PlayedAt: now.Add(time.Hour)}, func(_ SettleWrite, err error) { got = err })
	settler.Wait()

	assert.ErrorIs(t, got, model.ErrAccountConflict)
	assert.Equal(t, 2, store.Updates())
}

func TestSettlerWaitContextTimesOut(t *testing.T) {
	settler := NewSettler(newFaultyStorage(), RetryConfig{}, metrics.New(), logutil.NopLogger())

	block := make(chan struct{})
	settler.Submit(SettleWrite{UserID: 1}, func(SettleWrite, error) { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, settler.WaitContext(ctx), context.DeadlineExceeded)

	close(block)
	settler.Wait()
}

func TestSettlerQueuedWriteExpectsStoredValueAfterAbandonedWrite(t *testing.T) {
	store := newFaultyStorage()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.CreateAccount(ctx, 1, "alice", base)
	require.NoError(t, err)
	store.FailUpdates(1)

	settler := NewSettler(store, RetryConfig{MaxAttempts: 1}, metrics.New(), logutil.NopLogger())

	first := base.Add(time.Minute)
	second := base.Add(2 * time.Minute)
	release := make(chan struct{})
	var firstErr, secondErr error
	var issued SettleWrite

	settler.Submit(SettleWrite{UserID: 1, Balance: 2, PlayedAt: first}, func(_ SettleWrite, err error) {
		firstErr = err
		<-release
	})
	// Built on top of the first write, which the store never received
	settler.Submit(SettleWrite{UserID: 1, Balance: 5, PlayedAt: second, Expected: &first}, func(w SettleWrite, err error) {
		issued = w
		secondErr = err
	})
	close(release)
	settler.Wait()

	assert.ErrorIs(t, firstErr, errInjected)
	require.NoError(t, secondErr)
	assert.Nil(t, issued.Expected)

	acct, err := store.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), acct.Balance)
	require.NotNil(t, acct.LastPlayedAt)
	assert.True(t, second.Equal(*acct.LastPlayedAt))
}
