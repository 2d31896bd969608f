package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/coinfall/internal/model"
)

type StorageSuite struct {
	suite.Suite
	mini    *miniredis.Miniredis
	storage *Storage
	ctx     context.Context
	now     time.Time
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.mini = miniredis.RunT(s.T())

	client := redis.NewClient(&redis.Options{
		Addr: s.mini.Addr(),
	})

	s.storage = NewWithClient(client, DefaultConfig())
	s.ctx = context.Background()
	s.now = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StorageSuite) TearDownTest() {
	if s.storage != nil {
		_ = s.storage.Close()
	}
	if s.mini != nil {
		s.mini.Close()
	}
}

func (s *StorageSuite) TestCreateAndGetAccount() {
	_, err := s.storage.CreateAccount(s.ctx, 42, "alice", s.now)
	s.Require().NoError(err)

	acct, err := s.storage.GetAccount(s.ctx, 42)
	s.Require().NoError(err)
	s.Equal(model.UserID(42), acct.UserID)
	s.Equal("alice", acct.DisplayName)
	s.Equal(int64(0), acct.Balance)
	s.Nil(acct.LastPlayedAt)
}

func (s *StorageSuite) TestGetAccountNotFound() {
	_, err := s.storage.GetAccount(s.ctx, 404)
	s.ErrorIs(err, model.ErrAccountNotFound)
}

func (s *StorageSuite) TestCreateAccountTwiceFails() {
	_, err := s.storage.CreateAccount(s.ctx, 42, "alice", s.now)
	s.Require().NoError(err)

	_, err = s.storage.CreateAccount(s.ctx, 42, "mallory", s.now)
	s.ErrorIs(err, model.ErrAccountExists)

	acct, _ := s.storage.GetAccount(s.ctx, 42)
	s.Equal("alice", acct.DisplayName)
}

func (s *StorageSuite) TestAccountHasNoTTL() {
	_, _ = s.storage.CreateAccount(s.ctx, 42, "alice", s.now)

	ttl := s.mini.TTL(accountKey(DefaultConfig().KeyPrefix, 42))
	s.Equal(time.Duration(0), ttl, "Accounts should not expire")
}

func (s *StorageSuite) TestUpdateBalanceAndTimestamp() {
	_, _ = s.storage.CreateAccount(s.ctx, 42, "alice", s.now)

	playedAt := s.now.Add(90 * time.Second)
	err := s.storage.UpdateBalanceAndTimestamp(s.ctx, 42, 12, playedAt, nil)
	s.Require().NoError(err)

	acct, err := s.storage.GetAccount(s.ctx, 42)
	s.Require().NoError(err)
	s.Equal(int64(12), acct.Balance)
	s.Require().NotNil(acct.LastPlayedAt)
	s.True(playedAt.Equal(*acct.LastPlayedAt))

	score, err := s.mini.ZScore(leaderboardKey(DefaultConfig().KeyPrefix), "42")
	s.Require().NoError(err)
	s.Equal(float64(12), score)
}

func (s *StorageSuite) TestUpdateRejectsStaleExpectation() {
	_, _ = s.storage.CreateAccount(s.ctx, 42, "alice", s.now)
	s.Require().NoError(s.storage.UpdateBalanceAndTimestamp(s.ctx, 42, 5, s.now, nil))

	err := s.storage.UpdateBalanceAndTimestamp(s.ctx, 42, 8, s.now.Add(time.Minute), nil)
	s.ErrorIs(err, model.ErrAccountConflict)

	acct, _ := s.storage.GetAccount(s.ctx, 42)
	s.Equal(int64(5), acct.Balance)
}

func (s *StorageSuite) TestUpdateWithMatchingExpectationRoundTrips() {
	_, _ = s.storage.CreateAccount(s.ctx, 42, "alice", s.now)
	first := model.Timestamp(s.now.Add(123456789 * time.Nanosecond))
	s.Require().NoError(s.storage.UpdateBalanceAndTimestamp(s.ctx, 42, 5, first, nil))

	stored, _ := s.storage.GetAccount(s.ctx, 42)
	err := s.storage.UpdateBalanceAndTimestamp(s.ctx, 42, 9, first.Add(24*time.Hour), stored.LastPlayedAt)
	s.Require().NoError(err)

	acct, _ := s.storage.GetAccount(s.ctx, 42)
	s.Equal(int64(9), acct.Balance)
}

func (s *StorageSuite) TestUpdateUnknownAccount() {
	err := s.storage.UpdateBalanceAndTimestamp(s.ctx, 7, 1, s.now, nil)
	s.ErrorIs(err, model.ErrAccountNotFound)
}

func (s *StorageSuite) TestTopAccounts() {
	balances := map[model.UserID]int64{1: 3, 2: 10, 3: 7}
	for id, balance := range balances {
		_, _ = s.storage.CreateAccount(s.ctx, id, "user", s.now)
		s.Require().NoError(s.storage.UpdateBalanceAndTimestamp(s.ctx, id, balance, s.now, nil))
	}

	top, err := s.storage.TopAccounts(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(top, 2)
	s.Equal(model.UserID(2), top[0].UserID)
	s.Equal(model.UserID(3), top[1].UserID)
}

func (s *StorageSuite) TestTopAccountsBreaksTiesByAscendingID() {
	for _, id := range []model.UserID{9, 10, 2} {
		_, err := s.storage.CreateAccount(s.ctx, id, "user", s.now)
		s.Require().NoError(err)
	}

	top, err := s.storage.TopAccounts(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(top, 3)
	s.Equal([]model.UserID{2, 9, 10}, []model.UserID{top[0].UserID, top[1].UserID, top[2].UserID})
}

func (s *StorageSuite) TestTopAccountsTieAtCutoffKeepsLowestIDs() {
	balances := map[model.UserID]int64{30: 5, 9: 1, 10: 1, 2: 1}
	for id, balance := range balances {
		_, _ = s.storage.CreateAccount(s.ctx, id, "user", s.now)
		s.Require().NoError(s.storage.UpdateBalanceAndTimestamp(s.ctx, id, balance, s.now, nil))
	}

	top, err := s.storage.TopAccounts(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(top, 2)
	s.Equal(model.UserID(30), top[0].UserID)
	s.Equal(model.UserID(2), top[1].UserID)
}

func (s *StorageSuite) TestTopAccountsEmpty() {
	top, err := s.storage.TopAccounts(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(top)
}
