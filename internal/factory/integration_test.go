package factory

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/services/session"
	"github.com/mcoot/coinfall/internal/storage/memory"
)

type IntegrationSuite struct {
	suite.Suite
	app *TestApp
	ctx context.Context
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.app = NewTestApp()
	s.ctx = context.Background()
}

func (s *IntegrationSuite) login(id model.UserID, name string) *session.Engine {
	sess, err := s.app.AuthService.LoginWithTelegram(s.ctx, s.app.InitData(id, name))
	s.Require().NoError(err)

	validated, err := s.app.AuthService.ValidateSession(sess.Token)
	s.Require().NoError(err)
	s.Equal(id, validated.UserID)

	engine, err := s.app.Sessions.Open(s.ctx, validated.UserID, validated.DisplayName)
	s.Require().NoError(err)
	return engine
}

// Test: login, play a full round, settle, wait out the cooldown
func (s *IntegrationSuite) TestDailyRoundFlow() {
	engine := s.login(42, "alice")
	s.Equal(model.SessionStateEligible, engine.State())

	// New account stored with a zero balance
	stored, err := s.app.Storage.GetAccount(s.ctx, 42)
	s.Require().NoError(err)
	s.Equal(int64(0), stored.Balance)
	s.Nil(stored.LastPlayedAt)

	snap, err := engine.Start(s.app.MockClock.Now())
	s.Require().NoError(err)
	s.Equal(model.SessionStatePlaying, snap.State)
	s.Equal(60, snap.Round.TimeRemaining)

	// Collect each of the first five items as it spawns
	for i := 0; i < 5; i++ {
		s.app.Advance(time.Second)
		current := engine.Snapshot(s.app.MockClock.Now())
		s.Require().NotNil(current.Round)
		s.Require().Len(current.Round.Items, 1)

		score, err := engine.Collect(current.Round.Items[0].ID, s.app.MockClock.Now())
		s.Require().NoError(err)
		s.Equal(i+1, score)
	}

	s.app.Advance(55 * time.Second)
	s.Equal(model.SessionStateLocked, engine.State())

	s.app.Sessions.Settler().Wait()
	stored, err = s.app.Storage.GetAccount(s.ctx, 42)
	s.Require().NoError(err)
	s.Equal(int64(5), stored.Balance)
	s.Require().NotNil(stored.LastPlayedAt)

	// One second later the full cooldown minus one second remains
	s.app.Advance(time.Second)
	snap = engine.Snapshot(s.app.MockClock.Now())
	s.Equal(model.SessionStateLocked, snap.State)
	s.Equal(86399, snap.CooldownRemaining)

	_, err = engine.Start(s.app.MockClock.Now())
	s.ErrorIs(err, model.ErrNotEligible)

	// The countdown reaching zero unlocks on the next tick without a reload
	s.app.MockClock.Advance(24*time.Hour - time.Second)
	s.app.Sessions.Tick(s.app.MockClock.Now())
	s.Equal(model.SessionStateEligible, engine.State())

	s.Equal(float64(1), testutil.ToFloat64(s.app.Metrics.RoundsSettled))
	s.Equal(float64(5), testutil.ToFloat64(s.app.Metrics.ItemsCollected))
}

// Test: an idle round settles with score zero and leaves the balance untouched
func (s *IntegrationSuite) TestRoundWithoutCollections() {
	engine := s.login(7, "bob")

	_, err := engine.Start(s.app.MockClock.Now())
	s.Require().NoError(err)
	s.app.Advance(60 * time.Second)
	s.app.Sessions.Settler().Wait()

	stored, err := s.app.Storage.GetAccount(s.ctx, 7)
	s.Require().NoError(err)
	s.Equal(int64(0), stored.Balance)
	s.NotNil(stored.LastPlayedAt)
	s.Equal(model.SessionStateLocked, engine.State())
}

// Test: two logins of the same user share a single engine
func (s *IntegrationSuite) TestSameUserSharesEngine() {
	first := s.login(42, "alice")
	second := s.login(42, "alice")

	s.Same(first, second)
	s.Equal(1, s.app.Sessions.ActiveEngines())
}

// Test: leaderboard reflects settled balances
func (s *IntegrationSuite) TestLeaderboardAfterRounds() {
	for _, u := range []struct {
		id    model.UserID
		name  string
		score int
	}{
		{1, "one", 1},
		{2, "two", 3},
	} {
		engine := s.login(u.id, u.name)
		_, err := engine.Start(s.app.MockClock.Now())
		s.Require().NoError(err)
		for i := 0; i < u.score; i++ {
			s.app.Sessions.Tick(s.app.MockClock.Now())
			items := engine.Snapshot(s.app.MockClock.Now()).Round.Items
			s.Require().NotEmpty(items)
			_, err := engine.Collect(items[0].ID, s.app.MockClock.Now())
			s.Require().NoError(err)
		}
	}
	s.app.Advance(60 * time.Second)
	s.app.Sessions.Settler().Wait()

	top, err := s.app.Storage.TopAccounts(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(top, 2)
	s.Equal(model.UserID(2), top[0].UserID)
	s.Equal(int64(3), top[0].Balance)
	s.Equal(model.UserID(1), top[1].UserID)
}

// Test: a zero cooldown returns straight to eligible after settling
func (s *IntegrationSuite) TestZeroCooldown() {
	cfg := session.DefaultConfig()
	cfg.Cooldown = 0
	s.app = NewTestAppWith(memory.New(), cfg)

	engine := s.login(9, "carol")
	_, err := engine.Start(s.app.MockClock.Now())
	s.Require().NoError(err)
	s.app.Advance(60 * time.Second)

	s.Equal(model.SessionStateEligible, engine.State())
}

// Test: Close waits for pending writes
func (s *IntegrationSuite) TestCloseFlushesSettles() {
	engine := s.login(11, "dave")
	_, err := engine.Start(s.app.MockClock.Now())
	s.Require().NoError(err)
	s.app.Advance(60 * time.Second)

	store := s.app.Storage
	s.Require().NoError(s.app.Sessions.Close(s.ctx))

	stored, err := store.GetAccount(s.ctx, 11)
	s.Require().NoError(err)
	s.NotNil(stored.LastPlayedAt)
}

func TestNewRejectsMissingBotToken(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}

func TestNewRejectsUnknownStorage(t *testing.T) {
	_, err := New(context.Background(), Config{BotToken: "x", StorageType: "sqlite"})
	require.Error(t, err)
}
