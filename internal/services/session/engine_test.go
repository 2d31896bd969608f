package session

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/coinfall/internal/dependencies/mocks"
	"github.com/mcoot/coinfall/internal/events"
	"github.com/mcoot/coinfall/internal/metrics"
	"github.com/mcoot/coinfall/internal/model"
	logutil "github.com/mcoot/coinfall/internal/testutil"
)

const testUser = model.UserID(1001)

type EngineSuite struct {
	suite.Suite
	storage  *faultyStorage
	clock    *mocks.MockClock
	random   *mocks.MockRandom
	recorder *events.Recorder
	metrics  *metrics.Metrics
	cfg      Config
	manager  *Manager
	ctx      context.Context
	start    time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.storage = newFaultyStorage()
	s.clock = mocks.NewMockClock(s.start)
	s.random = mocks.NewMockRandom()
	s.recorder = &events.Recorder{}
	s.metrics = metrics.New()
	s.ctx = context.Background()

	s.cfg = DefaultConfig()
	s.cfg.Retry = RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxAttempts:     3,
		AttemptTimeout:  time.Second,
	}
	s.cfg.JanitorSchedule = ""
	s.buildManager()
}

func (s *EngineSuite) buildManager() {
	m, err := NewManager(s.cfg, s.storage, s.clock, s.random, s.recorder, s.metrics, logutil.NopLogger())
	s.Require().NoError(err)
	s.manager = m
}

func (s *EngineSuite) open() *Engine {
	e, err := s.manager.Open(s.ctx, testUser, "alice")
	s.Require().NoError(err)
	return e
}

// step advances the clock by d and ticks every engine
func (s *EngineSuite) step(d time.Duration) {
	s.clock.Advance(d)
	s.manager.Tick(s.clock.Now())
}

// playRound starts a round and ticks once per second until it settles
func (s *EngineSuite) playRound(e *Engine, collect int) {
	_, err := e.Start(s.clock.Now())
	s.Require().NoError(err)

	collected := 0
	for e.State() == model.SessionStatePlaying {
		s.step(time.Second)
		if collected < collect && e.State() == model.SessionStatePlaying {
			snap := e.Snapshot(s.clock.Now())
			s.Require().NotEmpty(snap.Round.Items)
			_, err := e.Collect(snap.Round.Items[0].ID, s.clock.Now())
			s.Require().NoError(err)
			collected++
		}
	}
	s.manager.Settler().Wait()
}

// Load tests

func (s *EngineSuite) TestOpenCreatesAccountAndIsEligible() {
	e := s.open()

	s.Equal(model.SessionStateEligible, e.State())

	acct, err := s.storage.GetAccount(s.ctx, testUser)
	s.Require().NoError(err)
	s.Equal("alice", acct.DisplayName)
	s.Equal(int64(0), acct.Balance)
	s.Nil(acct.LastPlayedAt)
}

func (s *EngineSuite) TestOpenWithinCooldownIsLocked() {
	_, _ = s.storage.CreateAccount(s.ctx, testUser, "alice", s.start)
	s.Require().NoError(s.storage.UpdateBalanceAndTimestamp(s.ctx, testUser, 12, s.start.Add(-time.Hour), nil))

	e := s.open()
	snap := e.Snapshot(s.clock.Now())

	s.Equal(model.SessionStateLocked, snap.State)
	s.Equal(int64(12), snap.Balance)
	s.Equal(23*60*60, snap.CooldownRemaining)
	s.Require().NotNil(snap.CooldownDeadline)
	s.True(s.start.Add(23 * time.Hour).Equal(*snap.CooldownDeadline))
}

func (s *EngineSuite) TestOpenAfterCooldownIsEligible() {
	_, _ = s.storage.CreateAccount(s.ctx, testUser, "alice", s.start)
	s.Require().NoError(s.storage.UpdateBalanceAndTimestamp(s.ctx, testUser, 3, s.start.Add(-25*time.Hour), nil))

	e := s.open()
	s.Equal(model.SessionStateEligible, e.State())
}

func (s *EngineSuite) TestOpenRetriesTransientReadFailures() {
	s.storage.FailGets(2)

	e := s.open()
	s.Equal(model.SessionStateEligible, e.State())
}

func (s *EngineSuite) TestOpenStaysLoadingWhenStoreUnavailable() {
	s.storage.FailGets(100)

	_, err := s.manager.Open(s.ctx, testUser, "alice")
	s.ErrorIs(err, model.ErrStoreUnavailable)

	e, ok := s.manager.Get(testUser)
	s.Require().True(ok)
	s.Equal(model.SessionStateLoading, e.State())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.LoadFailures))

	_, err = e.Start(s.clock.Now())
	s.ErrorIs(err, model.ErrSessionNotLoaded)

	// Recovers on the next open once the store is back
	s.storage.FailGets(0)
	e, err = s.manager.Open(s.ctx, testUser, "alice")
	s.Require().NoError(err)
	s.Equal(model.SessionStateEligible, e.State())
}

func (s *EngineSuite) TestOpenReturnsSameEngine() {
	a := s.open()
	b := s.open()

	s.Same(a, b)
	s.Equal(1, s.manager.ActiveEngines())
}

// Round tests

func (s *EngineSuite) TestStartRound() {
	s.random.QueueRoundID("R1")
	e := s.open()

	snap, err := e.Start(s.clock.Now())
	s.Require().NoError(err)

	s.Equal(model.SessionStatePlaying, snap.State)
	s.Require().NotNil(snap.Round)
	s.Equal(model.RoundID("R1"), snap.Round.ID)
	s.Equal(0, snap.Round.Score)
	s.Equal(60, snap.Round.TimeRemaining)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RoundsStarted))
}

func (s *EngineSuite) TestTickSpawnsOneItemPerTick() {
	s.random.QueueIntn(42)
	e := s.open()
	_, _ = e.Start(s.clock.Now())

	s.step(time.Second)

	snap := e.Snapshot(s.clock.Now())
	s.Require().Len(snap.Round.Items, 1)
	s.Equal(model.ItemID("item-1"), snap.Round.Items[0].ID)
	s.Equal(42, snap.Round.Items[0].Lane)
	s.True(s.clock.Now().Add(5 * time.Second).Equal(snap.Round.Items[0].ExpiresAt))
	s.Equal(59, snap.Round.TimeRemaining)

	spawned := s.recorder.OfType(model.EventItemSpawned)
	s.Require().Len(spawned, 1)
	s.Equal(model.ItemID("item-1"), spawned[0].Payload.(model.ItemSpawnedPayload).Item.ID)
}

func (s *EngineSuite) TestFullRoundWithoutCollectionsKeepsBalance() {
	e := s.open()

	s.playRound(e, 0)

	s.Equal(model.SessionStateLocked, e.State())
	acct, err := s.storage.GetAccount(s.ctx, testUser)
	s.Require().NoError(err)
	s.Equal(int64(0), acct.Balance)
	s.Require().NotNil(acct.LastPlayedAt)
	s.True(s.start.Add(60 * time.Second).Equal(*acct.LastPlayedAt))
}

func (s *EngineSuite) TestShortRoundWithFiveCollectionsScoresFive() {
	s.cfg.RoundDuration = 10 * time.Second
	s.buildManager()
	e := s.open()

	s.playRound(e, 5)

	settled := s.recorder.OfType(model.EventRoundSettled)
	s.Require().Len(settled, 1)
	s.Equal(5, settled[0].Payload.(model.RoundSettledPayload).Score)

	acct, err := s.storage.GetAccount(s.ctx, testUser)
	s.Require().NoError(err)
	s.Equal(int64(5), acct.Balance)
	s.Equal(1, s.storage.Updates())
}

func (s *EngineSuite) TestRoundSettlesExactlyOnce() {
	s.cfg.RoundDuration = 3 * time.Second
	s.buildManager()
	e := s.open()
	_, _ = e.Start(s.clock.Now())

	// A late tick well past the end, then more ticks
	s.step(10 * time.Second)
	s.step(time.Second)
	s.step(time.Second)
	s.manager.Settler().Wait()

	s.Len(s.recorder.OfType(model.EventRoundSettled), 1)
	s.Equal(1, s.storage.Updates())
}

func (s *EngineSuite) TestCooldownRightAfterSettle() {
	e := s.open()
	s.playRound(e, 0)

	s.step(time.Second)

	snap := e.Snapshot(s.clock.Now())
	s.Equal(model.SessionStateLocked, snap.State)
	s.Equal(86399, snap.CooldownRemaining)

	ticks := s.recorder.OfType(model.EventTick)
	last := ticks[len(ticks)-1].Payload.(model.TickPayload)
	s.Equal(model.SessionStateLocked, last.State)
	s.Equal(86399, last.CooldownRemaining)
}

func (s *EngineSuite) TestCountdownReachingZeroBecomesEligibleOnTick() {
	e := s.open()
	s.playRound(e, 0)

	// Past the deadline but no tick yet
	s.clock.Advance(24 * time.Hour)
	s.Equal(model.SessionStateLocked, e.State())
	_, err := e.Start(s.clock.Now())
	s.ErrorIs(err, model.ErrNotEligible)

	s.manager.Tick(s.clock.Now())
	s.Equal(model.SessionStateEligible, e.State())

	_, err = e.Start(s.clock.Now())
	s.NoError(err)
}

func (s *EngineSuite) TestZeroCooldownReturnsStraightToEligible() {
	s.cfg.Cooldown = 0
	s.cfg.RoundDuration = 3 * time.Second
	s.buildManager()
	e := s.open()

	s.playRound(e, 2)
	s.Equal(model.SessionStateEligible, e.State())

	s.playRound(e, 1)

	acct, err := s.storage.GetAccount(s.ctx, testUser)
	s.Require().NoError(err)
	s.Equal(int64(3), acct.Balance)
	s.Empty(e.Snapshot(s.clock.Now()).Warning)
}

func (s *EngineSuite) TestCalendarPolicyUnlocksAtMidnight() {
	s.cfg.CooldownPolicy = "calendar"
	s.cfg.RoundDuration = 2 * time.Second
	s.buildManager()
	e := s.open()

	s.playRound(e, 0)
	s.Equal(model.SessionStateLocked, e.State())

	midnight := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s.clock.Set(midnight.Add(-time.Second))
	s.manager.Tick(s.clock.Now())
	s.Equal(model.SessionStateLocked, e.State())

	s.step(time.Second)
	s.Equal(model.SessionStateEligible, e.State())
}

// Start and collect rejection tests

func (s *EngineSuite) TestStartWhilePlayingFails() {
	e := s.open()
	_, _ = e.Start(s.clock.Now())

	_, err := e.Start(s.clock.Now())
	s.ErrorIs(err, model.ErrRoundInProgress)
}

func (s *EngineSuite) TestCollectWithoutRoundFails() {
	e := s.open()

	_, err := e.Collect("item-1", s.clock.Now())
	s.ErrorIs(err, model.ErrNoActiveRound)
}

func (s *EngineSuite) TestCollectUnknownItemFails() {
	e := s.open()
	_, _ = e.Start(s.clock.Now())
	s.step(time.Second)

	_, err := e.Collect("nope", s.clock.Now())
	s.ErrorIs(err, model.ErrItemNotFound)
}

func (s *EngineSuite) TestCollectTwiceFails() {
	e := s.open()
	_, _ = e.Start(s.clock.Now())
	s.step(time.Second)

	score, err := e.Collect("item-1", s.clock.Now())
	s.Require().NoError(err)
	s.Equal(1, score)

	_, err = e.Collect("item-1", s.clock.Now())
	s.ErrorIs(err, model.ErrItemAlreadyCollected)

	// Still rejected after further ticks
	s.step(time.Second)
	_, err = e.Collect("item-1", s.clock.Now())
	s.ErrorIs(err, model.ErrItemAlreadyCollected)
	s.Equal(1, e.Snapshot(s.clock.Now()).Round.Score)
}

func (s *EngineSuite) TestCollectExpiredItemFails() {
	e := s.open()
	_, _ = e.Start(s.clock.Now())
	s.step(time.Second)

	// Item lifetime is 5s; no tick has removed it yet
	s.clock.Advance(5 * time.Second)
	_, err := e.Collect("item-1", s.clock.Now())
	s.ErrorIs(err, model.ErrItemExpired)

	// Once a tick has expired it, it is gone
	s.manager.Tick(s.clock.Now())
	_, err = e.Collect("item-1", s.clock.Now())
	s.ErrorIs(err, model.ErrItemNotFound)
}

func (s *EngineSuite) TestCollectAfterRoundEndBeforeTickFails() {
	s.cfg.RoundDuration = 2 * time.Second
	s.buildManager()
	e := s.open()
	_, _ = e.Start(s.clock.Now())
	s.step(time.Second)

	s.clock.Advance(time.Second)
	_, err := e.Collect("item-1", s.clock.Now())
	s.ErrorIs(err, model.ErrNoActiveRound)
}

// Settle failure tests

func (s *EngineSuite) TestSettleWriteFailureKeepsMemoryStateAndWarns() {
	s.cfg.RoundDuration = 3 * time.Second
	s.buildManager()
	e := s.open()
	s.storage.FailUpdates(100)

	s.playRound(e, 2)

	snap := e.Snapshot(s.clock.Now())
	s.Equal(model.SessionStateLocked, snap.State)
	s.Equal(int64(2), snap.Balance)
	s.Equal(WarningSettleFailed, snap.Warning)
	s.Equal(3, s.storage.Updates())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SettleFailures.WithLabelValues(metrics.ReasonStore)))
	s.Equal(2.0, testutil.ToFloat64(s.metrics.SettleRetries))
	s.Len(s.recorder.OfType(model.EventSettleFailed), 1)

	acct, _ := s.storage.GetAccount(s.ctx, testUser)
	s.Equal(int64(0), acct.Balance)
}

func (s *EngineSuite) TestSettleWriteRetriesTransientFailure() {
	s.cfg.RoundDuration = 3 * time.Second
	s.buildManager()
	e := s.open()
	s.storage.FailUpdates(1)

	s.playRound(e, 1)

	acct, _ := s.storage.GetAccount(s.ctx, testUser)
	s.Equal(int64(1), acct.Balance)
	s.Empty(e.Snapshot(s.clock.Now()).Warning)
}

func (s *EngineSuite) TestRoundAfterAbandonedWritePersistsBothRounds() {
	s.cfg.Cooldown = 0
	s.cfg.RoundDuration = 3 * time.Second
	s.buildManager()
	e := s.open()

	s.storage.FailUpdates(100)
	s.playRound(e, 2)
	s.Equal(WarningSettleFailed, e.Snapshot(s.clock.Now()).Warning)

	s.storage.FailUpdates(0)
	s.playRound(e, 3)

	snap := e.Snapshot(s.clock.Now())
	s.Equal(int64(5), snap.Balance)
	s.Empty(snap.Warning)
	s.Equal(model.SessionStateEligible, snap.State)
	s.Equal(0.0, testutil.ToFloat64(s.metrics.SettleFailures.WithLabelValues(metrics.ReasonConflict)))

	acct, err := s.storage.GetAccount(s.ctx, testUser)
	s.Require().NoError(err)
	s.Equal(int64(5), acct.Balance)
	s.Require().NotNil(acct.LastPlayedAt)
	s.Require().NotNil(snap.LastPlayedAt)
	s.True(snap.LastPlayedAt.Equal(*acct.LastPlayedAt))
}

func (s *EngineSuite) TestSettleConflictResyncsFromStore() {
	s.cfg.RoundDuration = 3 * time.Second
	s.buildManager()
	e := s.open()

	// Another instance settles for the same user first
	otherPlayedAt := s.start.Add(time.Second)
	s.Require().NoError(s.storage.UpdateBalanceAndTimestamp(s.ctx, testUser, 100, otherPlayedAt, nil))

	s.playRound(e, 1)

	snap := e.Snapshot(s.clock.Now())
	s.Equal(int64(100), snap.Balance)
	s.Require().NotNil(snap.LastPlayedAt)
	s.True(otherPlayedAt.Equal(*snap.LastPlayedAt))
	s.Equal(model.SessionStateLocked, snap.State)
	s.Equal(WarningSettleConflict, snap.Warning)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SettleFailures.WithLabelValues(metrics.ReasonConflict)))

	acct, _ := s.storage.GetAccount(s.ctx, testUser)
	s.Equal(int64(100), acct.Balance)
}

// Event tests

func (s *EngineSuite) TestStateChangeEvents() {
	s.cfg.RoundDuration = 2 * time.Second
	s.buildManager()
	e := s.open()
	s.playRound(e, 0)

	var transitions []model.SessionState
	for _, ev := range s.recorder.OfType(model.EventStateChanged) {
		transitions = append(transitions, ev.Payload.(model.StateChangedPayload).To)
	}
	s.Equal([]model.SessionState{
		model.SessionStateEligible,
		model.SessionStatePlaying,
		model.SessionStateSettling,
		model.SessionStateLocked,
	}, transitions)
}
