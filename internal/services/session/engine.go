// Package session runs the per-user eligibility and round state machine.
//
// An Engine moves through loading, locked, eligible, playing and settling.
// All countdowns are recomputed from wall-clock deadlines on every tick, so a
// late or skipped tick never drifts the cooldown or the round timer.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mcoot/coinfall/internal/dependencies/clock"
	"github.com/mcoot/coinfall/internal/dependencies/random"
	"github.com/mcoot/coinfall/internal/events"
	"github.com/mcoot/coinfall/internal/metrics"
	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/services/eligibility"
	"github.com/mcoot/coinfall/internal/storage"
)

// Warnings surfaced on the snapshot when a settled round could not be saved
const (
	WarningSettleFailed   = "Your last round could not be saved. Your balance may be out of date."
	WarningSettleConflict = "Your last round was already recorded by another session."
)

// engineDeps are the collaborators shared by every engine of a manager
type engineDeps struct {
	cfg     Config
	policy  eligibility.Policy
	storage storage.Storage
	settler *Settler
	clock   clock.Clock
	random  random.Random
	sink    events.Sink
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Engine is the state machine for a single user
type Engine struct {
	userID model.UserID
	engineDeps

	// loadMu serializes Load so concurrent first requests fetch once
	loadMu sync.Mutex

	mu          sync.Mutex
	displayName string
	state       model.SessionState
	account     *model.UserAccount
	// persisted is the LastPlayedAt the store is known to hold. It lags
	// account while a settle write is outstanding or after one is abandoned.
	persisted   *time.Time
	eligibility model.Eligibility
	round       *model.RoundState
	warning     string
	lastActive  time.Time
	watchers    int
}

func newEngine(userID model.UserID, displayName string, deps engineDeps, now time.Time) *Engine {
	deps.logger = deps.logger.With(slog.Int64("user_id", int64(userID)))
	return &Engine{
		userID:      userID,
		engineDeps:  deps,
		displayName: displayName,
		state:       model.SessionStateLoading,
		lastActive:  now,
	}
}

// UserID returns the user this engine belongs to
func (e *Engine) UserID() model.UserID {
	return e.userID
}

// State returns the current state
func (e *Engine) State() model.SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Load fetches the account, creating it on first sight, and evaluates
// eligibility. Store failures are retried with bounded backoff; if they
// persist the engine stays in loading and ErrStoreUnavailable is returned.
// Loading an engine that has already loaded is a no-op.
func (e *Engine) Load(ctx context.Context, now time.Time) error {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	e.mu.Lock()
	loaded := e.state != model.SessionStateLoading
	displayName := e.displayName
	e.mu.Unlock()
	if loaded {
		return nil
	}

	account, err := e.fetchAccount(ctx, displayName, now)
	if err != nil {
		e.metrics.LoadFailures.Inc()
		e.logger.Error("failed to load account", slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}

	e.mu.Lock()
	e.account = account
	e.persisted = cloneTime(account.LastPlayedAt)
	if e.displayName == "" {
		e.displayName = account.DisplayName
	}
	evs := e.evaluateLocked(now)
	e.mu.Unlock()

	e.logger.Info("session loaded",
		slog.Int64("balance", account.Balance),
		slog.Bool("has_played", account.HasPlayed()),
	)
	e.publish(evs)
	return nil
}

func (e *Engine) fetchAccount(ctx context.Context, displayName string, now time.Time) (*model.UserAccount, error) {
	var account *model.UserAccount
	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Retry.attemptTimeout())
		defer cancel()

		acct, err := e.storage.GetAccount(attemptCtx, e.userID)
		if errors.Is(err, model.ErrAccountNotFound) {
			acct, err = e.storage.CreateAccount(attemptCtx, e.userID, displayName, now)
			if errors.Is(err, model.ErrAccountExists) {
				// Another instance registered the user first
				acct, err = e.storage.GetAccount(attemptCtx, e.userID)
			}
			if err == nil {
				e.logger.Info("account created", slog.String("display_name", displayName))
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		account = acct
		return nil
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("account read failed, retrying",
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(e.cfg.Retry.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	return account, nil
}

// OnTick advances the engine to now. It is the only path from locked to
// eligible and from playing to settling.
func (e *Engine) OnTick(now time.Time) {
	e.mu.Lock()
	var evs []model.Event
	switch e.state {
	case model.SessionStateLocked:
		e.eligibility = eligibility.Evaluate(e.account, now, e.policy)
		if e.eligibility.Eligible {
			evs = e.transitionLocked(model.SessionStateEligible, now)
		} else {
			evs = append(evs, e.event(model.EventTick, now, model.TickPayload{
				State:             model.SessionStateLocked,
				CooldownRemaining: e.eligibility.RemainingSeconds(),
			}))
		}
	case model.SessionStatePlaying:
		evs = e.advanceRoundLocked(now)
	}
	e.mu.Unlock()

	e.publish(evs)
}

// Start begins a round. Only an eligible engine may start one.
func (e *Engine) Start(now time.Time) (model.SessionSnapshot, error) {
	e.mu.Lock()
	switch e.state {
	case model.SessionStateLoading:
		e.mu.Unlock()
		return model.SessionSnapshot{}, model.ErrSessionNotLoaded
	case model.SessionStatePlaying, model.SessionStateSettling:
		e.mu.Unlock()
		return model.SessionSnapshot{}, model.ErrRoundInProgress
	case model.SessionStateLocked:
		e.mu.Unlock()
		return model.SessionSnapshot{}, model.ErrNotEligible
	}

	e.round = model.NewRoundState(model.RoundID(e.random.RoundID()), e.userID, now, e.cfg.RoundDuration)
	evs := e.transitionLocked(model.SessionStatePlaying, now)
	e.metrics.RoundsStarted.Inc()
	e.logger.Info("round started",
		slog.String("round_id", string(e.round.ID)),
		slog.Duration("duration", e.cfg.RoundDuration),
	)
	snap := e.snapshotLocked(now)
	e.mu.Unlock()

	e.publish(evs)
	return snap, nil
}

// Collect claims an item for one point and returns the round score
func (e *Engine) Collect(itemID model.ItemID, now time.Time) (int, error) {
	e.mu.Lock()
	if e.state == model.SessionStateLoading {
		e.mu.Unlock()
		return 0, model.ErrSessionNotLoaded
	}
	if e.state != model.SessionStatePlaying || !now.Before(e.round.EndsAt) {
		e.mu.Unlock()
		return 0, model.ErrNoActiveRound
	}

	item, ok := e.round.Items[itemID]
	if !ok {
		e.mu.Unlock()
		return 0, model.ErrItemNotFound
	}
	if item.Collected {
		e.mu.Unlock()
		return 0, model.ErrItemAlreadyCollected
	}
	if !now.Before(item.ExpiresAt) {
		e.mu.Unlock()
		return 0, model.ErrItemExpired
	}

	item.Collected = true
	e.round.Score++
	score := e.round.Score
	e.metrics.ItemsCollected.Inc()
	ev := e.event(model.EventItemCollected, now, model.ItemCollectedPayload{
		RoundID: e.round.ID,
		ItemID:  itemID,
		Score:   score,
	})
	e.mu.Unlock()

	e.publish([]model.Event{ev})
	return score, nil
}

// Snapshot returns a read-only view of the engine at now
func (e *Engine) Snapshot(now time.Time) model.SessionSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(now)
}

// Touch records activity so the janitor keeps the engine
func (e *Engine) Touch(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now.After(e.lastActive) {
		e.lastActive = now
	}
}

// Watch marks the engine as observed by a live subscriber until the returned
// release func is called
func (e *Engine) Watch() (release func()) {
	e.mu.Lock()
	e.watchers++
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			e.watchers--
			e.mu.Unlock()
		})
	}
}

// idle reports whether the engine can be dropped without losing state
func (e *Engine) idle(now time.Time, idleAfter time.Duration) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == model.SessionStatePlaying || e.state == model.SessionStateSettling {
		return false
	}
	if e.watchers > 0 {
		return false
	}
	return now.Sub(e.lastActive) >= idleAfter
}

func (e *Engine) advanceRoundLocked(now time.Time) []model.Event {
	r := e.round
	r.ExpireItems(now)
	if r.Refresh(now) {
		return e.settleLocked(now)
	}

	item := &model.Item{
		ID:        model.ItemID(e.random.ItemID()),
		Lane:      e.random.Intn(e.cfg.LaneCount),
		SpawnedAt: now,
		ExpiresAt: now.Add(e.cfg.ItemLifetime),
	}
	r.Items[item.ID] = item
	e.metrics.ItemsSpawned.Inc()

	return []model.Event{
		e.event(model.EventTick, now, model.TickPayload{
			State:         model.SessionStatePlaying,
			TimeRemaining: r.TimeRemaining,
		}),
		e.event(model.EventItemSpawned, now, model.ItemSpawnedPayload{
			RoundID: r.ID,
			Item:    *item,
		}),
	}
}

// settleLocked folds the finished round into the account. The write is issued
// before the engine leaves settling and completes in the background.
func (e *Engine) settleLocked(now time.Time) []model.Event {
	r := e.round
	r.IsActive = false
	r.TimeRemaining = 0
	evs := e.transitionLocked(model.SessionStateSettling, now)

	playedAt := model.Timestamp(now)
	prev := e.account
	next := eligibility.ApplyRoundResult(prev, r.Score, playedAt)

	// The balance is cumulative, so it also carries any earlier round whose
	// write was abandoned
	write := SettleWrite{
		UserID:   e.userID,
		RoundID:  r.ID,
		Balance:  next.Balance,
		PlayedAt: playedAt,
		Expected: cloneTime(e.persisted),
	}
	e.settler.Submit(write, e.onSettled)

	e.account = next
	e.round = nil
	e.metrics.RoundsSettled.Inc()
	e.metrics.RoundScore.Observe(float64(r.Score))
	e.logger.Info("round settled",
		slog.String("round_id", string(r.ID)),
		slog.Int("score", r.Score),
		slog.Int64("balance", next.Balance),
	)

	e.eligibility = eligibility.Evaluate(next, now, e.policy)
	evs = append(evs, e.event(model.EventRoundSettled, now, model.RoundSettledPayload{
		RoundID:      r.ID,
		Score:        r.Score,
		Balance:      next.Balance,
		PlayedAt:     playedAt,
		NextEligible: e.policy.Deadline(playedAt),
	}))

	to := model.SessionStateLocked
	if e.eligibility.Eligible {
		to = model.SessionStateEligible
	}
	return append(evs, e.transitionLocked(to, now)...)
}

// onSettled handles the outcome of a background settle write
func (e *Engine) onSettled(w SettleWrite, err error) {
	if err == nil {
		e.mu.Lock()
		e.persisted = cloneTime(&w.PlayedAt)
		if e.warning == WarningSettleFailed {
			e.warning = ""
		}
		e.mu.Unlock()
		return
	}
	if errors.Is(err, model.ErrAccountConflict) {
		e.resync(w)
		return
	}

	now := e.clock.Now()
	e.mu.Lock()
	if e.warning == "" {
		e.warning = WarningSettleFailed
	}
	ev := e.event(model.EventSettleFailed, now, model.SettleFailedPayload{
		RoundID: w.RoundID,
		Reason:  err.Error(),
	})
	e.mu.Unlock()

	e.publish([]model.Event{ev})
}

// resync adopts the stored account after another writer settled first
func (e *Engine) resync(w SettleWrite) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.Retry.attemptTimeout())
	defer cancel()

	stored, err := e.storage.GetAccount(ctx, e.userID)
	now := e.clock.Now()

	e.mu.Lock()
	if e.warning == "" {
		e.warning = WarningSettleConflict
	}
	evs := []model.Event{e.event(model.EventSettleFailed, now, model.SettleFailedPayload{
		RoundID: w.RoundID,
		Reason:  model.ErrAccountConflict.Error(),
	})}
	if err == nil {
		e.account = stored
		e.persisted = cloneTime(stored.LastPlayedAt)
		if e.state == model.SessionStateLocked || e.state == model.SessionStateEligible {
			evs = append(evs, e.evaluateLocked(now)...)
		}
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Error("failed to resync account after conflict", slog.String("error", err.Error()))
	} else {
		e.logger.Warn("account resynced after conflicting settle",
			slog.String("round_id", string(w.RoundID)),
			slog.Int64("balance", stored.Balance),
		)
	}
	e.publish(evs)
}

// evaluateLocked recomputes eligibility and moves to locked or eligible
func (e *Engine) evaluateLocked(now time.Time) []model.Event {
	e.eligibility = eligibility.Evaluate(e.account, now, e.policy)
	if e.eligibility.Eligible {
		return e.transitionLocked(model.SessionStateEligible, now)
	}
	return e.transitionLocked(model.SessionStateLocked, now)
}

func (e *Engine) transitionLocked(to model.SessionState, now time.Time) []model.Event {
	from := e.state
	if from == to {
		return nil
	}
	e.state = to
	e.logger.Debug("session state changed",
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return []model.Event{e.event(model.EventStateChanged, now, model.StateChangedPayload{
		From:     from,
		To:       to,
		Snapshot: e.snapshotLocked(now),
	})}
}

func (e *Engine) snapshotLocked(now time.Time) model.SessionSnapshot {
	snap := model.SessionSnapshot{
		UserID:      e.userID,
		DisplayName: e.displayName,
		State:       e.state,
		Warning:     e.warning,
	}
	if e.account != nil {
		snap.Balance = e.account.Balance
		if e.account.LastPlayedAt != nil {
			t := *e.account.LastPlayedAt
			snap.LastPlayedAt = &t
		}
	}
	if e.state == model.SessionStateLocked {
		deadline := e.eligibility.Deadline
		snap.CooldownRemaining = model.SecondsCeil(deadline.Sub(now))
		snap.CooldownDeadline = &deadline
	}
	if e.round != nil {
		snap.Round = &model.RoundSnapshot{
			ID:            e.round.ID,
			Score:         e.round.Score,
			TimeRemaining: model.SecondsCeil(e.round.EndsAt.Sub(now)),
			EndsAt:        e.round.EndsAt,
			Items:         e.round.LiveItems(now),
		}
	}
	return snap
}

func (e *Engine) event(t model.EventType, now time.Time, payload any) model.Event {
	return model.Event{Type: t, Timestamp: now, UserID: e.userID, Payload: payload}
}

func (e *Engine) publish(evs []model.Event) {
	for _, ev := range evs {
		e.sink.Publish(context.Background(), ev)
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
