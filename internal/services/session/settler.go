package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mcoot/coinfall/internal/metrics"
	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/storage"
)

// SettleWrite is one conditional balance update produced by a settled round
type SettleWrite struct {
	UserID   model.UserID
	RoundID  model.RoundID
	Balance  int64
	PlayedAt time.Time
	// Expected is the LastPlayedAt the store is known to hold
	Expected *time.Time
}

type settleJob struct {
	write SettleWrite
	done  func(SettleWrite, error)
}

// Settler persists settle writes in the background.
// Writes for one user run strictly in submission order; different users
// proceed in parallel.
type Settler struct {
	storage storage.Storage
	retry   RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	queues map[model.UserID][]settleJob
	wg     sync.WaitGroup
}

// NewSettler creates a new Settler
func NewSettler(storage storage.Storage, retry RetryConfig, m *metrics.Metrics, logger *slog.Logger) *Settler {
	return &Settler{
		storage: storage,
		retry:   retry,
		metrics: m,
		logger:  logger,
		queues:  make(map[model.UserID][]settleJob),
	}
}

// Submit queues a write and returns immediately. done is called with the
// write as issued and its final outcome once retries are exhausted or the
// write lands.
func (s *Settler) Submit(w SettleWrite, done func(SettleWrite, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wg.Add(1)
	s.queues[w.UserID] = append(s.queues[w.UserID], settleJob{write: w, done: done})
	if len(s.queues[w.UserID]) == 1 {
		go s.drain(w.UserID)
	}
}

// Pending returns the number of unfinished writes for a user
func (s *Settler) Pending(userID model.UserID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[userID])
}

// Wait blocks until every submitted write has finished
func (s *Settler) Wait() {
	s.wg.Wait()
}

// WaitContext is Wait bounded by ctx
func (s *Settler) WaitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs the queued writes for one user. A write queued behind another
// was built before the earlier outcome was known, so its Expected is replaced
// with what the store holds after the earlier write.
func (s *Settler) drain(userID model.UserID) {
	var (
		carry    *time.Time
		hasCarry bool
	)
	for {
		s.mu.Lock()
		job := s.queues[userID][0]
		s.mu.Unlock()

		w := job.write
		if hasCarry {
			w.Expected = carry
		}
		err := s.write(w)
		switch {
		case err == nil:
			p := w.PlayedAt
			carry, hasCarry = &p, true
		case errors.Is(err, model.ErrAccountConflict), errors.Is(err, model.ErrAccountNotFound):
			carry, hasCarry = nil, false
		default:
			carry, hasCarry = w.Expected, true
		}
		if job.done != nil {
			job.done(w, err)
		}

		s.mu.Lock()
		rest := s.queues[userID][1:]
		if len(rest) == 0 {
			delete(s.queues, userID)
		} else {
			s.queues[userID] = rest
		}
		s.mu.Unlock()
		s.wg.Done()

		if len(rest) == 0 {
			return
		}
	}
}

func (s *Settler) write(w SettleWrite) error {
	attempt := 0
	op := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), s.retry.attemptTimeout())
		defer cancel()

		err := s.storage.UpdateBalanceAndTimestamp(ctx, w.UserID, w.Balance, w.PlayedAt, w.Expected)
		if errors.Is(err, model.ErrAccountConflict) || errors.Is(err, model.ErrAccountNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.metrics.SettleRetries.Inc()
		s.logger.Warn("settle write failed, retrying",
			slog.Int64("user_id", int64(w.UserID)),
			slog.String("round_id", string(w.RoundID)),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	err := backoff.RetryNotify(op, s.retry.newBackOff(), notify)
	if err != nil {
		reason := metrics.ReasonStore
		if errors.Is(err, model.ErrAccountConflict) {
			reason = metrics.ReasonConflict
		}
		s.metrics.SettleFailures.WithLabelValues(reason).Inc()
		s.logger.Error("settle write abandoned",
			slog.Int64("user_id", int64(w.UserID)),
			slog.String("round_id", string(w.RoundID)),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.logger.Debug("settle write persisted",
		slog.Int64("user_id", int64(w.UserID)),
		slog.String("round_id", string(w.RoundID)),
		slog.Int64("balance", w.Balance),
	)
	return nil
}
