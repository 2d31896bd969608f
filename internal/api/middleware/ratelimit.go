package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mcoot/coinfall/internal/api/apierr"
	"github.com/mcoot/coinfall/internal/dependencies/clock"
	"github.com/mcoot/coinfall/internal/model"
)

// UserLimiter keeps a token bucket per authenticated user
type UserLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[model.UserID]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewUserLimiter allows each user perSecond requests with the given burst
func NewUserLimiter(perSecond float64, burst int) *UserLimiter {
	return &UserLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: make(map[model.UserID]*bucket),
	}
}

// Allow reports whether the user may make a request at now
func (l *UserLimiter) Allow(userID model.UserID, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Prune drops buckets unused since before now minus idle
func (l *UserLimiter) Prune(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) >= idle {
			delete(l.buckets, id)
			removed++
		}
	}
	return removed
}

// RateLimit rejects requests beyond the authenticated user's allowance.
// It must run after Auth.
func RateLimit(l *UserLimiter, clk clock.Clock, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := MustGetSession(r.Context())
			if !l.Allow(session.UserID, clk.Now()) {
				logger.Warn("rate limit exceeded",
					slog.Int64("user_id", int64(session.UserID)),
					slog.String("path", r.URL.Path),
				)
				apierr.WriteError(w, apierr.NewRateLimitedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
