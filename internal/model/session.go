package model

import "time"

// SessionState is the phase of a user's session engine
type SessionState string

const (
	SessionStateLoading  SessionState = "loading"  // Account not fetched yet
	SessionStateLocked   SessionState = "locked"   // Cooldown running
	SessionStateEligible SessionState = "eligible" // A round may be started
	SessionStatePlaying  SessionState = "playing"  // Round in progress
	SessionStateSettling SessionState = "settling" // Folding the score into the balance
)

// Eligibility is the result of evaluating an account against a cooldown policy
type Eligibility struct {
	Eligible  bool
	Remaining time.Duration // Zero when eligible
	Deadline  time.Time     // Zero for a never-played account
}

// RemainingSeconds returns the remaining cooldown in whole seconds, rounded up
func (e Eligibility) RemainingSeconds() int {
	return SecondsCeil(e.Remaining)
}

// RoundSnapshot is a read-only view of the active round
type RoundSnapshot struct {
	ID            RoundID
	Score         int
	TimeRemaining int
	EndsAt        time.Time
	Items         []Item
}

// SessionSnapshot is a read-only view of a session engine
type SessionSnapshot struct {
	UserID            UserID
	DisplayName       string
	State             SessionState
	Balance           int64
	LastPlayedAt      *time.Time
	CooldownRemaining int // Seconds
	CooldownDeadline  *time.Time
	Round             *RoundSnapshot
	Warning           string
}
