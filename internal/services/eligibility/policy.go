// Package eligibility decides when an account may play again and folds round
// scores into balances. Everything here is pure: no storage, no clock.
package eligibility

import (
	"fmt"
	"time"

	"github.com/mcoot/coinfall/internal/model"
)

// Policy names
const (
	PolicyRolling  = "rolling"
	PolicyCalendar = "calendar"
)

// DefaultCooldown is the rolling window between rounds
const DefaultCooldown = 24 * time.Hour

// Policy computes the earliest time an account may start another round
type Policy interface {
	// Name returns the policy identifier
	Name() string
	// Deadline returns when the cooldown following lastPlayedAt ends
	Deadline(lastPlayedAt time.Time) time.Time
}

// RollingWindow requires a fixed duration between the end of one round and the
// start of the next
type RollingWindow struct {
	Cooldown time.Duration
}

// Name implements Policy
func (p RollingWindow) Name() string { return PolicyRolling }

// Deadline implements Policy
func (p RollingWindow) Deadline(lastPlayedAt time.Time) time.Time {
	return lastPlayedAt.Add(p.Cooldown)
}

// CalendarDay resets eligibility at midnight in Location
type CalendarDay struct {
	Location *time.Location
}

// Name implements Policy
func (p CalendarDay) Name() string { return PolicyCalendar }

// Deadline implements Policy
func (p CalendarDay) Deadline(lastPlayedAt time.Time) time.Time {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	local := lastPlayedAt.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// NewPolicy builds a policy from its configured name
func NewPolicy(name string, cooldown time.Duration, loc *time.Location) (Policy, error) {
	switch name {
	case "", PolicyRolling:
		if cooldown < 0 {
			return nil, fmt.Errorf("cooldown must not be negative: %s", cooldown)
		}
		return RollingWindow{Cooldown: cooldown}, nil
	case PolicyCalendar:
		return CalendarDay{Location: loc}, nil
	default:
		return nil, fmt.Errorf("unknown cooldown policy %q", name)
	}
}

// Evaluate reports whether account may start a round at now.
// A LastPlayedAt in the future simply means the cooldown has not elapsed yet.
func Evaluate(account *model.UserAccount, now time.Time, policy Policy) model.Eligibility {
	if account == nil || account.LastPlayedAt == nil {
		return model.Eligibility{Eligible: true}
	}

	deadline := policy.Deadline(*account.LastPlayedAt)
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return model.Eligibility{Eligible: true, Deadline: deadline}
	}
	return model.Eligibility{
		Eligible:  false,
		Remaining: remaining,
		Deadline:  deadline,
	}
}
