package eligibility

import (
	"time"

	"github.com/mcoot/coinfall/internal/model"
)

// ApplyRoundResult returns a copy of account with the round's score credited
// and the cooldown clock reset to playedAt. Negative scores credit nothing.
//
// Calling it twice for the same round credits twice; the session engine calls
// it exactly once per settled round.
func ApplyRoundResult(account *model.UserAccount, score int, playedAt time.Time) *model.UserAccount {
	next := account.Clone()
	if score > 0 {
		next.Balance += int64(score)
	}
	t := playedAt
	next.LastPlayedAt = &t
	next.UpdatedAt = playedAt
	return next
}
