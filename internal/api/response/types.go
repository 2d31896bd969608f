package response

import (
	"sort"
	"time"

	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/services/auth"
)

// User represents an authenticated user in API responses
type User struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
}

// AuthResponse is the response for authentication endpoints
type AuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *auth.Session) AuthResponse {
	return AuthResponse{
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		User: User{
			ID:          int64(s.UserID),
			DisplayName: s.DisplayName,
		},
	}
}

// Item represents a collectible item
type Item struct {
	ID        string    `json:"id"`
	Lane      int       `json:"lane"`
	SpawnedAt time.Time `json:"spawned_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ItemFromModel converts model.Item
func ItemFromModel(i model.Item) Item {
	return Item{
		ID:        string(i.ID),
		Lane:      i.Lane,
		SpawnedAt: i.SpawnedAt,
		ExpiresAt: i.ExpiresAt,
	}
}

// Round represents the active round
type Round struct {
	ID            string    `json:"id"`
	Score         int       `json:"score"`
	TimeRemaining int       `json:"time_remaining"`
	EndsAt        time.Time `json:"ends_at"`
	Items         []Item    `json:"items"`
}

// RoundFromModel converts model.RoundSnapshot, ordering items oldest first
func RoundFromModel(r *model.RoundSnapshot) *Round {
	if r == nil {
		return nil
	}
	items := make([]Item, len(r.Items))
	for i, it := range r.Items {
		items[i] = ItemFromModel(it)
	}
	sort.Slice(items, func(a, b int) bool {
		if items[a].SpawnedAt.Equal(items[b].SpawnedAt) {
			return items[a].ID < items[b].ID
		}
		return items[a].SpawnedAt.Before(items[b].SpawnedAt)
	})
	return &Round{
		ID:            string(r.ID),
		Score:         r.Score,
		TimeRemaining: r.TimeRemaining,
		EndsAt:        r.EndsAt,
		Items:         items,
	}
}

// Session represents a user's session engine
type Session struct {
	UserID                   int64      `json:"user_id"`
	DisplayName              string     `json:"display_name"`
	State                    string     `json:"state"`
	Balance                  int64      `json:"balance"`
	LastPlayedAt             *time.Time `json:"last_played_at"`
	CooldownRemainingSeconds int        `json:"cooldown_remaining_seconds"`
	NextEligibleAt           *time.Time `json:"next_eligible_at,omitempty"`
	Round                    *Round     `json:"round,omitempty"`
	Warning                  string     `json:"warning,omitempty"`
}

// SessionFromModel converts model.SessionSnapshot
func SessionFromModel(s model.SessionSnapshot) Session {
	return Session{
		UserID:                   int64(s.UserID),
		DisplayName:              s.DisplayName,
		State:                    string(s.State),
		Balance:                  s.Balance,
		LastPlayedAt:             s.LastPlayedAt,
		CooldownRemainingSeconds: s.CooldownRemaining,
		NextEligibleAt:           s.CooldownDeadline,
		Round:                    RoundFromModel(s.Round),
		Warning:                  s.Warning,
	}
}

// CollectResponse is the response after collecting an item
type CollectResponse struct {
	Score int `json:"score"`
}

// LeaderboardEntry is one ranked account
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	UserID      int64  `json:"user_id"`
	DisplayName string `json:"display_name"`
	Balance     int64  `json:"balance"`
}

// LeaderboardResponse lists the top accounts by balance
type LeaderboardResponse struct {
	Entries []LeaderboardEntry `json:"entries"`
}

// LeaderboardFromModel ranks accounts in the order given
func LeaderboardFromModel(accounts []*model.UserAccount) LeaderboardResponse {
	entries := make([]LeaderboardEntry, len(accounts))
	for i, a := range accounts {
		entries[i] = LeaderboardEntry{
			Rank:        i + 1,
			UserID:      int64(a.UserID),
			DisplayName: a.DisplayName,
			Balance:     a.Balance,
		}
	}
	return LeaderboardResponse{Entries: entries}
}

// HealthResponse is the response for the health endpoint
type HealthResponse struct {
	Status        string    `json:"status"`
	Time          time.Time `json:"time"`
	ActiveEngines int       `json:"active_engines"`
}
