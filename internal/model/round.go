package model

import (
	"math"
	"time"
)

// RoundID uniquely identifies a round
type RoundID string

// ItemID is the opaque, single-use identifier of a collectible item
type ItemID string

// Item is one falling collectible spawned during a round
type Item struct {
	ID        ItemID
	Lane      int // Horizontal position hint for the client, 0-89
	SpawnedAt time.Time
	ExpiresAt time.Time
	Collected bool
}

// Collectable returns true if the item can still award a point at now
func (i *Item) Collectable(now time.Time) bool {
	return !i.Collected && now.Before(i.ExpiresAt)
}

// RoundState is the transient state of one scoring window
type RoundState struct {
	ID            RoundID
	UserID        UserID
	Score         int
	TimeRemaining int // Whole seconds, recomputed from EndsAt
	IsActive      bool
	StartedAt     time.Time
	EndsAt        time.Time

	Items map[ItemID]*Item
}

// NewRoundState starts a round at now lasting duration
func NewRoundState(id RoundID, userID UserID, now time.Time, duration time.Duration) *RoundState {
	return &RoundState{
		ID:            id,
		UserID:        userID,
		Score:         0,
		TimeRemaining: SecondsCeil(duration),
		IsActive:      true,
		StartedAt:     now,
		EndsAt:        now.Add(duration),
		Items:         make(map[ItemID]*Item),
	}
}

// Refresh recomputes TimeRemaining from the wall clock and reports whether the
// round has run out
func (r *RoundState) Refresh(now time.Time) bool {
	r.TimeRemaining = SecondsCeil(r.EndsAt.Sub(now))
	return r.TimeRemaining == 0
}

// ExpireItems drops items that can no longer be collected.
// Collected items stay so a repeated collection is still rejected.
func (r *RoundState) ExpireItems(now time.Time) []ItemID {
	var expired []ItemID
	for id, item := range r.Items {
		if !item.Collected && !now.Before(item.ExpiresAt) {
			expired = append(expired, id)
			delete(r.Items, id)
		}
	}
	return expired
}

// LiveItems returns the items that are still collectable at now
func (r *RoundState) LiveItems(now time.Time) []Item {
	items := make([]Item, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Collectable(now) {
			items = append(items, *item)
		}
	}
	return items
}

// SecondsCeil converts a duration to whole seconds, rounding up and clamping at 0
func SecondsCeil(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
