package model

import "time"

// UserID is the stable numeric identifier assigned by the identity provider
type UserID int64

// UserAccount is the persisted per-user record
type UserAccount struct {
	UserID       UserID
	DisplayName  string
	Balance      int64
	LastPlayedAt *time.Time // nil until the first settled round
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUserAccount returns a never-played account with a zero balance
func NewUserAccount(id UserID, displayName string, now time.Time) *UserAccount {
	return &UserAccount{
		UserID:      id,
		DisplayName: displayName,
		Balance:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of the account
func (a *UserAccount) Clone() *UserAccount {
	c := *a
	if a.LastPlayedAt != nil {
		t := *a.LastPlayedAt
		c.LastPlayedAt = &t
	}
	return &c
}

// HasPlayed returns true once a round has been settled for this account
func (a *UserAccount) HasPlayed() bool {
	return a.LastPlayedAt != nil
}

// Timestamp normalizes a time for persistence.
// Millisecond precision survives every store, so compare-and-swap on the
// stored value round-trips exactly.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// SameTimestamp compares two optional timestamps
func SameTimestamp(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
