package model

import "errors"

// Common errors used across the application
var (
	// Identity errors
	ErrIdentityUnavailable = errors.New("identity unavailable")

	// Account errors
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountConflict = errors.New("account was modified concurrently")

	// Session errors
	ErrSessionNotLoaded = errors.New("session is not loaded")
	ErrNotEligible      = errors.New("cooldown has not elapsed")
	ErrRoundInProgress  = errors.New("round is in progress")
	ErrNoActiveRound    = errors.New("no active round")

	// Item errors
	ErrItemNotFound         = errors.New("item not found")
	ErrItemAlreadyCollected = errors.New("item already collected")
	ErrItemExpired          = errors.New("item has expired")

	// Store errors
	ErrStoreUnavailable = errors.New("account store unavailable")
)
