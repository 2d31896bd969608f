package model

import "time"

// EventType identifies the type of event
type EventType string

const (
	EventStateChanged  EventType = "state_changed"
	EventTick          EventType = "tick"
	EventItemSpawned   EventType = "item_spawned"
	EventItemCollected EventType = "item_collected"
	EventRoundSettled  EventType = "round_settled"
	EventSettleFailed  EventType = "settle_failed"
)

// Event is the base structure for all events
type Event struct {
	Type      EventType
	Timestamp time.Time
	UserID    UserID
	Payload   any // Type-specific data
}

// StateChangedPayload contains data for state changed events
type StateChangedPayload struct {
	From     SessionState
	To       SessionState
	Snapshot SessionSnapshot
}

// TickPayload contains data for tick events
type TickPayload struct {
	State             SessionState
	CooldownRemaining int
	TimeRemaining     int
}

// ItemSpawnedPayload contains data for item spawned events
type ItemSpawnedPayload struct {
	RoundID RoundID
	Item    Item
}

// ItemCollectedPayload contains data for item collected events
type ItemCollectedPayload struct {
	RoundID RoundID
	ItemID  ItemID
	Score   int
}

// RoundSettledPayload contains data for round settled events
type RoundSettledPayload struct {
	RoundID      RoundID
	Score        int
	Balance      int64
	PlayedAt     time.Time
	NextEligible time.Time
}

// SettleFailedPayload contains data for settle failed events
type SettleFailedPayload struct {
	RoundID RoundID
	Reason  string
}
