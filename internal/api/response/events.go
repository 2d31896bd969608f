package response

import (
	"time"

	"github.com/mcoot/coinfall/internal/model"
)

// Event is the wire form of an engine event, shared by SSE and the message bus
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
	Data      any       `json:"data"`
}

// StateChangedData is the data of a state_changed event
type StateChangedData struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	Session Session `json:"session"`
}

// TickData is the data of a tick event
type TickData struct {
	State                    string `json:"state"`
	CooldownRemainingSeconds int    `json:"cooldown_remaining_seconds"`
	TimeRemaining            int    `json:"time_remaining"`
}

// ItemSpawnedData is the data of an item_spawned event
type ItemSpawnedData struct {
	RoundID string `json:"round_id"`
	Item    Item   `json:"item"`
}

// ItemCollectedData is the data of an item_collected event
type ItemCollectedData struct {
	RoundID string `json:"round_id"`
	ItemID  string `json:"item_id"`
	Score   int    `json:"score"`
}

// RoundSettledData is the data of a round_settled event
type RoundSettledData struct {
	RoundID        string    `json:"round_id"`
	Score          int       `json:"score"`
	Balance        int64     `json:"balance"`
	PlayedAt       time.Time `json:"played_at"`
	NextEligibleAt time.Time `json:"next_eligible_at"`
}

// SettleFailedData is the data of a settle_failed event
type SettleFailedData struct {
	RoundID string `json:"round_id"`
	Reason  string `json:"reason"`
}

// EventFromModel converts model.Event, mapping its payload to the wire form
func EventFromModel(e model.Event) Event {
	return Event{
		Type:      string(e.Type),
		Timestamp: e.Timestamp,
		UserID:    int64(e.UserID),
		Data:      eventData(e.Payload),
	}
}

func eventData(payload any) any {
	switch p := payload.(type) {
	case model.StateChangedPayload:
		return StateChangedData{
			From:    string(p.From),
			To:      string(p.To),
			Session: SessionFromModel(p.Snapshot),
		}
	case model.TickPayload:
		return TickData{
			State:                    string(p.State),
			CooldownRemainingSeconds: p.CooldownRemaining,
			TimeRemaining:            p.TimeRemaining,
		}
	case model.ItemSpawnedPayload:
		return ItemSpawnedData{RoundID: string(p.RoundID), Item: ItemFromModel(p.Item)}
	case model.ItemCollectedPayload:
		return ItemCollectedData{RoundID: string(p.RoundID), ItemID: string(p.ItemID), Score: p.Score}
	case model.RoundSettledPayload:
		return RoundSettledData{
			RoundID:        string(p.RoundID),
			Score:          p.Score,
			Balance:        p.Balance,
			PlayedAt:       p.PlayedAt,
			NextEligibleAt: p.NextEligible,
		}
	case model.SettleFailedPayload:
		return SettleFailedData{RoundID: string(p.RoundID), Reason: p.Reason}
	default:
		return payload
	}
}
