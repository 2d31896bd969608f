package sse

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mcoot/coinfall/internal/api/response"
	"github.com/mcoot/coinfall/internal/events"
	"github.com/mcoot/coinfall/internal/model"
)

// Sink broadcasts engine events to the owning user's hub
type Sink struct {
	hubs   *HubManager
	logger *slog.Logger
}

// Ensure Sink implements events.Sink
var _ events.Sink = (*Sink)(nil)

// NewSink creates a new Sink
func NewSink(hubs *HubManager, logger *slog.Logger) *Sink {
	return &Sink{
		hubs:   hubs,
		logger: logger.With(slog.String("component", "sse-sink")),
	}
}

// Publish implements events.Sink. Events for users without a connected
// stream are dropped.
func (s *Sink) Publish(_ context.Context, event model.Event) {
	hub := s.hubs.GetHub(event.UserID)
	if hub == nil {
		return
	}
	msg, err := EncodeEvent(event)
	if err != nil {
		s.logger.Error("sse failed to encode event",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
		return
	}
	hub.Broadcast(msg)
}

// EncodeEvent renders an engine event as an SSE message
func EncodeEvent(event model.Event) ([]byte, error) {
	data, err := json.Marshal(response.EventFromModel(event))
	if err != nil {
		return nil, err
	}
	return formatSSEMessage(string(event.Type), string(data)), nil
}

// EncodeSnapshot renders a session snapshot as the opening message of a stream
func EncodeSnapshot(snap model.SessionSnapshot) ([]byte, error) {
	data, err := json.Marshal(response.SessionFromModel(snap))
	if err != nil {
		return nil, err
	}
	return formatSSEMessage("snapshot", string(data)), nil
}
