package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mcoot/coinfall/internal/api/middleware"
	"github.com/mcoot/coinfall/internal/api/request"
	"github.com/mcoot/coinfall/internal/api/response"
	"github.com/mcoot/coinfall/internal/dependencies/clock"
	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/services/session"
	"github.com/mcoot/coinfall/internal/sse"
)

// SessionHandler handles the caller's session engine
type SessionHandler struct {
	sessions *session.Manager
	hubs     *sse.HubManager
	clock    clock.Clock
	logger   *slog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions *session.Manager, hubs *sse.HubManager, clock clock.Clock, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		hubs:     hubs,
		clock:    clock,
		logger:   logger,
	}
}

// engine returns the caller's loaded engine, writing an error response if it
// cannot be loaded
func (h *SessionHandler) engine(w http.ResponseWriter, r *http.Request) (*session.Engine, bool) {
	sess := middleware.MustGetSession(r.Context())
	engine, err := h.sessions.Open(r.Context(), sess.UserID, sess.DisplayName)
	if err != nil {
		WriteError(w, err)
		return nil, false
	}
	return engine, true
}

// Get handles GET /api/v1/session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, response.SessionFromModel(engine.Snapshot(h.clock.Now())))
}

// Start handles POST /api/v1/session/start
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	snap, err := engine.Start(h.clock.Now())
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.SessionFromModel(snap))
}

// Collect handles POST /api/v1/session/collect
func (h *SessionHandler) Collect(w http.ResponseWriter, r *http.Request) {
	var req request.CollectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}
	if req.ItemID == "" {
		WriteError(w, NewInvalidRequestError("item_id is required"))
		return
	}

	engine, ok := h.engine(w, r)
	if !ok {
		return
	}

	score, err := engine.Collect(model.ItemID(req.ItemID), h.clock.Now())
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.CollectResponse{Score: score})
}

// Events handles GET /api/v1/session/events as a server-sent event stream.
// The first message is the current snapshot; engine events follow.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	engine, ok := h.engine(w, r)
	if !ok {
		return
	}
	release := engine.Watch()
	defer release()

	initial, err := sse.EncodeSnapshot(engine.Snapshot(h.clock.Now()))
	if err != nil {
		h.logger.Error("failed to encode snapshot", slog.String("error", err.Error()))
		WriteError(w, err)
		return
	}

	sse.ServeSSE(w, r, h.hubs.GetOrCreateHub(engine.UserID()), initial)
	engine.Touch(h.clock.Now())
}
