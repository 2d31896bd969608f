package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/mcoot/coinfall/internal/api/response"
	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/storage"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// LeaderboardHandler ranks accounts by balance
type LeaderboardHandler struct {
	storage storage.Storage
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(storage storage.Storage) *LeaderboardHandler {
	return &LeaderboardHandler{
		storage: storage,
	}
}

// Get handles GET /api/v1/leaderboard?limit=N
func (h *LeaderboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLeaderboardLimit {
			WriteError(w, NewInvalidRequestError("limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	accounts, err := h.storage.TopAccounts(r.Context(), limit)
	if err != nil {
		WriteError(w, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err))
		return
	}

	response.JSON(w, http.StatusOK, response.LeaderboardFromModel(accounts))
}
