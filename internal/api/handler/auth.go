package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mcoot/coinfall/internal/api/middleware"
	"github.com/mcoot/coinfall/internal/api/request"
	"github.com/mcoot/coinfall/internal/api/response"
	"github.com/mcoot/coinfall/internal/services/auth"
)

// AuthHandler handles login endpoints
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// Telegram handles POST /api/v1/auth/telegram
func (h *AuthHandler) Telegram(w http.ResponseWriter, r *http.Request) {
	var req request.TelegramAuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	session, err := h.authService.LoginWithTelegram(r.Context(), req.InitData)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AuthResponseFromSession(session))
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustGetSession(r.Context())
	response.JSON(w, http.StatusOK, response.AuthResponseFromSession(session))
}
