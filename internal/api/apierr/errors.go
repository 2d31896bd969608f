package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/services/auth"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest       = "INVALID_REQUEST"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeIdentityUnavailable  = "IDENTITY_UNAVAILABLE"
	CodeAccountNotFound      = "ACCOUNT_NOT_FOUND"
	CodeSessionNotLoaded     = "SESSION_NOT_LOADED"
	CodeNotEligible          = "NOT_ELIGIBLE"
	CodeRoundInProgress      = "ROUND_IN_PROGRESS"
	CodeNoActiveRound        = "NO_ACTIVE_ROUND"
	CodeItemNotFound         = "ITEM_NOT_FOUND"
	CodeItemAlreadyCollected = "ITEM_ALREADY_COLLECTED"
	CodeItemExpired          = "ITEM_EXPIRED"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternalError        = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status an error maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	// Check for specific error types
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	// Map model errors
	switch {
	case errors.Is(err, model.ErrIdentityUnavailable):
		return &httpError{http.StatusUnauthorized, APIError{CodeIdentityUnavailable, "Telegram identity could not be verified"}}
	case errors.Is(err, model.ErrAccountNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeAccountNotFound, "Account not found"}}
	case errors.Is(err, model.ErrSessionNotLoaded):
		return &httpError{http.StatusServiceUnavailable, APIError{CodeSessionNotLoaded, "Session is still loading"}}
	case errors.Is(err, model.ErrNotEligible):
		return &httpError{http.StatusConflict, APIError{CodeNotEligible, "Cooldown has not elapsed"}}
	case errors.Is(err, model.ErrRoundInProgress):
		return &httpError{http.StatusConflict, APIError{CodeRoundInProgress, "A round is already in progress"}}
	case errors.Is(err, model.ErrNoActiveRound):
		return &httpError{http.StatusConflict, APIError{CodeNoActiveRound, "No round in progress"}}
	case errors.Is(err, model.ErrItemNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeItemNotFound, "Item not found"}}
	case errors.Is(err, model.ErrItemAlreadyCollected):
		return &httpError{http.StatusConflict, APIError{CodeItemAlreadyCollected, "Item already collected"}}
	case errors.Is(err, model.ErrItemExpired):
		return &httpError{http.StatusGone, APIError{CodeItemExpired, "Item has expired"}}
	case errors.Is(err, model.ErrStoreUnavailable):
		return &httpError{http.StatusServiceUnavailable, APIError{CodeStoreUnavailable, "Account store unavailable, try again"}}

	// Map auth errors
	case errors.Is(err, auth.ErrInvalidSession):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Invalid or expired session"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
}

// NewRateLimitedError creates a too many requests error
func NewRateLimitedError() error {
	return &httpError{http.StatusTooManyRequests, APIError{CodeRateLimited, "Too many requests"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}
