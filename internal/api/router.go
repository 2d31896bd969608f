package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/coinfall/internal/api/handler"
	"github.com/mcoot/coinfall/internal/api/middleware"
	"github.com/mcoot/coinfall/internal/api/response"
	"github.com/mcoot/coinfall/internal/dependencies/clock"
	"github.com/mcoot/coinfall/internal/metrics"
	commonmw "github.com/mcoot/coinfall/internal/middleware"
	"github.com/mcoot/coinfall/internal/services/auth"
	"github.com/mcoot/coinfall/internal/services/session"
	"github.com/mcoot/coinfall/internal/sse"
	"github.com/mcoot/coinfall/internal/storage"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger         *slog.Logger
	Clock          clock.Clock
	AuthService    *auth.Service
	Sessions       *session.Manager
	Storage        storage.Storage
	HubManager     *sse.HubManager
	Metrics        *metrics.Metrics
	CollectLimiter *middleware.UserLimiter
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	authHandler := handler.NewAuthHandler(cfg.AuthService)
	sessionHandler := handler.NewSessionHandler(cfg.Sessions, cfg.HubManager, cfg.Clock, cfg.Logger)
	leaderboardHandler := handler.NewLeaderboardHandler(cfg.Storage)

	// Create middleware
	authMiddleware := middleware.Auth(cfg.AuthService)
	loggingMiddleware := commonmw.Logging(cfg.Logger)
	recoveryMiddleware := middleware.Recovery(cfg.Logger)
	metricsMiddleware := commonmw.Metrics(cfg.Metrics)

	// Prometheus scrape endpoint sits outside the versioned API
	r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(recoveryMiddleware)
	api.Use(loggingMiddleware)
	api.Use(metricsMiddleware)

	// Auth routes (login needs no token)
	api.HandleFunc("/auth/telegram", authHandler.Telegram).Methods(http.MethodPost)

	authProtected := api.PathPrefix("/auth").Subrouter()
	authProtected.Use(authMiddleware)
	authProtected.HandleFunc("/me", authHandler.Me).Methods(http.MethodGet)

	// Session routes (all require auth)
	sessions := api.PathPrefix("/session").Subrouter()
	sessions.Use(authMiddleware)
	sessions.HandleFunc("", sessionHandler.Get).Methods(http.MethodGet)
	sessions.HandleFunc("/start", sessionHandler.Start).Methods(http.MethodPost)
	sessions.HandleFunc("/events", sessionHandler.Events).Methods(http.MethodGet)

	collect := sessions.PathPrefix("/collect").Subrouter()
	if cfg.CollectLimiter != nil {
		collect.Use(middleware.RateLimit(cfg.CollectLimiter, cfg.Clock, cfg.Logger))
	}
	collect.HandleFunc("", sessionHandler.Collect).Methods(http.MethodPost)

	// Public routes
	api.HandleFunc("/leaderboard", leaderboardHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/health", healthHandler(cfg.Sessions, cfg.Clock)).Methods(http.MethodGet)

	return r
}

func healthHandler(sessions *session.Manager, clk clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, response.HealthResponse{
			Status:        "ok",
			Time:          clk.Now(),
			ActiveEngines: sessions.ActiveEngines(),
		})
	}
}
