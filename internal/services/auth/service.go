package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mcoot/coinfall/internal/dependencies/clock"
	"github.com/mcoot/coinfall/internal/model"
	"github.com/mcoot/coinfall/internal/services/identity"
)

// Errors
var (
	ErrInvalidSession = errors.New("invalid or expired session")
)

// Session represents an authenticated session
type Session struct {
	Token       string
	UserID      model.UserID
	DisplayName string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// claims are the JWT claims carried by a session token
type claims struct {
	UserID      int64  `json:"uid"`
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// Service exchanges verified identities for signed session tokens
type Service struct {
	identity identity.Provider
	clock    clock.Clock
	logger   *slog.Logger

	secret          []byte
	issuer          string
	sessionDuration time.Duration
}

// Config holds configuration for the auth service
type Config struct {
	Secret          string
	Issuer          string
	SessionDuration time.Duration
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		Issuer:          "coinfall",
		SessionDuration: 24 * time.Hour,
	}
}

// New creates a new AuthService
func New(identity identity.Provider, clock clock.Clock, cfg Config, logger *slog.Logger) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: token secret is required")
	}
	if cfg.SessionDuration == 0 {
		cfg.SessionDuration = DefaultConfig().SessionDuration
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultConfig().Issuer
	}
	return &Service{
		identity:        identity,
		clock:           clock,
		logger:          logger,
		secret:          []byte(cfg.Secret),
		issuer:          cfg.Issuer,
		sessionDuration: cfg.SessionDuration,
	}, nil
}

// LoginWithTelegram verifies Telegram init data and issues a session
func (s *Service) LoginWithTelegram(ctx context.Context, initData string) (*Session, error) {
	id, err := s.identity.CurrentUser(initData)
	if err != nil {
		s.logger.Warn("identity rejected", slog.String("error", err.Error()))
		return nil, err
	}

	session, err := s.createSession(id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("session issued",
		slog.Int64("user_id", int64(id.ID)),
		slog.String("display_name", id.DisplayName),
	)
	return session, nil
}

// ValidateSession checks if a session token is valid and returns the session
func (s *Service) ValidateSession(token string) (*Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(_ *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.UserID == 0 {
		return nil, ErrInvalidSession
	}

	session := &Session{
		Token:       token,
		UserID:      model.UserID(c.UserID),
		DisplayName: c.DisplayName,
	}
	if c.IssuedAt != nil {
		session.CreatedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		session.ExpiresAt = c.ExpiresAt.Time
	}
	return session, nil
}

// createSession signs a token for an identity
func (s *Service) createSession(id identity.Identity) (*Session, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.sessionDuration)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:      int64(id.ID),
		DisplayName: id.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   fmt.Sprintf("%d", id.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	return &Session{
		Token:       signed,
		UserID:      id.ID,
		DisplayName: id.DisplayName,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}, nil
}
