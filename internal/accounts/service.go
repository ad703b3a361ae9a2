// ABOUTME: Account lifecycle service: register, login, refresh, logout, lookup.
// ABOUTME: Mints HS256 access tokens and opaque rotating refresh tokens.

package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AlexStMEfan/chatplatphorm/internal/auth"
)

const (
	// MinPasswordLength is the shortest password Register accepts.
	MinPasswordLength = 8

	// DefaultAccessTokenTTL bounds how long a minted JWT stays valid.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL bounds how long a refresh token stays valid
	// without rotation.
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour

	// DefaultSearchLimit and MaxSearchLimit bound user search result pages.
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

var (
	// ErrInvalidCredentials is returned for any login or refresh failure the
	// caller should not be able to distinguish: unknown email, wrong
	// password, unknown or expired refresh token.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrWeakPassword is returned when a registration password is too short.
	ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

	// ErrInvalidEmail is returned when a registration email is missing or malformed.
	ErrInvalidEmail = errors.New("a valid email is required")
)

// ServiceConfig carries the dependencies for NewService.
type ServiceConfig struct {
	Users    UserStore
	Sessions SessionStore
	Verifier *auth.JWTVerifier

	// AccessTokenTTL and RefreshTokenTTL default to DefaultAccessTokenTTL
	// and DefaultRefreshTokenTTL when zero.
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	Logger *slog.Logger
}

// Service implements the account operations behind the auth HTTP surface.
type Service struct {
	users      UserStore
	sessions   SessionStore
	verifier   *auth.JWTVerifier
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

// NewService validates the config and returns an accounts service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Users == nil {
		return nil, errors.New("user store is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:      cfg.Users,
		sessions:   cfg.Sessions,
		verifier:   cfg.Verifier,
		accessTTL:  cfg.AccessTokenTTL,
		refreshTTL: cfg.RefreshTokenTTL,
		logger:     logger.With("component", "accounts"),
	}, nil
}

// TokenPair is what login and refresh hand back to clients.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Register creates a new local account and returns its id.
func (s *Service) Register(ctx context.Context, email, password, name string) (uuid.UUID, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return uuid.Nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return uuid.Nil, ErrWeakPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return uuid.Nil, fmt.Errorf("hashing password: %w", err)
	}

	u := &User{
		ID:           uuid.New(),
		Email:        email,
		Name:         strings.TrimSpace(name),
		PasswordHash: hash,
		Provider:     "local",
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("user registered", "user_id", u.ID)
	return u.ID, nil
}

// Login verifies the credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	u, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		s.logger.Error("verifying password", "user_id", u.ID, "error", err)
		return nil, ErrInvalidCredentials
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issueTokens(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", "user_id", u.ID)
	return pair, nil
}

// Refresh rotates the refresh token and issues a new token pair. The
// replacement session is written before the old one is deleted.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	sess, err := s.sessions.Get(ctx, refreshToken)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if time.Now().After(sess.ExpiresAt) {
		_ = s.sessions.Delete(ctx, refreshToken)
		return nil, ErrInvalidCredentials
	}

	pair, err := s.issueTokens(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Delete(ctx, refreshToken); err != nil {
		s.logger.Warn("deleting rotated refresh token", "error", err)
	}
	return pair, nil
}

// Logout deletes the session behind the refresh token. Unknown tokens are a
// no-op.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Delete(ctx, refreshToken)
}

// Me returns the account for the given user id.
func (s *Service) Me(ctx context.Context, userID uuid.UUID) (*User, error) {
	return s.users.GetUserByID(ctx, userID)
}

// Search returns active users whose email or name starts with query.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*User{}, nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		limit = MaxSearchLimit
	}
	return s.users.SearchUsers(ctx, query, limit)
}

// Ping verifies both backing stores.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.users.Ping(ctx); err != nil {
		return fmt.Errorf("user store: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	return nil
}

func (s *Service) issueTokens(ctx context.Context, userID uuid.UUID) (*TokenPair, error) {
	access, err := s.verifier.Generate(userID.String(), s.accessTTL)
	if err != nil {
		return nil, fmt.Errorf("minting access token: %w", err)
	}

	refresh, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	sess := &Session{
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(s.refreshTTL),
	}
	if err := s.sessions.Put(ctx, refresh, sess, s.refreshTTL); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// newRefreshToken returns an opaque 256-bit token in hex.
func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
