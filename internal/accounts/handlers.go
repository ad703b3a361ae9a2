// ABOUTME: HTTP surface for the accounts service.
// ABOUTME: Registration and token routes are public; me and search need a bearer token.

package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/AlexStMEfan/chatplatphorm/internal/auth"
)

// HandlerConfig carries the dependencies for NewHandler.
type HandlerConfig struct {
	Service  *Service
	Verifier auth.TokenVerifier
	Logger   *slog.Logger
}

// Handler serves the auth service's HTTP routes.
type Handler struct {
	service  *Service
	verifier auth.TokenVerifier
	logger   *slog.Logger
}

// NewHandler validates the config and returns a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Service == nil {
		return nil, errors.New("service is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  cfg.Service,
		verifier: cfg.Verifier,
		logger:   logger.With("component", "accounts-http"),
	}, nil
}

// Routes returns the mux with every auth route registered.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)

	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)

	authed := func(next http.HandlerFunc) http.Handler {
		return auth.HTTPAuthMiddleware(h.verifier, next)
	}
	mux.Handle("GET /auth/me", authed(h.handleMe))
	mux.Handle("GET /users/search", authed(h.handleSearch))

	return mux
}

// RegisterRequest is the payload for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// RegisterResponse is the body returned on successful registration.
type RegisterResponse struct {
	UserID uuid.UUID `json:"user_id"`
}

// LoginRequest is the payload for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the payload for POST /auth/refresh and /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// UserResponse is an account as returned to clients. It never carries the
// password hash.
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchResponse is the body for GET /users/search.
type SearchResponse struct {
	Users []UserResponse `json:"users"`
}

func userResponse(u *User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Provider:  u.Provider,
		CreatedAt: u.CreatedAt,
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	userID, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.serviceError(w, "register", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, RegisterResponse{UserID: userID})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	pair, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.serviceError(w, "login", err)
		return
	}
	h.writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		h.sendJSONError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.serviceError(w, "refresh", err)
		return
	}
	h.writeJSON(w, http.StatusOK, pair)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RefreshToken == "" {
		h.sendJSONError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken); err != nil {
		h.serviceError(w, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		h.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := h.service.Me(r.Context(), ac.UserID)
	if err != nil {
		h.serviceError(w, "me", err)
		return
	}
	h.writeJSON(w, http.StatusOK, userResponse(u))
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit := DefaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	users, err := h.service.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.serviceError(w, "search", err)
		return
	}

	resp := SearchResponse{Users: make([]UserResponse, 0, len(users))}
	for _, u := range users {
		resp.Users = append(resp.Users, userResponse(u))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// serviceError maps service errors onto HTTP statuses.
func (h *Handler) serviceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword):
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEmailTaken):
		h.sendJSONError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, ErrInvalidCredentials):
		h.sendJSONError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrUserNotFound):
		h.sendJSONError(w, http.StatusNotFound, "user not found")
	default:
		h.logger.Error(op+" failed", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) sendJSONError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}
