// ABOUTME: REST API for sending messages and working with stored history
// ABOUTME: Routes, auth wiring, metrics instrumentation, and shared helpers

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AlexStMEfan/chatplatphorm/internal/auth"
	"github.com/AlexStMEfan/chatplatphorm/internal/event"
	"github.com/AlexStMEfan/chatplatphorm/internal/metrics"
	"github.com/AlexStMEfan/chatplatphorm/internal/store"
)

// readyTimeout bounds the dependency probes behind /health/ready.
const readyTimeout = 5 * time.Second

// EventPublisher is the bus side of the send path. The Kafka producer
// satisfies it; tests substitute a recorder.
type EventPublisher interface {
	Publish(ctx context.Context, ev *event.ChatEvent) error
	Ping(ctx context.Context) error
}

// Config wires the API's collaborators.
type Config struct {
	Store     store.Store
	Publisher EventPublisher
	Verifier  auth.TokenVerifier
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// API serves the chat service's REST surface.
type API struct {
	store     store.Store
	publisher EventPublisher
	verifier  auth.TokenVerifier
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewAPI validates the configuration and builds an API.
func NewAPI(cfg Config) (*API, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		verifier:  cfg.Verifier,
		logger:    logger.With("component", "httpapi"),
		metrics:   cfg.Metrics,
	}, nil
}

// Routes builds the ServeMux for the REST surface. Reads are public;
// every mutating route runs behind bearer token authentication, and
// the permanent delete additionally requires the admin role.
func (a *API) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /health/ready", a.handleReady)

	authed := func(h http.HandlerFunc) http.Handler {
		return auth.HTTPAuthMiddleware(a.verifier, h)
	}
	admin := func(h http.HandlerFunc) http.Handler {
		return auth.HTTPAuthMiddleware(a.verifier, auth.RequireAdmin(h))
	}

	mux.Handle("POST /chats/{chat_id}/messages", a.instrument(authed(a.handleSendMessage)))
	mux.Handle("GET /chats/{chat_id}/messages", a.instrument(http.HandlerFunc(a.handleChatHistory)))

	mux.Handle("PUT /messages/{message_id}", a.instrument(authed(a.handleEditMessage)))
	mux.Handle("DELETE /messages/{message_id}", a.instrument(authed(a.handleDeleteMessage)))
	mux.Handle("POST /messages/{message_id}/restore", a.instrument(authed(a.handleRestoreMessage)))
	mux.Handle("DELETE /messages/{message_id}/permanent", a.instrument(admin(a.handleHardDeleteMessage)))
	mux.Handle("POST /messages/{message_id}/media", a.instrument(authed(a.handleAttachMedia)))
	mux.Handle("GET /messages/{message_id}/edits", a.instrument(http.HandlerFunc(a.handleMessageEdits)))

	return mux
}

// handleHealth returns 200 OK if the server is alive.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store and the bus both answer.
func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("store not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	if err := a.publisher.Ping(ctx); err != nil {
		a.logger.Warn("bus not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// statusRecorder captures the response code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records one sample per request, labelled with the matched
// route pattern so message and chat ids stay out of the label set.
func (a *API) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		if a.metrics != nil {
			route := strings.TrimSpace(strings.TrimPrefix(r.Pattern, r.Method))
			a.metrics.RecordHTTPRequest(r.Method, route, rec.status)
		}
	})
}

func (a *API) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// identity pulls the authenticated caller installed by the auth middleware.
func (a *API) identity(w http.ResponseWriter, r *http.Request) (*auth.AuthContext, bool) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		a.sendJSONError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	return ac, true
}

// parseLimit reads the optional limit query parameter, clamped to max.
// A missing parameter selects def; zero or negative values are rejected.
func (a *API) parseLimit(w http.ResponseWriter, r *http.Request, def, max int) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return def, true
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed < 1 {
		a.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if parsed > max {
		parsed = max
	}
	return parsed, true
}
