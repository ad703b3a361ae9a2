// ABOUTME: WebSocket upgrade handler that authenticates clients and runs sessions
// ABOUTME: Tracks live sessions so shutdown can close them gracefully

package session

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AlexStMEfan/chatplatphorm/internal/auth"
	"github.com/AlexStMEfan/chatplatphorm/internal/fanout"
	"github.com/AlexStMEfan/chatplatphorm/internal/metrics"
	"github.com/AlexStMEfan/chatplatphorm/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The browser clients live on other origins; tokens gate access, not
	// the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandlerConfig wires the session handler's collaborators.
type HandlerConfig struct {
	Verifier *auth.JWTVerifier
	Store    store.Store
	Manager  *fanout.Manager
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Handler upgrades HTTP requests to WebSocket sessions. Authentication
// happens after the upgrade so failures surface as close frames the client
// library can read, not opaque handshake errors.
type Handler struct {
	verifier *auth.JWTVerifier
	store    store.Store
	manager  *fanout.Manager
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// NewHandler validates the configuration and builds a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Verifier == nil {
		return nil, errors.New("verifier is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Manager == nil {
		return nil, errors.New("fanout manager is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		verifier: cfg.Verifier,
		store:    cfg.Store,
		manager:  cfg.Manager,
		logger:   logger.With("component", "session"),
		metrics:  cfg.Metrics,
		sessions: make(map[*Session]struct{}),
	}, nil
}

// ServeHTTP upgrades the connection, authenticates the bearer token, and
// serves the session until the client leaves or the server shuts down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, hasToken := auth.TokenFromRequest(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Debug("upgrade failed", "error", err)
		return
	}

	if !hasToken {
		h.reject(conn, "missing token")
		return
	}
	claims, err := h.verifier.VerifyClaims(token)
	if err != nil {
		h.reject(conn, "invalid token")
		return
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		h.reject(conn, "invalid token subject")
		return
	}

	sess := newSession(userID, conn, h)
	if !h.track(sess) {
		h.closeConn(conn, websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer h.untrack(sess)

	if h.metrics != nil {
		h.metrics.SessionOpened()
		defer h.metrics.SessionClosed()
	}

	h.logger.Info("session opened", "user_id", userID, "remote", r.RemoteAddr)
	sess.run()
	h.logger.Info("session closed", "user_id", userID)
}

func (h *Handler) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s] = struct{}{}
	return true
}

func (h *Handler) untrack(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// SessionCount reports the number of live sessions.
func (h *Handler) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close stops accepting new sessions and tells every live session the
// server is going away. Sessions finish tearing down on their own
// goroutines.
func (h *Handler) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	open := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	for _, s := range open {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// reject closes a freshly upgraded connection with a policy violation.
func (h *Handler) reject(conn *websocket.Conn, reason string) {
	h.logger.Warn("session rejected", "reason", reason)
	h.closeConn(conn, websocket.ClosePolicyViolation, reason)
}

func (h *Handler) closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = conn.Close()
}
