// ABOUTME: Assembles the auth-server process: Postgres users, Redis sessions, HTTP.
// ABOUTME: Mirrors the chat server's run loop and graceful shutdown.

package authserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AlexStMEfan/chatplatphorm/internal/accounts"
	"github.com/AlexStMEfan/chatplatphorm/internal/auth"
	"github.com/AlexStMEfan/chatplatphorm/internal/config"
)

const shutdownTimeout = 5 * time.Second

// Server wires the accounts service and its HTTP surface together.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	users    *accounts.PGUserStore
	sessions *accounts.RedisSessionStore

	httpServer *http.Server
}

// New connects both backing stores and builds the HTTP handler. The context
// bounds the initial connection attempts. The auth server's required config
// sections are checked here; config.Validate only covers the shared keys.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg.Postgres.URL == "" {
		return nil, errors.New("postgres.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	users, err := accounts.NewPGUserStore(ctx, cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sessions, err := accounts.NewRedisSessionStore(ctx, cfg.Redis.URL)
	if err != nil {
		users.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	service, err := accounts.NewService(accounts.ServiceConfig{
		Users:           users,
		Sessions:        sessions,
		Verifier:        verifier,
		AccessTokenTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTokenTTL: cfg.Auth.RefreshTokenTTL,
		Logger:          logger,
	})
	if err != nil {
		_ = sessions.Close()
		users.Close()
		return nil, fmt.Errorf("creating accounts service: %w", err)
	}

	handler, err := accounts.NewHandler(accounts.HandlerConfig{
		Service:  service,
		Verifier: verifier,
		Logger:   logger,
	})
	if err != nil {
		_ = sessions.Close()
		users.Close()
		return nil, fmt.Errorf("creating accounts handler: %w", err)
	}

	return &Server{
		cfg:      cfg,
		logger:   logger.With("component", "authserver"),
		users:    users,
		sessions: sessions,
		httpServer: &http.Server{
			Addr:              cfg.Server.AuthAddr,
			Handler:           handler.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run starts the HTTP server and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.AuthAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.AuthAddr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown runs Shutdown with a fresh context; the run context is
// already canceled by the time this is called.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases both stores.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down auth server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "session store close", s.sessions.Close())
	s.users.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// EnsureSchema applies the users table bootstrap DDL.
func (s *Server) EnsureSchema(ctx context.Context) error {
	return s.users.EnsureSchema(ctx)
}
