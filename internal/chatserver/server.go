// ABOUTME: Assembles the chat-server process: store, bus, fan-out, sessions, REST.
// ABOUTME: Owns startup order, the serve loop, and graceful shutdown.

package chatserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AlexStMEfan/chatplatphorm/internal/auth"
	"github.com/AlexStMEfan/chatplatphorm/internal/bus"
	"github.com/AlexStMEfan/chatplatphorm/internal/config"
	"github.com/AlexStMEfan/chatplatphorm/internal/dedupe"
	"github.com/AlexStMEfan/chatplatphorm/internal/fanout"
	"github.com/AlexStMEfan/chatplatphorm/internal/httpapi"
	"github.com/AlexStMEfan/chatplatphorm/internal/metrics"
	"github.com/AlexStMEfan/chatplatphorm/internal/session"
	"github.com/AlexStMEfan/chatplatphorm/internal/store"
)

const (
	dedupeTTL     = 5 * time.Minute
	dedupeMaxSize = 100_000

	shutdownTimeout = 5 * time.Second
)

// Server wires every chat-server component together.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	store    *store.ScyllaStore
	manager  *fanout.Manager
	producer *bus.Producer
	consumer *bus.Consumer
	dedupe   *dedupe.Cache
	sessions *session.Handler

	httpServer *http.Server
}

// New builds the full component graph. Connections to Scylla and Kafka are
// established here; the consumer does not start polling until Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.NewScyllaStore(cfg.Scylla.Hosts, cfg.Scylla.Keyspace)
	if err != nil {
		return nil, fmt.Errorf("connecting to scylla: %w", err)
	}

	m := metrics.New()
	manager := fanout.NewManager(logger.With("component", "fanout"))
	dedupeCache := dedupe.New(dedupeTTL, dedupeMaxSize)

	producer, err := bus.NewProducer(bus.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("creating producer: %w", err)
	}

	consumer, err := bus.NewConsumer(bus.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
		Store:   st,
		Fanout:  manager,
		Dedupe:  dedupeCache,
		Logger:  logger,
		Metrics: m,
	})
	if err != nil {
		producer.Close()
		_ = st.Close()
		return nil, fmt.Errorf("creating consumer: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	sessions, err := session.NewHandler(session.HandlerConfig{
		Verifier: verifier,
		Store:    st,
		Manager:  manager,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		consumer.Close()
		producer.Close()
		_ = st.Close()
		return nil, fmt.Errorf("creating session handler: %w", err)
	}

	api, err := httpapi.NewAPI(httpapi.Config{
		Store:     st,
		Publisher: producer,
		Verifier:  verifier,
		Logger:    logger,
		Metrics:   m,
	})
	if err != nil {
		consumer.Close()
		producer.Close()
		_ = st.Close()
		return nil, fmt.Errorf("creating http api: %w", err)
	}

	mux := api.Routes()
	mux.Handle("GET /ws", sessions)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, m.Handler())
	}

	srv := &Server{
		cfg:      cfg,
		logger:   logger.With("component", "chatserver"),
		metrics:  m,
		store:    st,
		manager:  manager,
		producer: producer,
		consumer: consumer,
		dedupe:   dedupeCache,
		sessions: sessions,
		httpServer: &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return srv, nil
}

// Run starts the HTTP server and the consumer and blocks until the context
// is canceled or one of them fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.HTTPAddr, err)
	}

	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	go func() {
		if err := s.consumer.Run(ctx); err != nil {
			errCh <- fmt.Errorf("consumer: %w", err)
		}
	}()

	serverErr := s.waitForShutdownSignal(ctx, errCh)
	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// waitForShutdownSignal waits for context cancellation or a component error.
func (s *Server) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		s.logger.Error("component error", "error", err)
		s.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (s *Server) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		s.logger.Error("additional component error", "error", additionalErr)
	default:
	}
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

// Shutdown stops every component. The HTTP listener goes first so no new
// requests or sockets arrive while the rest drains. Session close sends
// going-away frames to WebSocket clients, which http.Server.Shutdown does
// not cover for hijacked connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down chat server")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.sessions.Close()
	s.consumer.Close()
	s.producer.Close()
	s.manager.Close()
	s.dedupe.Close()
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
