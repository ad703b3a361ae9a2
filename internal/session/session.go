// ABOUTME: Per-connection WebSocket session streaming live chat events
// ABOUTME: One read pump, one write pump, one forwarder goroutine per room

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AlexStMEfan/chatplatphorm/internal/event"
	"github.com/AlexStMEfan/chatplatphorm/internal/fanout"
	"github.com/AlexStMEfan/chatplatphorm/internal/metrics"
	"github.com/AlexStMEfan/chatplatphorm/internal/store"
)

const (
	// writeWait is the time allowed to write one frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long the peer has to answer a ping.
	pongWait = 60 * time.Second

	// pingPeriod is the server ping interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound frames. Commands are tiny; anything
	// bigger is not a command.
	maxMessageSize = 4096

	// outboundQueueSize buffers events between the room forwarders and
	// the write pump.
	outboundQueueSize = 32

	commandRate  = rate.Limit(10)
	commandBurst = 20
)

// CloseLagged is the application close code sent when the session fell so
// far behind that buffered events were dropped. The client should reconnect
// and backfill over REST.
const CloseLagged = 4008

// ErrNotMember is returned when a subscribe targets a chat the user does
// not belong to.
var ErrNotMember = errors.New("not a member of the chat")

// Command is an inbound client frame.
type Command struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
}

// Frame is an outbound socket frame wrapping one chat event.
type Frame struct {
	Type    string           `json:"type"`
	Payload *event.ChatEvent `json:"payload"`
}

// Session serves one connected client: it subscribes the user to their
// chats, forwards room events to the socket, and applies subscribe and
// unsubscribe commands sent by the client.
type Session struct {
	userID  uuid.UUID
	conn    *websocket.Conn
	manager *fanout.Manager
	store   store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan *event.ChatEvent

	// subs is only touched from the session's own goroutine.
	subs map[uuid.UUID]*fanout.Subscription

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newSession(userID uuid.UUID, conn *websocket.Conn, h *Handler) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		userID:   userID,
		conn:     conn,
		manager:  h.manager,
		store:    h.store,
		logger:   h.logger.With("user_id", userID),
		metrics:  h.metrics,
		limiter:  rate.NewLimiter(commandRate, commandBurst),
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan *event.ChatEvent, outboundQueueSize),
		subs:     make(map[uuid.UUID]*fanout.Subscription),
	}
}

// run executes the session phases: load memberships, initial subscribes,
// serve, tear down.
func (s *Session) run() {
	defer s.teardown()

	chats, err := s.store.GetUserChats(s.ctx, s.userID)
	if err != nil {
		s.logger.Error("loading memberships failed", "error", err)
		s.closeWith(websocket.CloseInternalServerErr, "internal error")
		return
	}
	for _, chatID := range chats {
		if err := s.subscribe(chatID); err != nil {
			s.logger.Warn("initial subscribe skipped", "chat_id", chatID, "error", err)
		}
	}

	s.wg.Add(1)
	go s.writePump()

	s.readPump()
}

// subscribe verifies membership, joins the room, and starts a forwarder
// draining it into the outbound queue.
func (s *Session) subscribe(chatID uuid.UUID) error {
	if _, ok := s.subs[chatID]; ok {
		return nil
	}

	member, err := s.store.IsUserInChat(s.ctx, s.userID, chatID)
	if err != nil {
		return fmt.Errorf("checking membership: %w", err)
	}
	if !member {
		return ErrNotMember
	}

	sub, err := s.manager.Subscribe(s.userID, chatID)
	if err != nil {
		return err
	}
	s.subs[chatID] = sub

	s.wg.Add(1)
	go s.forward(sub)
	return nil
}

func (s *Session) unsubscribe(chatID uuid.UUID) {
	sub, ok := s.subs[chatID]
	if !ok {
		return
	}
	delete(s.subs, chatID)
	s.manager.Unsubscribe(sub)
}

// forward drains one room receiver into the outbound queue. A lag error
// ends the whole session: the client reconnects and backfills over REST
// instead of silently missing events.
func (s *Session) forward(sub *fanout.Subscription) {
	defer s.wg.Done()

	for {
		ev, err := sub.Receiver.Recv(s.ctx)
		if err != nil {
			var lag *fanout.LagError
			if errors.As(err, &lag) {
				s.logger.Warn("session lagged",
					"chat_id", sub.ChatID,
					"missed", lag.Missed)
				if s.metrics != nil {
					s.metrics.ReceiverLagged(lag.Missed)
				}
				s.closeWith(CloseLagged, "lagged")
			}
			return
		}

		select {
		case s.outbound <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

// writePump is the session's only socket writer. It serialises queued
// events and keeps the connection alive with pings.
func (s *Session) writePump() {
	defer s.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(Frame{Type: "event", Payload: ev}); err != nil {
				s.logger.Debug("write failed", "error", err)
				s.closeWith(websocket.CloseInternalServerErr, "write error")
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.closeWith(websocket.CloseInternalServerErr, "write error")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// readPump is the session's only socket reader and owns the read deadline,
// which pongs refresh.
func (s *Session) readPump() {
	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				s.logger.Debug("read ended", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		if !s.limiter.Allow() {
			s.logger.Warn("command rate exceeded")
			s.closeWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		s.handleCommand(data)
	}
}

func (s *Session) handleCommand(data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.logger.Warn("unparseable command", "error", err)
		return
	}

	switch cmd.Type {
	case "subscribe":
		chatID, err := uuid.Parse(cmd.ChatID)
		if err != nil {
			s.logger.Warn("subscribe with invalid chat id", "chat_id", cmd.ChatID)
			return
		}
		if err := s.subscribe(chatID); err != nil {
			s.logger.Warn("subscribe refused", "chat_id", chatID, "error", err)
		}
	case "unsubscribe":
		chatID, err := uuid.Parse(cmd.ChatID)
		if err != nil {
			s.logger.Warn("unsubscribe with invalid chat id", "chat_id", cmd.ChatID)
			return
		}
		s.unsubscribe(chatID)
	default:
		s.logger.Warn("unknown command type", "type", cmd.Type)
	}
}

// closeWith sends a close frame, cancels the session context, and drops the
// socket. The first caller wins; later calls are no-ops.
func (s *Session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.cancel()
		_ = s.conn.Close()
	})
}

// teardown releases every room subscription, stops the pumps, and waits for
// them to finish.
func (s *Session) teardown() {
	s.closeWith(websocket.CloseNormalClosure, "")
	for chatID, sub := range s.subs {
		delete(s.subs, chatID)
		s.manager.Unsubscribe(sub)
	}
	s.wg.Wait()
}
