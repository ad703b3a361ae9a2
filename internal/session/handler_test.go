// ABOUTME: Loopback tests for the WebSocket session handler
// ABOUTME: Dials real connections against httptest servers and reads close frames

package session

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexStMEfan/chatplatphorm/internal/auth"
	"github.com/AlexStMEfan/chatplatphorm/internal/event"
	"github.com/AlexStMEfan/chatplatphorm/internal/fanout"
	"github.com/AlexStMEfan/chatplatphorm/internal/metrics"
	"github.com/AlexStMEfan/chatplatphorm/internal/store"
)

const testSecret = "session-test-secret-0123456789abcdef"

type testEnv struct {
	handler  *Handler
	store    *store.MockStore
	manager  *fanout.Manager
	verifier *auth.JWTVerifier
	server   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := store.NewMockStore()
	fm := fanout.NewManager(slog.New(slog.DiscardHandler))
	t.Cleanup(fm.Close)

	verifier := auth.NewJWTVerifier([]byte(testSecret))
	h, err := NewHandler(HandlerConfig{
		Verifier: verifier,
		Store:    st,
		Manager:  fm,
		Logger:   slog.New(slog.DiscardHandler),
		Metrics:  metrics.New(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return &testEnv{handler: h, store: st, manager: fm, verifier: verifier, server: srv}
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	tok, err := e.verifier.Generate(userID.String(), time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(e.server.URL, "http")
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(token), nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, timeout time.Duration, ok func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ok() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition after %s", timeout)
}

// readClose drains data frames until the peer's close frame arrives.
func readClose(t *testing.T, conn *websocket.Conn) *websocket.CloseError {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr, "expected a close frame, got %v", err)
			return closeErr
		}
	}
}

func TestNewHandler_Validation(t *testing.T) {
	st := store.NewMockStore()
	fm := fanout.NewManager(nil)
	t.Cleanup(fm.Close)
	verifier := auth.NewJWTVerifier([]byte(testSecret))

	tests := []struct {
		name    string
		cfg     HandlerConfig
		wantErr string
	}{
		{
			name:    "missing verifier",
			cfg:     HandlerConfig{Store: st, Manager: fm},
			wantErr: "verifier",
		},
		{
			name:    "missing store",
			cfg:     HandlerConfig{Verifier: verifier, Manager: fm},
			wantErr: "store",
		},
		{
			name:    "missing manager",
			cfg:     HandlerConfig{Verifier: verifier, Store: st},
			wantErr: "manager",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHandler(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestHandler_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(""), nil)
	require.NoError(t, err, "the upgrade itself succeeds; rejection comes over the socket")
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "missing token", closeErr.Text)
	assert.Equal(t, 0, env.handler.SessionCount())
}

func TestHandler_RejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("not-a-jwt"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "invalid token", closeErr.Text)
}

func TestHandler_RejectsNonUUIDSubject(t *testing.T) {
	env := newTestEnv(t)

	tok, err := env.verifier.Generate("service-account", time.Hour)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(tok), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "invalid token subject", closeErr.Text)
}

func TestHandler_DeliversEventsForMemberChats(t *testing.T) {
	env := newTestEnv(t)
	userID, chatID := uuid.New(), uuid.New()
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, chatID))

	conn := env.dial(t, env.token(t, userID))
	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(chatID) == 1 })

	content := "hello live"
	ev := event.NewMessage(chatID, userID, &content, nil, nil)
	env.manager.Broadcast(ev)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "event", frame.Type)
	require.NotNil(t, frame.Payload)
	assert.Equal(t, ev.MessageID, frame.Payload.MessageID)
	assert.Equal(t, chatID, frame.Payload.ChatID)
	require.NotNil(t, frame.Payload.Content)
	assert.Equal(t, content, *frame.Payload.Content)
}

func TestHandler_AcceptsAuthorizationHeader(t *testing.T) {
	env := newTestEnv(t)
	userID, chatID := uuid.New(), uuid.New()
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, chatID))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.token(t, userID))
	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL(""), header)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })

	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(chatID) == 1 })
	assert.Equal(t, 1, env.handler.SessionCount())
}

func TestHandler_SubscribeCommand(t *testing.T) {
	env := newTestEnv(t)
	userID, chatID := uuid.New(), uuid.New()

	// No memberships at connect time; the user joins a chat afterwards.
	conn := env.dial(t, env.token(t, userID))
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, chatID))

	require.NoError(t, conn.WriteJSON(Command{Type: "subscribe", ChatID: chatID.String()}))
	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(chatID) == 1 })

	content := "joined late"
	ev := event.NewMessage(chatID, userID, &content, nil, nil)
	env.manager.Broadcast(ev)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame Frame
	require.NoError(t, conn.ReadJSON(&frame))
	require.NotNil(t, frame.Payload)
	assert.Equal(t, ev.MessageID, frame.Payload.MessageID)
}

func TestHandler_SubscribeRefusedForNonMember(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()
	otherChat := uuid.New()

	conn := env.dial(t, env.token(t, userID))
	require.NoError(t, conn.WriteJSON(Command{Type: "subscribe", ChatID: otherChat.String()}))

	// Commands are handled in order, so once the member subscribe below
	// takes effect the refusal above has already been processed.
	memberChat := uuid.New()
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, memberChat))
	require.NoError(t, conn.WriteJSON(Command{Type: "subscribe", ChatID: memberChat.String()}))
	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(memberChat) == 1 })

	assert.Equal(t, 0, env.manager.SubscriberCount(otherChat))
}

func TestHandler_UnsubscribeCommand(t *testing.T) {
	env := newTestEnv(t)
	userID, chatID := uuid.New(), uuid.New()
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, chatID))

	conn := env.dial(t, env.token(t, userID))
	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(chatID) == 1 })

	require.NoError(t, conn.WriteJSON(Command{Type: "unsubscribe", ChatID: chatID.String()}))
	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(chatID) == 0 })

	content := "nobody listening"
	delivered := env.manager.Broadcast(event.NewMessage(chatID, userID, &content, nil, nil))
	assert.Equal(t, 0, delivered)
}

func TestHandler_IgnoresMalformedCommands(t *testing.T) {
	env := newTestEnv(t)
	userID, chatID := uuid.New(), uuid.New()
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, chatID))

	conn := env.dial(t, env.token(t, userID))
	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(chatID) == 1 })

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(Command{Type: "presence", ChatID: chatID.String()}))
	require.NoError(t, conn.WriteJSON(Command{Type: "subscribe", ChatID: "not-a-uuid"}))

	// A valid subscribe after the junk proves the session survived all of it.
	secondChat := uuid.New()
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, secondChat))
	require.NoError(t, conn.WriteJSON(Command{Type: "subscribe", ChatID: secondChat.String()}))
	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(secondChat) == 1 })
}

func TestHandler_ClientCloseTearsDown(t *testing.T) {
	env := newTestEnv(t)
	userID, chatID := uuid.New(), uuid.New()
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, chatID))

	conn := env.dial(t, env.token(t, userID))
	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(chatID) == 1 })

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	_ = conn.Close()

	waitFor(t, 2*time.Second, func() bool {
		return env.manager.SubscriberCount(chatID) == 0 && env.handler.SessionCount() == 0
	})
}

func TestHandler_LaggedSessionClosedWithLagCode(t *testing.T) {
	env := newTestEnv(t)
	userID, chatID := uuid.New(), uuid.New()
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, chatID))

	conn := env.dial(t, env.token(t, userID))
	waitFor(t, 2*time.Second, func() bool { return env.manager.SubscriberCount(chatID) == 1 })

	// Flood the room much faster than the socket can drain it. The ring
	// only keeps the most recent events, so the session's cursor gets
	// overwritten and the next receive reports the loss.
	content := strings.Repeat("x", 128)
	for range 8 * fanout.DefaultReceiverCapacity {
		env.manager.Broadcast(event.NewMessage(chatID, userID, &content, nil, nil))
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(10*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			var closeErr *websocket.CloseError
			require.ErrorAs(t, err, &closeErr, "expected a close frame, got %v", err)
			assert.Equal(t, CloseLagged, closeErr.Code)
			assert.Equal(t, "lagged", closeErr.Text)
			return
		}
	}
}

func TestHandler_RateLimitsCommands(t *testing.T) {
	env := newTestEnv(t)
	userID := uuid.New()

	conn := env.dial(t, env.token(t, userID))

	// Burst far past the limiter. Writes may start failing once the
	// server has closed the connection, which is fine.
	for range 2 * commandBurst {
		if err := conn.WriteJSON(Command{Type: "subscribe", ChatID: uuid.NewString()}); err != nil {
			break
		}
		time.Sleep(time.Millisecond)
	}

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "rate limit exceeded", closeErr.Text)
}

func TestHandler_CloseDisconnectsSessions(t *testing.T) {
	env := newTestEnv(t)
	userID, chatID := uuid.New(), uuid.New()
	require.NoError(t, env.store.AddUserToChat(t.Context(), userID, chatID))

	conn := env.dial(t, env.token(t, userID))
	waitFor(t, 2*time.Second, func() bool { return env.handler.SessionCount() == 1 })

	env.handler.Close()

	closeErr := readClose(t, conn)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "server shutting down", closeErr.Text)
	waitFor(t, 2*time.Second, func() bool { return env.handler.SessionCount() == 0 })

	// New connections are turned away once the handler is closed.
	late, _, err := websocket.DefaultDialer.Dial(env.wsURL(env.token(t, userID)), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = late.Close() })

	lateErr := readClose(t, late)
	assert.Equal(t, websocket.CloseGoingAway, lateErr.Code)
}
