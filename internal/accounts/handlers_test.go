// ABOUTME: HTTP tests for the auth routes, run against a live test server.
// ABOUTME: Exercises the register/login/refresh/logout flow end to end.

package accounts

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexStMEfan/chatplatphorm/internal/auth"
)

type handlerEnv struct {
	users    *memUserStore
	sessions *memSessionStore
	server   *httptest.Server
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	users := newMemUserStore()
	sessions := newMemSessionStore()
	verifier := auth.NewJWTVerifier([]byte(serviceTestSecret))
	logger := slog.New(slog.DiscardHandler)

	svc, err := NewService(ServiceConfig{
		Users:    users,
		Sessions: sessions,
		Verifier: verifier,
		Logger:   logger,
	})
	require.NoError(t, err)

	h, err := NewHandler(HandlerConfig{
		Service:  svc,
		Verifier: verifier,
		Logger:   logger,
	})
	require.NoError(t, err)

	server := httptest.NewServer(h.Routes())
	t.Cleanup(server.Close)

	return &handlerEnv{users: users, sessions: sessions, server: server}
}

func (e *handlerEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *handlerEnv) register(t *testing.T, email, password, name string) uuid.UUID {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
		Email:    email,
		Password: password,
		Name:     name,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out RegisterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.UserID
}

func (e *handlerEnv) login(t *testing.T, email, password string) *TokenPair {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/auth/login", "", LoginRequest{Email: email, Password: password})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pair TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pair))
	return &pair
}

func TestNewHandler_Validation(t *testing.T) {
	verifier := auth.NewJWTVerifier([]byte(serviceTestSecret))
	svc, err := NewService(ServiceConfig{
		Users:    newMemUserStore(),
		Sessions: newMemSessionStore(),
		Verifier: verifier,
	})
	require.NoError(t, err)

	_, err = NewHandler(HandlerConfig{Verifier: verifier})
	require.Error(t, err)

	_, err = NewHandler(HandlerConfig{Service: svc})
	require.Error(t, err)
}

func TestHandler_RegisterLoginMeFlow(t *testing.T) {
	env := newHandlerEnv(t)

	id := env.register(t, "alice@example.com", "long enough password", "Alice")
	require.NotEqual(t, uuid.Nil, id)

	pair := env.login(t, "alice@example.com", "long enough password")
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Positive(t, pair.ExpiresIn)

	resp := env.do(t, http.MethodGet, "/auth/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")

	var me UserResponse
	require.NoError(t, json.Unmarshal(raw, &me))
	assert.Equal(t, id, me.ID)
	assert.Equal(t, "alice@example.com", me.Email)
	assert.Equal(t, "Alice", me.Name)
	assert.Equal(t, "local", me.Provider)
}

func TestHandler_RegisterValidation(t *testing.T) {
	env := newHandlerEnv(t)

	t.Run("invalid json", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/auth/register", bytes.NewReader([]byte("{oops")))
		require.NoError(t, err)
		resp, err := env.server.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("weak password", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
			Email:    "alice@example.com",
			Password: "short",
			Name:     "Alice",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("bad email", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
			Email:    "not-an-email",
			Password: "long enough password",
			Name:     "Alice",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("duplicate email", func(t *testing.T) {
		env.register(t, "dup@example.com", "long enough password", "First")

		resp := env.do(t, http.MethodPost, "/auth/register", "", RegisterRequest{
			Email:    "dup@example.com",
			Password: "long enough password",
			Name:     "Second",
		})
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "email already registered", body["error"])
	})
}

func TestHandler_LoginRejectsBadCredentials(t *testing.T) {
	env := newHandlerEnv(t)
	env.register(t, "alice@example.com", "long enough password", "Alice")

	resp := env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong password here",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/auth/login", "", LoginRequest{
		Email:    "nobody@example.com",
		Password: "long enough password",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RefreshRotation(t *testing.T) {
	env := newHandlerEnv(t)
	env.register(t, "alice@example.com", "long enough password", "Alice")
	pair := env.login(t, "alice@example.com", "long enough password")

	resp := env.do(t, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rotated TokenPair
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rotated))
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The old token no longer refreshes.
	resp = env.do(t, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_RefreshValidation(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.do(t, http.MethodPost, "/auth/refresh", "", RefreshRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: "never-issued"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_Logout(t *testing.T) {
	env := newHandlerEnv(t)
	env.register(t, "alice@example.com", "long enough password", "Alice")
	pair := env.login(t, "alice@example.com", "long enough password")

	resp := env.do(t, http.MethodPost, "/auth/logout", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, env.sessions.count())

	resp = env.do(t, http.MethodPost, "/auth/refresh", "", RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_MeRequiresToken(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.do(t, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/auth/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_Search(t *testing.T) {
	env := newHandlerEnv(t)
	env.register(t, "alice@example.com", "long enough password", "Alice")
	env.register(t, "bob@example.com", "long enough password", "Bob")
	pair := env.login(t, "alice@example.com", "long enough password")

	resp := env.do(t, http.MethodGet, "/users/search?q=ali", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Users, 1)
	assert.Equal(t, "alice@example.com", out.Users[0].Email)

	t.Run("requires token", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/users/search?q=ali", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects bad limit", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/users/search?q=ali&limit=abc", pair.AccessToken, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty query returns empty list", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/users/search", pair.AccessToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out SearchResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		assert.Empty(t, out.Users)
	})
}

func TestHandler_Health(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "OK", string(body))
}

func TestHandler_Ready(t *testing.T) {
	env := newHandlerEnv(t)

	resp := env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.sessions.setPingErr(errors.New("redis down"))
	resp = env.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
