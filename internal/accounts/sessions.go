// ABOUTME: Refresh-token session records stored in Redis.
// ABOUTME: Keys are refresh_token:<token>; expiry is enforced by Redis TTLs.

package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned when a refresh token has no session, either
// because it was never issued, was rotated away, or expired.
var ErrSessionNotFound = errors.New("session not found")

// Session is the record behind one refresh token.
type Session struct {
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore persists refresh-token sessions.
type SessionStore interface {
	// Put stores a session under the token for at most ttl.
	Put(ctx context.Context, token string, sess *Session, ttl time.Duration) error

	// Get returns the session for the token, or ErrSessionNotFound.
	Get(ctx context.Context, token string) (*Session, error)

	// Delete removes the session for the token. Deleting a missing token is
	// not an error.
	Delete(ctx context.Context, token string) error

	// Ping verifies connectivity with the backing store.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}

const refreshKeyPrefix = "refresh_token:"

// RedisSessionStore implements SessionStore on a Redis client.
type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore connects to Redis and verifies the connection.
// redisURL is in the redis://[user:pass@]host:port/db form.
func NewRedisSessionStore(ctx context.Context, redisURL string) (*RedisSessionStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisSessionStore{client: client}, nil
}

func (s *RedisSessionStore) Put(ctx context.Context, token string, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.client.Set(ctx, refreshKeyPrefix+token, data, ttl).Err(); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := s.client.Get(ctx, refreshKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, refreshKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
