// ABOUTME: Account records and their Postgres-backed store.
// ABOUTME: Wraps a pgx pool; duplicate emails surface as ErrEmailTaken.

package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrUserNotFound is returned when no active account matches the lookup.
	ErrUserNotFound = errors.New("user not found")
)

// User is one account row. PasswordHash stays inside this package and the
// service layer; HTTP responses never carry it.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	Provider     string
	IsActive     bool
	CreatedAt    time.Time
}

// UserStore is the persistence surface the accounts service needs.
type UserStore interface {
	// CreateUser inserts a new account. Returns ErrEmailTaken when the email
	// is already registered.
	CreateUser(ctx context.Context, u *User) error

	// GetUserByEmail returns the active account with the given email, or
	// ErrUserNotFound.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// GetUserByID returns the active account with the given id, or
	// ErrUserNotFound.
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// SearchUsers returns active accounts whose email or name starts with
	// query, up to limit rows.
	SearchUsers(ctx context.Context, query string, limit int) ([]*User, error)

	// Ping verifies connectivity with the database.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close()
}

// PGUserStore implements UserStore on a pgx connection pool.
type PGUserStore struct {
	pool *pgxpool.Pool
}

// NewPGUserStore connects to Postgres and verifies the connection.
func NewPGUserStore(ctx context.Context, databaseURL string) (*PGUserStore, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required")
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PGUserStore{pool: pool}, nil
}

const userColumns = `id, email, name, password_hash, provider, is_active, created_at`

func (s *PGUserStore) CreateUser(ctx context.Context, u *User) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.Name, u.PasswordHash, u.Provider, u.IsActive, u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		// 23505 is unique_violation; the only unique constraint is on email.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEmailTaken
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *PGUserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 AND is_active
	`, email)
	return scanUser(row)
}

func (s *PGUserStore) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1 AND is_active
	`, id)
	return scanUser(row)
}

func (s *PGUserStore) SearchUsers(ctx context.Context, query string, limit int) ([]*User, error) {
	pattern := likePrefix(query)
	rows, err := s.pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE is_active AND (email ILIKE $1 OR name ILIKE $1)
		ORDER BY name, email
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching users: %w", err)
	}
	defer rows.Close()

	users := make([]*User, 0, limit)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading user rows: %w", err)
	}
	return users, nil
}

func (s *PGUserStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PGUserStore) Close() {
	s.pool.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Provider, &u.IsActive, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning user: %w", err)
	}
	return &u, nil
}

// likePrefix turns a raw query into an escaped prefix pattern for ILIKE.
func likePrefix(query string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	return escaped + "%"
}
