// ABOUTME: Users table bootstrap for the accounts store
// ABOUTME: Run once via the auth-server init subcommand before serving

package accounts

import (
	"context"
	"fmt"
)

// schemaStatements holds the bootstrap DDL. Every statement is idempotent so
// init can be re-run against an existing database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		provider TEXT NOT NULL DEFAULT 'local',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_users_name ON users (name)`,
}

// EnsureSchema creates the users table and its indexes if they do not exist.
func (s *PGUserStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying users schema: %w", err)
		}
	}
	return nil
}
