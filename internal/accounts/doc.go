// Package accounts implements the auth server: registration, login, token
// refresh, logout, and user lookup.
//
// # Architecture
//
// Service holds the account logic behind two store interfaces:
//
//   - UserStore: account records, backed by Postgres (PGUserStore on pgx)
//   - SessionStore: refresh-token sessions, backed by Redis
//     (RedisSessionStore) under refresh_token:<token> keys with TTLs
//
// Handler exposes the service over HTTP; /auth/me and /users/search require
// a bearer token, the rest is public.
//
// # Credentials
//
// Passwords are hashed with argon2id and stored as PHC strings that carry
// their own parameters, so tuning changes never invalidate old hashes.
// Access tokens are short-lived JWTs; refresh tokens are opaque 256-bit
// values that rotate on every refresh (the replacement session is written
// before the old one is deleted, so a crash between the two steps leaves a
// usable token rather than none).
//
// Login and refresh failures all surface as ErrInvalidCredentials; the
// response never says which part was wrong.
package accounts
