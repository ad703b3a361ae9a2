// Package auth provides token verification for the chat platform.
//
// # Tokens
//
// Access tokens are JWTs signed with HS256 using the shared jwt_secret from
// the config. The auth server mints them at login; the chat server only
// verifies. Claims:
//
//   - sub: user id (UUID string)
//   - iat, exp: issue and expiry times
//   - roles: optional string list; "admin" unlocks administrative operations
//
// Verification failures collapse into two sentinels:
//
//   - ErrExpiredToken: the token was valid once but has expired
//   - ErrInvalidToken: everything else (bad signature, wrong algorithm,
//     malformed, missing subject)
//
// # Verifier
//
// TokenVerifier is the interface the HTTP and WebSocket layers depend on:
//
//	subject, err := verifier.Verify(tokenString)
//
// JWTVerifier implements it and additionally mints tokens:
//
//	v := auth.NewJWTVerifier(secret)
//	token, err := v.Generate(userID, 15*time.Minute)
//	token, err := v.GenerateWithRoles(userID, []string{"admin"}, ttl)
//	claims, err := v.VerifyClaims(token) // subject + roles
//
// # HTTP Middleware
//
// HTTPAuthMiddleware extracts the bearer token, verifies it, and stores an
// AuthContext in the request context:
//
//	mux.Handle("POST /thing", auth.HTTPAuthMiddleware(verifier, handler))
//
// Handlers read the identity back with FromContext; RequireAdmin wraps a
// handler to additionally demand the admin role. TokenFromRequest accepts
// the token from the Authorization header or a ?token= query parameter so
// WebSocket clients that cannot set headers can still authenticate.
package auth
