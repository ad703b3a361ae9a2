// ABOUTME: HTTP middleware that authenticates requests via bearer tokens
// ABOUTME: Attaches the verified identity to the request context

package auth

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// extractBearerToken extracts the bearer token from the Authorization header
func extractBearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", "invalid authorization header format"
	}

	return parts[1], ""
}

// TokenFromRequest finds the access token on a request. The Authorization
// header wins; the token query parameter is the fallback for clients that
// cannot set headers on a WebSocket upgrade.
func TokenFromRequest(r *http.Request) (string, bool) {
	if token, errMsg := extractBearerToken(r); errMsg == "" {
		return token, true
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, true
	}
	return "", false
}

// HTTPAuthMiddleware wraps a handler with bearer token authentication.
// Subjects must be UUIDs; anything else is rejected as unauthorized.
func HTTPAuthMiddleware(verifier TokenVerifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, errMsg := extractBearerToken(r)
		if errMsg != "" {
			http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
			return
		}

		claims, err := verifier.VerifyClaims(token)
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
			return
		}

		ctx := WithAuth(r.Context(), &AuthContext{UserID: userID, Roles: claims.Roles})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects requests whose identity lacks the admin role. It must
// run inside HTTPAuthMiddleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := FromContext(r.Context())
		if !ok {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		if !ac.IsAdmin() {
			http.Error(w, `{"error":"admin role required"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
