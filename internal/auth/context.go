// ABOUTME: Request-scoped identity carried through context.Context
// ABOUTME: Set by the HTTP middleware after token verification

package auth

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const authContextKey contextKey = "auth"

// AuthContext is the verified identity attached to a request.
type AuthContext struct {
	UserID uuid.UUID
	Roles  []string
}

// IsAdmin reports whether the identity carries the admin role.
func (a *AuthContext) IsAdmin() bool {
	for _, r := range a.Roles {
		if r == AdminRole {
			return true
		}
	}
	return false
}

// WithAuth returns a child context carrying the identity.
func WithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// FromContext extracts the identity set by the auth middleware.
func FromContext(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(authContextKey).(*AuthContext)
	return ac, ok
}
