// ABOUTME: JWT token verification and minting for user authentication
// ABOUTME: Uses HS256 signing with a shared secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// AdminRole marks a subject whose token grants administrative operations.
const AdminRole = "admin"

// Claims is the verified content of an access token.
type Claims struct {
	Subject string
	Roles   []string
}

// TokenVerifier defines the interface for access token verification.
type TokenVerifier interface {
	Verify(tokenString string) (subject string, err error)
	VerifyClaims(tokenString string) (*Claims, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a new JWT verifier with the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the subject from the "sub" claim.
func (v *JWTVerifier) Verify(tokenString string) (subject string, err error) {
	claims, err := v.VerifyClaims(tokenString)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// VerifyClaims validates the token and returns the subject together with any
// roles carried in the "roles" claim.
func (v *JWTVerifier) VerifyClaims(tokenString string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})

	if err != nil {
		// Check if it's specifically an expiration error
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := mapClaims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}

	return &Claims{Subject: sub, Roles: extractRoles(mapClaims)}, nil
}

// extractRoles reads the optional "roles" claim. Tokens without it are
// ordinary users.
func extractRoles(claims jwt.MapClaims) []string {
	raw, ok := claims["roles"].([]interface{})
	if !ok {
		return nil
	}
	roles := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

// Generate creates a new access token for the given subject with expiration.
func (v *JWTVerifier) Generate(subject string, expiresIn time.Duration) (string, error) {
	return v.GenerateWithRoles(subject, nil, expiresIn)
}

// GenerateWithRoles creates an access token carrying a roles claim.
func (v *JWTVerifier) GenerateWithRoles(subject string, roles []string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	if len(roles) > 0 {
		claims["roles"] = roles
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
