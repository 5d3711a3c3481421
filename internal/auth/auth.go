// Package auth verifies bearer tokens presented on the notification channel.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Errors carry the user-facing denial text; the underlying cause is never exposed.
var (
	ErrMissingToken = errors.New("No token, authorization denied")
	ErrUnauthorized = errors.New("Authentication failed")
)

// Identity is the verified caller.
type Identity struct {
	UserID     string
	Identifier string
	Role       string
}

// Verifier checks a token and returns the caller identity.
type Verifier interface {
	VerifyToken(token string) (Identity, error)
}

// Claims is the token payload.
type Claims struct {
	UserID     string `json:"userId"`
	Identifier string `json:"identifier,omitempty"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier returns a verifier for tokens signed with secret.
func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(secret), now: time.Now}, nil
}

// VerifyToken accepts an optional "Bearer " prefix. A blank token yields ErrMissingToken;
// any other failure yields ErrUnauthorized.
func (v *JWTVerifier) VerifyToken(token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnauthorized
	}
	if claims.UserID == "" {
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: claims.UserID, Identifier: claims.Identifier, Role: claims.Role}, nil
}

// Sign issues a token for id valid for ttl. Used by the CLI and tests; token issuance for end
// users happens elsewhere.
func (v *JWTVerifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		UserID:     id.UserID,
		Identifier: id.Identifier,
		Role:       id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
