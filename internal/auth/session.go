// Package auth issues and validates the short-lived JWT session tokens the
// booking widget carries on write endpoints.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clinic-api/internal/common/errors"
	"clinic-api/internal/common/utils"
)

const issuer = "clinic-api"

// Claims is the payload embedded in a widget session token.
type Claims struct {
	Origin string `json:"origin,omitempty"`
	jwt.RegisteredClaims
}

// Session is the bootstrap response handed to the widget.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sessions signs and verifies widget session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a session issuer. The secret must already be validated
// by config.
func NewSessions(secret string, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sessions{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue creates a fresh session token. Origin is the embedding page's origin
// header and is recorded for audit purposes only.
func (s *Sessions) Issue(origin string) (*Session, error) {
	now := s.now()
	expires := now.Add(s.ttl)

	claims := Claims{
		Origin: origin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ID:        utils.MustGenerateRequestID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, errors.InternalError("failed to sign session token", err)
	}
	return &Session{Token: token, ExpiresAt: expires}, nil
}

// Validate parses a bearer token and returns its claims.
func (s *Sessions) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.AuthError("unexpected signing method")
		}
		return s.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return s.now() }),
	)
	if err != nil || !token.Valid {
		return nil, errors.AuthError("invalid session token")
	}
	return claims, nil
}

// RequireSession guards a handler with bearer token validation.
func (s *Sessions) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			unauthorized(w)
			return
		}

		if _, err := s.Validate(strings.TrimPrefix(header, "Bearer ")); err != nil {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"a valid session token is required"}`))
}
