// ABOUTME: Reads user identity out of the backend bearer token
// ABOUTME: Claims are parsed without verification; the backend is the verifier

package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoSubject is returned when the token carries no usable user id.
var ErrNoSubject = errors.New("token has no subject claim")

// Identity is what the console knows about the signed-in user. Session
// acquisition happens elsewhere; this only reads what the token states.
type Identity struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// FromToken extracts the identity claims from a bearer token. The signature
// is deliberately not verified here: the console never trusts the token for
// authorization, it only needs the user id for backend session creation and
// the expiry for a friendly re-login hint.
func FromToken(raw string) (*Identity, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	id := &Identity{}
	if sub, err := claims.GetSubject(); err == nil {
		id.UserID = sub
	}
	if id.UserID == "" {
		if uid, ok := claims["user_id"].(string); ok {
			id.UserID = uid
		}
	}
	if id.UserID == "" {
		return nil, ErrNoSubject
	}

	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// Expired reports whether the token's expiry has passed. Tokens without an
// expiry claim never report expired.
func (i *Identity) Expired() bool {
	return !i.ExpiresAt.IsZero() && time.Now().After(i.ExpiresAt)
}
