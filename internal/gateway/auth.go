package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized covers every authentication failure. Callers get no detail
// about which check failed.
var ErrUnauthorized = errors.New("unauthorized")

// Identity is the authenticated caller: the user id from the token subject
// and the raw token, passed through to downstream services acting on the
// caller's behalf.
type Identity struct {
	UserID     string
	Credential string
}

// Verifier validates bearer tokens on gateway requests.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for HMAC-signed tokens.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Authenticate extracts and validates the request's bearer token.
func (v *Verifier) Authenticate(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return Identity{}, ErrUnauthorized
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrUnauthorized
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, ErrUnauthorized
	}

	return Identity{UserID: claims.Subject, Credential: token}, nil
}
