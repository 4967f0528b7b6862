// Package auth issues and verifies bearer credentials and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pairchat/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is what a verified credential proves.
type Identity struct {
	UserID   string
	Username string
}

// Verifier validates a bearer credential.
type Verifier interface {
	Verify(token string) (Identity, error)
}

type claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWT signs and verifies HS256 tokens.
type JWT struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	return &JWT{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

func (j *JWT) Issue(id Identity) (string, error) {
	now := j.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:   id.UserID,
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	})
	signed, err := token.SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (j *JWT) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing credential", domain.ErrUnauthorized)
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if !parsed.Valid || !domain.ValidUserID(c.UserID) {
		return Identity{}, fmt.Errorf("%w: invalid credential", domain.ErrUnauthorized)
	}
	return Identity{UserID: c.UserID, Username: c.Username}, nil
}

var errNoBearer = errors.New("no bearer credential")

// BearerToken extracts the credential from an Authorization header.
func BearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return "", errNoBearer
	}
	return strings.TrimSpace(h[len(prefix):]), nil
}
