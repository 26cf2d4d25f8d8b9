// Package apitoken validates the host platform's long-lived API tokens.
// Tokens are HS256 JWTs whose subject is the user id; the secret is shared
// with the host.
package apitoken

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"geogate.org/internal/directory"
)

// ErrInvalidToken indicates the token failed validation.
var ErrInvalidToken = errors.New("apitoken: invalid token")

// Claims are the JWT claims carried by a host API token.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator verifies API tokens and resolves them to directory users.
type Validator struct {
	secret []byte
	issuer string
	dir    directory.Directory
	now    func() time.Time
}

// Option configures Validator behavior.
type Option func(*Validator)

// WithIssuer requires tokens to carry the given issuer claim.
func WithIssuer(issuer string) Option {
	return func(v *Validator) { v.issuer = strings.TrimSpace(issuer) }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(v *Validator) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewValidator constructs a Validator.
func NewValidator(secret string, dir directory.Directory, opts ...Option) (*Validator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("apitoken: secret is required")
	}
	if dir == nil {
		return nil, errors.New("apitoken: directory is required")
	}
	v := &Validator{secret: []byte(secret), dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// TokenToUser verifies the token signature and claims and resolves the
// subject to an active directory user.
func (v *Validator) TokenToUser(ctx context.Context, token string) (directory.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return directory.User{}, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return directory.User{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return directory.User{}, ErrInvalidToken
	}
	if v.issuer != "" && claims.Issuer != v.issuer {
		return directory.User{}, ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return directory.User{}, ErrInvalidToken
	}

	user, err := v.dir.GetUser(ctx, subject)
	if errors.Is(err, directory.ErrNotFound) {
		return directory.User{}, ErrInvalidToken
	}
	if err != nil {
		return directory.User{}, err
	}
	if !user.IsActive() {
		return directory.User{}, ErrInvalidToken
	}
	return user, nil
}

// Sign mints a token for the given user. Primarily for tests and local
// tooling; production tokens come from the host platform.
func (v *Validator) Sign(userID string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("apitoken: userID is required")
	}
	now := v.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("apitoken: sign token: %w", err)
	}
	return signed, nil
}
