// Package auth mints and verifies the HS256 bearer tokens sent to the
// orchestration service and accepted by the local views API.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoSecret     = errors.New("jwt secret not configured")
	ErrInvalidToken = errors.New("invalid token")
)

// DefaultTTL is the lifetime of a minted token.
const DefaultTTL = 15 * time.Minute

// Claims carried by agentdeck tokens.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Minter issues tokens for one subject and reuses a token until it is close to expiry.
type Minter struct {
	Secret  string
	Subject string
	Roles   []string
	TTL     time.Duration
	Now     func() time.Time

	mu     sync.Mutex
	cached string
	expiry time.Time
}

func (m *Minter) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Token returns a valid token, minting a new one when the cached token has less
// than a tenth of its lifetime left. It matches client.TokenFunc.
func (m *Minter) Token(_ context.Context) (string, error) {
	if strings.TrimSpace(m.Secret) == "" {
		return "", ErrNoSecret
	}
	ttl := m.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached != "" && now.Add(ttl/10).Before(m.expiry) {
		return m.cached, nil
	}
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   m.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "agentdeck",
		},
		Roles: m.Roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.Secret))
	if err != nil {
		return "", err
	}
	m.cached, m.expiry = signed, exp
	return signed, nil
}

// Verify parses token with secret and returns its claims. A subject is required.
func Verify(token, secret string) (*Claims, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoSecret
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}
