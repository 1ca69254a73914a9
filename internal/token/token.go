// Package token signs and verifies invite capability tokens. It owns the
// signing algorithm (RS256) and the claim layout; nothing else in the service
// touches raw JWT payloads.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"invitegate.dev/internal/keys"
)

// ErrTokenInvalid is the single failure returned for every unusable token:
// bad signature, malformed structure, or an elapsed expiry claim. Callers
// must not branch on the sub-cause; collapsing them avoids leaking an oracle
// to the bearer.
var ErrTokenInvalid = errors.New("token: invalid token")

// Claims is the verified payload of an invite token. Produced once at
// signing; a verified instance is read-only for the rest of the request.
type Claims struct {
	Name       string   `json:"name,omitempty"`
	Scope      []string `json:"scope"`
	FilterList []string `json:"filter-list,omitempty"`
	Sectors    []string `json:"sectors,omitempty"`
	jwt.RegisteredClaims
}

// InviteID returns the subject claim, which is always the owning invite id.
func (c *Claims) InviteID() string {
	return c.Subject
}

// Codec signs claim sets into compact tokens and verifies them back.
type Codec struct {
	provider *keys.Provider
	issuer   string
	now      func() time.Time
}

// Option configures Codec behavior.
type Option func(*Codec)

// WithIssuer sets the iss claim embedded into signed tokens.
func WithIssuer(issuer string) Option {
	return func(c *Codec) {
		c.issuer = strings.TrimSpace(issuer)
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCodec constructs a Codec over the given key provider.
func NewCodec(provider *keys.Provider, opts ...Option) *Codec {
	c := &Codec{
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Sign encodes the claim set with RS256. An expiry claim is embedded only
// when ttl is positive. The jti and iat claims are always stamped.
func (c *Codec) Sign(claims Claims, ttl time.Duration) (string, error) {
	private, err := c.provider.SigningKey()
	if err != nil {
		return "", err
	}

	now := c.now().UTC()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ID = uuid.NewString()
	if c.issuer != "" {
		claims.Issuer = c.issuer
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims).SignedString(private)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify checks the signature against the public key and validates the
// expiry claim when present. Any failure maps to ErrTokenInvalid; key
// provider failures are configuration errors and surface as such.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrTokenInvalid
	}
	public, err := c.provider.VerifyKey()
	if err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrTokenInvalid
		}
		return public, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Hash returns the one-way digest under which a signed token is stored and
// later looked up, so invite discovery never needs the raw token.
func Hash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
