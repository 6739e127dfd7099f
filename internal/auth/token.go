package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "orgdir"

// DefaultAccessTTL is the access token lifetime.
const DefaultAccessTTL = 15 * time.Minute

// AccessClaims are the signed claims carried by an access token.
type AccessClaims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *AccessClaims) UserID() string { return c.Subject }

// TokenCodec issues and verifies access tokens. The signing algorithm is pinned
// to HS256; a token presenting any other algorithm is rejected outright.
type TokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenCodecOption configures a TokenCodec.
type TokenCodecOption func(*TokenCodec)

// WithAccessTTL overrides the access token lifetime.
func WithAccessTTL(ttl time.Duration) TokenCodecOption {
	return func(c *TokenCodec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTokenClock overrides the time source (useful for tests).
func WithTokenClock(fn func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewTokenCodec fails when the secret is empty: verification must fail closed
// rather than fall back to a default key.
func NewTokenCodec(secret string, opts ...TokenCodecOption) (*TokenCodec, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	c := &TokenCodec{
		secret: []byte(secret),
		ttl:    DefaultAccessTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue signs a short-lived access token for the user. Tokens exist only on
// the wire; nothing is persisted.
func (c *TokenCodec) Issue(user *User) (string, time.Time, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	now := c.now().UTC()
	exp := now.Add(c.ttl)
	claims := AccessClaims{
		Email: user.Email,
		Name:  user.Name,
		Role:  user.GlobalRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify validates the signature and claims. It returns ErrTokenExpired for an
// expired token and ErrInvalidToken for everything else; the split exists for
// the audit trail only and both must surface as the same opaque message.
func (c *TokenCodec) Verify(token string) (*AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
