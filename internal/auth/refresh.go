package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgdir.io/internal/ids"
)

const (
	// DefaultRefreshTTL is the refresh token lifetime from issuance.
	DefaultRefreshTTL = 7 * 24 * time.Hour
	// RevokedRetention keeps revoked rows for forensics before cleanup deletes
	// them.
	RevokedRetention = 7 * 24 * time.Hour
)

// RotationResult is the replacement issued by a successful Rotate.
type RotationResult struct {
	UserID    string
	Secret    string
	ExpiresAt time.Time
}

// RefreshTokenManager owns the long-lived session token lifecycle: issuance,
// validation, rotation, revocation and cleanup.
type RefreshTokenManager struct {
	store RefreshTokenStore
	ttl   time.Duration
	now   func() time.Time
}

// RefreshOption configures a RefreshTokenManager.
type RefreshOption func(*RefreshTokenManager)

// WithRefreshTTL overrides the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) RefreshOption {
	return func(m *RefreshTokenManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithRefreshClock overrides the time source (useful for tests).
func WithRefreshClock(fn func() time.Time) RefreshOption {
	return func(m *RefreshTokenManager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewRefreshTokenManager constructs a manager over the given store.
func NewRefreshTokenManager(store RefreshTokenStore, opts ...RefreshOption) *RefreshTokenManager {
	m := &RefreshTokenManager{
		store: store,
		ttl:   DefaultRefreshTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HashSecret derives the storage key for an opaque refresh secret. One-way;
// the secret cannot be recovered from storage.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Issue generates a 256-bit random secret, stores its hash plus metadata, and
// returns the raw secret. This is the only time the secret exists server-side.
func (m *RefreshTokenManager) Issue(ctx context.Context, userID string, meta SessionMetadata) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate refresh secret: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	now := m.now().UTC()
	rec := &RefreshToken{
		ID:         ids.New(),
		UserID:     userID,
		TokenHash:  HashSecret(secret),
		DeviceInfo: strings.TrimSpace(meta.DeviceInfo),
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		ExpiresAt:  now.Add(m.ttl),
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := m.store.Create(ctx, rec); err != nil {
		return "", time.Time{}, err
	}
	return secret, rec.ExpiresAt, nil
}

// Validate returns the session for an active secret, or nil for any secret
// that does not match one. Malformed input is a miss, never an error. A hit
// stamps last_used_at; expiry is never extended.
func (m *RefreshTokenManager) Validate(ctx context.Context, secret string) (*Session, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	rec, err := m.store.Touch(ctx, HashSecret(secret), m.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sessionFromRecord(rec), nil
}

// Rotate consumes the old secret and issues a replacement bound to the same
// user, or returns nil without side effects when the old secret is not active.
// The consume is a single conditional update, so a replayed secret loses the
// race and the old value never validates again.
func (m *RefreshTokenManager) Rotate(ctx context.Context, secret string, meta SessionMetadata) (*RotationResult, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}
	old, err := m.store.Consume(ctx, HashSecret(secret), m.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	next, expiresAt, err := m.Issue(ctx, old.UserID, meta)
	if err != nil {
		return nil, err
	}
	return &RotationResult{UserID: old.UserID, Secret: next, ExpiresAt: expiresAt}, nil
}

// Revoke marks the matching active row revoked. Idempotent: a second call for
// the same secret reports false.
func (m *RefreshTokenManager) Revoke(ctx context.Context, secret string) (bool, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return false, nil
	}
	_, err := m.store.Consume(ctx, HashSecret(secret), m.now().UTC())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RevokeAll revokes every active session of the user. Used on password change
// or detected compromise.
func (m *RefreshTokenManager) RevokeAll(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return m.store.RevokeAllForUser(ctx, userID, m.now().UTC())
}

// RevokeOthers revokes every active session of the user except the one holding
// currentSecret.
func (m *RefreshTokenManager) RevokeOthers(ctx context.Context, userID, currentSecret string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return m.store.RevokeOthersForUser(ctx, userID, HashSecret(strings.TrimSpace(currentSecret)), m.now().UTC())
}

// ListSessions returns the user's active sessions, most recently used first.
func (m *RefreshTokenManager) ListSessions(ctx context.Context, userID string) ([]Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return m.store.ListActiveForUser(ctx, userID, m.now().UTC())
}

// Cleanup deletes rows that are expired or revoked past the retention window.
func (m *RefreshTokenManager) Cleanup(ctx context.Context) (int64, error) {
	return m.store.DeleteStale(ctx, m.now().UTC(), RevokedRetention)
}

func sessionFromRecord(rec *RefreshToken) *Session {
	return &Session{
		ID:         rec.ID,
		UserID:     rec.UserID,
		DeviceInfo: rec.DeviceInfo,
		IPAddress:  rec.IPAddress,
		CreatedAt:  rec.CreatedAt,
		LastUsedAt: rec.LastUsedAt,
		ExpiresAt:  rec.ExpiresAt,
	}
}
