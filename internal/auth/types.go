package auth

import (
	"context"
	"time"
)

// User rows are owned by the directory's account service; this subsystem only
// reads them for credential checks and role resolution.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	GlobalRole   string    `json:"global_role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Organization is the tenant boundary. CreatedByID implicitly grants the owner
// role.
type Organization struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatedByID string    `json:"created_by_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Membership grants an organization-scoped role. Unique per (organization, user).
type Membership struct {
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}

// RefreshToken is the persisted form of a session. TokenHash is the sha256 of
// the opaque secret handed to the client; the secret itself is never stored.
type RefreshToken struct {
	ID         string
	UserID     string
	TokenHash  string
	DeviceInfo string
	IPAddress  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastUsedAt time.Time
	RevokedAt  *time.Time
}

// Session is the client-visible view of a refresh token row. It never exposes
// the secret or its hash.
type Session struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	DeviceInfo string    `json:"device_info,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// SessionMetadata travels with issuance and rotation calls.
type SessionMetadata struct {
	DeviceInfo string
	IPAddress  string
}

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Organizations() OrganizationStore
	Memberships() MembershipStore
	RefreshTokens() RefreshTokenStore
}

// UserStore reads credential-store rows.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// OrganizationStore reads tenant rows.
type OrganizationStore interface {
	Find(ctx context.Context, id string) (*Organization, error)
}

// MembershipStore reads per-organization role grants.
type MembershipStore interface {
	Find(ctx context.Context, orgID, userID string) (*Membership, error)
}

// RefreshTokenStore manages the refresh token lifecycle. Rows move
// Active -> Revoked or Active -> Expired and are eventually deleted by cleanup;
// no transition leaves a terminal state.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	// Touch finds the active row for tokenHash and stamps last_used_at in the
	// same statement. Returns ErrNotFound when no active row matches.
	Touch(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error)
	// Consume atomically revokes the active row for tokenHash and returns its
	// prior state. A row already revoked or expired yields ErrNotFound; two
	// concurrent calls on the same hash cannot both succeed.
	Consume(ctx context.Context, tokenHash string, now time.Time) (*RefreshToken, error)
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
	RevokeOthersForUser(ctx context.Context, userID, keepHash string, now time.Time) (int64, error)
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]Session, error)
	// DeleteStale removes rows that are expired, or revoked longer ago than the
	// retention window.
	DeleteStale(ctx context.Context, now time.Time, retention time.Duration) (int64, error)
}
