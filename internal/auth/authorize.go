package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"orgdir.io/internal/audit"
	"orgdir.io/internal/obs"
)

// Authorizer resolves a user's effective permission on an organization by
// merging global role, ownership and membership.
type Authorizer struct {
	users   UserStore
	orgs    OrganizationStore
	members MembershipStore
	audit   *audit.Log
	now     func() time.Time
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithAuthorizerClock overrides the time source (useful for tests).
func WithAuthorizerClock(fn func() time.Time) AuthorizerOption {
	return func(a *Authorizer) {
		if fn != nil {
			a.now = fn
		}
	}
}

// NewAuthorizer constructs an Authorizer. The audit log may be nil in tests;
// denials are then not recorded.
func NewAuthorizer(users UserStore, orgs OrganizationStore, members MembershipStore, auditLog *audit.Log, opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		users:   users,
		orgs:    orgs,
		members: members,
		audit:   auditLog,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CheckAccess computes the user's effective access to the organization.
func (a *Authorizer) CheckAccess(ctx context.Context, orgID, userID string) (EffectiveAccess, error) {
	access, _, err := a.resolve(ctx, orgID, userID)
	return access, err
}

// RequirePermission enforces a minimum role on the hierarchy
// viewer < editor < admin < owner.
//
// No relationship at all returns ErrNotFound, deliberately indistinguishable
// from a nonexistent organization so valid IDs cannot be enumerated by
// probing. An insufficient role returns ErrForbidden after writing exactly one
// permission_denied audit entry.
func (a *Authorizer) RequirePermission(ctx context.Context, orgID, userID, minRole string) (EffectiveAccess, error) {
	if strings.TrimSpace(minRole) == "" {
		minRole = OrgRoleViewer
	}
	access, user, err := a.resolve(ctx, orgID, userID)
	if err != nil {
		return EffectiveAccess{}, err
	}
	if !access.HasAccess {
		return EffectiveAccess{}, fmt.Errorf("%w: organization not found", ErrNotFound)
	}
	if RoleLevel(access.Role) < RoleLevel(minRole) {
		a.recordDenial(ctx, orgID, user, access, minRole)
		obs.IncAuthFailure("permission_denied")
		return EffectiveAccess{}, fmt.Errorf("%w: requires %s role", ErrForbidden, minRole)
	}
	return access, nil
}

func (a *Authorizer) resolve(ctx context.Context, orgID, userID string) (EffectiveAccess, *User, error) {
	orgID = strings.TrimSpace(orgID)
	userID = strings.TrimSpace(userID)
	if orgID == "" || userID == "" {
		return EffectiveAccess{}, nil, fmt.Errorf("%w: organization_id and user_id are required", ErrInvalidInput)
	}

	user, err := a.users.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return EffectiveAccess{}, nil, nil
		}
		return EffectiveAccess{}, nil, err
	}

	org, err := a.orgs.Find(ctx, orgID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return EffectiveAccess{}, user, err
	}

	// Superusers get owner-equivalent access everywhere; IsOwner still reflects
	// actual ownership so transfer logic is not fooled.
	if user.GlobalRole == GlobalRoleSuperuser {
		isOwner := org != nil && org.CreatedByID == userID
		return EffectiveAccess{HasAccess: true, Role: OrgRoleOwner, IsOwner: isOwner}, user, nil
	}
	if org == nil {
		return EffectiveAccess{}, user, nil
	}
	if org.CreatedByID == userID {
		return EffectiveAccess{HasAccess: true, Role: OrgRoleOwner, IsOwner: true}, user, nil
	}

	member, err := a.members.Find(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return EffectiveAccess{}, user, nil
		}
		return EffectiveAccess{}, user, err
	}
	return EffectiveAccess{HasAccess: true, Role: member.Role}, user, nil
}

func (a *Authorizer) recordDenial(ctx context.Context, orgID string, user *User, access EffectiveAccess, minRole string) {
	rec := audit.Record{
		OrganizationID: orgID,
		ActionType:     "permission_denied",
		EntityType:     "organization",
		EntityID:       orgID,
		EntityData: map[string]any{
			"organization_id": orgID,
			"required_role":   minRole,
			"user_role":       access.Role,
			"denied_at":       a.now().UTC().Format(time.RFC3339Nano),
		},
	}
	if user != nil {
		rec.ActorID = user.ID
		rec.ActorName = user.Name
		rec.EntityData["global_role"] = user.GlobalRole
	}
	a.audit.Append(ctx, rec)
}
