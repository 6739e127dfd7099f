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

// TokenPair is the credential set handed to a client at login and refresh.
// The refresh token is returned exactly once; only its hash survives
// server-side.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Service orchestrates login, refresh and logout across the codec, the
// refresh token manager and the credential store.
type Service struct {
	users   UserStore
	codec   *TokenCodec
	refresh *RefreshTokenManager
	audit   *audit.Log
}

// NewService constructs the auth service.
func NewService(users UserStore, codec *TokenCodec, refresh *RefreshTokenManager, auditLog *audit.Log) (*Service, error) {
	if users == nil || codec == nil || refresh == nil {
		return nil, errors.New("auth: user store, token codec and refresh manager are required")
	}
	return &Service{users: users, codec: codec, refresh: refresh, audit: auditLog}, nil
}

// Login verifies credentials and issues a fresh token pair. Both unknown email
// and bad password surface as ErrUnauthenticated; the distinction lives only
// in the audit trail.
func (s *Service) Login(ctx context.Context, email, password string, meta SessionMetadata) (*TokenPair, *User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, nil, ErrUnauthenticated
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.recordLoginFailure(ctx, nil, meta, "unknown_email")
			return nil, nil, ErrUnauthenticated
		}
		return nil, nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.recordLoginFailure(ctx, user, meta, "bad_password")
		return nil, nil, ErrUnauthenticated
	}
	pair, err := s.mint(ctx, user, meta)
	if err != nil {
		return nil, nil, err
	}
	s.audit.Append(ctx, audit.Record{
		ActorID:    user.ID,
		ActorName:  user.Name,
		ActionType: "login",
		EntityType: "session",
		EntityData: sessionData(meta),
	})
	return pair, user, nil
}

// Refresh rotates the presented refresh secret and issues a new pair bound to
// the same user. An inactive secret yields ErrUnauthenticated with no side
// effects. The old secret is consumed only after the user lookup and access
// token signing succeed, so a transient failure cannot strand the client with
// no usable refresh token.
func (s *Service) Refresh(ctx context.Context, refreshSecret string, meta SessionMetadata) (*TokenPair, *User, error) {
	sess, err := s.refresh.Validate(ctx, refreshSecret)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, s.staleRefresh(ctx, meta)
	}
	user, err := s.users.Find(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrUnauthenticated
		}
		return nil, nil, err
	}
	access, accessExp, err := s.codec.Issue(user)
	if err != nil {
		return nil, nil, err
	}
	rotated, err := s.refresh.Rotate(ctx, refreshSecret, meta)
	if err != nil {
		return nil, nil, err
	}
	if rotated == nil {
		// Lost a concurrent race for the same secret.
		return nil, nil, s.staleRefresh(ctx, meta)
	}
	s.audit.Append(ctx, audit.Record{
		ActorID:    user.ID,
		ActorName:  user.Name,
		ActionType: "token_refresh",
		EntityType: "session",
		EntityData: sessionData(meta),
	})
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     rotated.Secret,
		RefreshExpiresAt: rotated.ExpiresAt,
	}, user, nil
}

func (s *Service) staleRefresh(ctx context.Context, meta SessionMetadata) error {
	s.audit.Append(ctx, audit.Record{
		ActionType: "invalid_token",
		EntityType: "session",
		EntityData: withReason(sessionData(meta), "stale_refresh_token"),
	})
	obs.IncAuthFailure("stale_refresh_token")
	return ErrUnauthenticated
}

// Logout revokes the presented refresh secret. Reports whether a live session
// was actually ended.
func (s *Service) Logout(ctx context.Context, refreshSecret string, actor *AccessClaims, meta SessionMetadata) (bool, error) {
	revoked, err := s.refresh.Revoke(ctx, refreshSecret)
	if err != nil {
		return false, err
	}
	if revoked {
		s.audit.Append(ctx, audit.Record{
			ActorID:    actorID(actor),
			ActorName:  actorName(actor),
			ActionType: "logout",
			EntityType: "session",
			EntityData: sessionData(meta),
		})
	}
	return revoked, nil
}

// LogoutAll revokes every active session of the user.
func (s *Service) LogoutAll(ctx context.Context, actor *AccessClaims, meta SessionMetadata) (int64, error) {
	if actor == nil {
		return 0, ErrUnauthenticated
	}
	count, err := s.refresh.RevokeAll(ctx, actor.UserID())
	if err != nil {
		return 0, err
	}
	s.audit.Append(ctx, audit.Record{
		ActorID:    actor.UserID(),
		ActorName:  actor.Name,
		ActionType: "logout_all",
		EntityType: "session",
		EntityData: withCount(sessionData(meta), count),
	})
	return count, nil
}

// RevokeOtherSessions ends every session except the one presenting
// currentSecret.
func (s *Service) RevokeOtherSessions(ctx context.Context, actor *AccessClaims, currentSecret string, meta SessionMetadata) (int64, error) {
	if actor == nil {
		return 0, ErrUnauthenticated
	}
	count, err := s.refresh.RevokeOthers(ctx, actor.UserID(), currentSecret)
	if err != nil {
		return 0, err
	}
	s.audit.Append(ctx, audit.Record{
		ActorID:    actor.UserID(),
		ActorName:  actor.Name,
		ActionType: "sessions_revoked",
		EntityType: "session",
		EntityData: withCount(sessionData(meta), count),
	})
	return count, nil
}

// Sessions lists the caller's active sessions, most recently used first.
func (s *Service) Sessions(ctx context.Context, actor *AccessClaims) ([]Session, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	return s.refresh.ListSessions(ctx, actor.UserID())
}

// VerifyAccessToken delegates to the codec; kept on the service so handlers
// depend on one type.
func (s *Service) VerifyAccessToken(token string) (*AccessClaims, error) {
	return s.codec.Verify(token)
}

func (s *Service) mint(ctx context.Context, user *User, meta SessionMetadata) (*TokenPair, error) {
	access, accessExp, err := s.codec.Issue(user)
	if err != nil {
		return nil, err
	}
	secret, refreshExp, err := s.refresh.Issue(ctx, user.ID, meta)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     secret,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *Service) recordLoginFailure(ctx context.Context, user *User, meta SessionMetadata, reason string) {
	rec := audit.Record{
		ActionType: "login_failed",
		EntityType: "session",
		EntityData: withReason(sessionData(meta), reason),
	}
	if user != nil {
		rec.ActorID = user.ID
		rec.ActorName = user.Name
	}
	s.audit.Append(ctx, rec)
	obs.IncAuthFailure(reason)
}

func sessionData(meta SessionMetadata) map[string]any {
	data := map[string]any{}
	if meta.IPAddress != "" {
		data["ip_address"] = meta.IPAddress
	}
	if meta.DeviceInfo != "" {
		data["device_info"] = meta.DeviceInfo
	}
	return data
}

func withReason(data map[string]any, reason string) map[string]any {
	data["reason"] = reason
	return data
}

func withCount(data map[string]any, count int64) map[string]any {
	data["count"] = count
	return data
}

func actorID(claims *AccessClaims) string {
	if claims == nil {
		return ""
	}
	return claims.UserID()
}

func actorName(claims *AccessClaims) string {
	if claims == nil {
		return ""
	}
	return claims.Name
}
