package auth

import (
	"context"
	"errors"
	"testing"
)

func serviceFixture(t *testing.T) (*Service, *memRefreshStore) {
	t.Helper()
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	users := &memUserStore{users: map[string]*User{
		"usr_01": {ID: "usr_01", Email: "dana@example.com", Name: "Dana", PasswordHash: hash, GlobalRole: GlobalRoleUser},
	}}
	codec, err := NewTokenCodec("test-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	store := newMemRefreshStore()
	svc, err := NewService(users, codec, NewRefreshTokenManager(store), nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc, store
}

func TestServiceLogin(t *testing.T) {
	svc, _ := serviceFixture(t)
	ctx := context.Background()

	pair, user, err := svc.Login(ctx, "dana@example.com", "correct horse", SessionMetadata{DeviceInfo: "cli"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.ID != "usr_01" {
		t.Fatalf("user = %+v", user)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}

	claims, err := svc.VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.UserID() != "usr_01" {
		t.Fatalf("subject = %q", claims.UserID())
	}

	// Email matching is case-insensitive.
	if _, _, err := svc.Login(ctx, "  DANA@example.com ", "correct horse", SessionMetadata{}); err != nil {
		t.Fatalf("login with folded email: %v", err)
	}
}

func TestServiceLoginRejections(t *testing.T) {
	svc, _ := serviceFixture(t)
	ctx := context.Background()

	cases := []struct {
		name, email, password string
	}{
		{"unknown email", "ghost@example.com", "correct horse"},
		{"bad password", "dana@example.com", "wrong"},
		{"empty email", "", "correct horse"},
		{"empty password", "dana@example.com", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Login(ctx, tc.email, tc.password, SessionMetadata{})
			if !errors.Is(err, ErrUnauthenticated) {
				t.Fatalf("err = %v, want ErrUnauthenticated", err)
			}
		})
	}
}

func TestServiceRefreshRotation(t *testing.T) {
	svc, _ := serviceFixture(t)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "dana@example.com", "correct horse", SessionMetadata{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	next, user, err := svc.Refresh(ctx, pair.RefreshToken, SessionMetadata{})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if user.ID != "usr_01" {
		t.Fatalf("user = %+v", user)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh must rotate the secret")
	}

	// The consumed secret is unauthenticated on replay.
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken, SessionMetadata{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("replay err = %v, want ErrUnauthenticated", err)
	}

	// The replacement keeps working.
	if _, _, err := svc.Refresh(ctx, next.RefreshToken, SessionMetadata{}); err != nil {
		t.Fatalf("second refresh: %v", err)
	}
}

func TestServiceRefreshKeepsSecretOnLookupFailure(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	users := &memUserStore{users: map[string]*User{
		"usr_01": {ID: "usr_01", Email: "dana@example.com", Name: "Dana", PasswordHash: hash, GlobalRole: GlobalRoleUser},
	}}
	codec, err := NewTokenCodec("test-secret")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	svc, err := NewService(users, codec, NewRefreshTokenManager(newMemRefreshStore()), nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "dana@example.com", "correct horse", SessionMetadata{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	// The user row vanishes (account store briefly out of sync). The refresh
	// must fail without consuming the presented secret.
	saved := users.users["usr_01"]
	delete(users.users, "usr_01")
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken, SessionMetadata{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}

	// Once the row is back, the same secret still rotates.
	users.users["usr_01"] = saved
	next, user, err := svc.Refresh(ctx, pair.RefreshToken, SessionMetadata{})
	if err != nil {
		t.Fatalf("refresh after recovery: %v", err)
	}
	if user.ID != "usr_01" || next.RefreshToken == pair.RefreshToken {
		t.Fatalf("unexpected rotation: user=%+v", user)
	}
}

func TestServiceLogoutFlow(t *testing.T) {
	svc, _ := serviceFixture(t)
	ctx := context.Background()

	pair, _, err := svc.Login(ctx, "dana@example.com", "correct horse", SessionMetadata{})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.VerifyAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	revoked, err := svc.Logout(ctx, pair.RefreshToken, claims, SessionMetadata{})
	if err != nil || !revoked {
		t.Fatalf("logout: revoked=%v err=%v", revoked, err)
	}
	revoked, err = svc.Logout(ctx, pair.RefreshToken, claims, SessionMetadata{})
	if err != nil || revoked {
		t.Fatalf("second logout: revoked=%v err=%v", revoked, err)
	}
	if _, _, err := svc.Refresh(ctx, pair.RefreshToken, SessionMetadata{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("refresh after logout: err = %v", err)
	}
}

func TestServiceLogoutAllAndSessions(t *testing.T) {
	svc, _ := serviceFixture(t)
	ctx := context.Background()

	var claims *AccessClaims
	for i := 0; i < 3; i++ {
		pair, _, err := svc.Login(ctx, "dana@example.com", "correct horse", SessionMetadata{})
		if err != nil {
			t.Fatalf("login %d: %v", i, err)
		}
		claims, err = svc.VerifyAccessToken(pair.AccessToken)
		if err != nil {
			t.Fatalf("verify %d: %v", i, err)
		}
	}

	sessions, err := svc.Sessions(ctx, claims)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 3 {
		t.Fatalf("sessions = %d, want 3", len(sessions))
	}

	count, err := svc.LogoutAll(ctx, claims, SessionMetadata{})
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}

	if _, err := svc.Sessions(ctx, nil); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("nil actor: err = %v", err)
	}
	if _, err := svc.LogoutAll(ctx, nil, SessionMetadata{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("nil actor logout all: err = %v", err)
	}
}

func TestServiceRevokeOtherSessions(t *testing.T) {
	svc, _ := serviceFixture(t)
	ctx := context.Background()

	keep, _, err := svc.Login(ctx, "dana@example.com", "correct horse", SessionMetadata{DeviceInfo: "laptop"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, _, err := svc.Login(ctx, "dana@example.com", "correct horse", SessionMetadata{}); err != nil {
			t.Fatalf("extra login: %v", err)
		}
	}
	claims, err := svc.VerifyAccessToken(keep.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	count, err := svc.RevokeOtherSessions(ctx, claims, keep.RefreshToken, SessionMetadata{})
	if err != nil {
		t.Fatalf("revoke others: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if _, _, err := svc.Refresh(ctx, keep.RefreshToken, SessionMetadata{}); err != nil {
		t.Fatalf("kept session must still refresh: %v", err)
	}
}
