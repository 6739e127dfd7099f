package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testUser() *User {
	return &User{
		ID:         "usr_01",
		Email:      "dana@example.com",
		Name:       "Dana",
		GlobalRole: GlobalRoleUser,
	}
}

func TestTokenCodecRoundtrip(t *testing.T) {
	codec, err := NewTokenCodec("test-secret")
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	user := testUser()

	signed, exp, err := codec.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if signed == "" {
		t.Fatal("expected non-empty token")
	}
	if remaining := time.Until(exp); remaining < 14*time.Minute || remaining > 16*time.Minute {
		t.Fatalf("unexpected expiry window: %v", remaining)
	}

	claims, err := codec.Verify(signed)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID() != user.ID {
		t.Fatalf("subject = %q, want %q", claims.UserID(), user.ID)
	}
	if claims.Email != user.Email || claims.Name != user.Name || claims.Role != user.GlobalRole {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestTokenCodecRequiresSecret(t *testing.T) {
	if _, err := NewTokenCodec(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewTokenCodec("   "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func TestTokenCodecExpiredVsInvalid(t *testing.T) {
	current := time.Now().UTC()
	codec, err := NewTokenCodec("test-secret",
		WithTokenClock(func() time.Time { return current }))
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	signed, _, err := codec.Issue(testUser())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// Past expiry the token is expired, not merely invalid.
	current = current.Add(16 * time.Minute)
	if _, err := codec.Verify(signed); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}

	current = current.Add(-16 * time.Minute)
	if _, err := codec.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if _, err := codec.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken for empty token", err)
	}
}

func TestTokenCodecRejectsWrongSecret(t *testing.T) {
	issuing, _ := NewTokenCodec("secret-one")
	verifying, _ := NewTokenCodec("secret-two")

	signed, _, err := issuing.Issue(testUser())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifying.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestTokenCodecRejectsUnsignedAlgorithm(t *testing.T) {
	codec, _ := NewTokenCodec("test-secret")

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "orgdir",
			Subject:   "usr_01",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := codec.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken for alg=none", err)
	}
}

func TestTokenCodecRejectsWrongIssuer(t *testing.T) {
	codec, _ := NewTokenCodec("test-secret")

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "usr_01",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken for foreign issuer", err)
	}
}

func TestTokenCodecRejectsMissingSubject(t *testing.T) {
	codec, _ := NewTokenCodec("test-secret")

	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "orgdir",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := codec.Verify(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken for empty subject", err)
	}
}

func TestTokenCodecIssueRequiresUser(t *testing.T) {
	codec, _ := NewTokenCodec("test-secret")
	if _, _, err := codec.Issue(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if _, _, err := codec.Issue(&User{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput for empty ID", err)
	}
}
