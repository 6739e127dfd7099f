package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Wire names for the double-submit pair.
const (
	CSRFHeaderName = "X-CSRF-Token"
	CSRFCookieName = "csrf-token"
)

// Failure codes surfaced in the `code` field of a 403 response.
const (
	CSRFCodeMissing  = "CSRF_TOKEN_MISSING"
	CSRFCodeInvalid  = "CSRF_TOKEN_INVALID"
	CSRFCodeMismatch = "CSRF_TOKEN_MISMATCH"
)

// CSRFError carries the public failure code plus the precise reason recorded
// in the audit log.
type CSRFError struct {
	Code   string
	Reason string
}

func (e *CSRFError) Error() string { return e.Reason }

// CSRFGuard mints and validates self-contained signed tokens for the
// double-submit cookie defense. Tokens are "value.signature" with an HMAC over
// the value; nothing is looked up in storage.
type CSRFGuard struct {
	secret []byte
}

// NewCSRFGuard fails when the secret is empty, same as token verification:
// no default key, ever.
func NewCSRFGuard(secret string) (*CSRFGuard, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errMissingSecret
	}
	return &CSRFGuard{secret: []byte(secret)}, nil
}

// Mint produces a fresh signed token. The same value goes into both the cookie
// and the header; the signature lets each side be verified independently.
func (g *CSRFGuard) Mint() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)
	return value + "." + g.sign(value), nil
}

// VerifyToken checks a single token's own signature, independent of any
// pair-wise comparison.
func (g *CSRFGuard) VerifyToken(token string) bool {
	value, sig, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok || value == "" || sig == "" {
		return false
	}
	expected := g.sign(value)
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// Validate applies the double-submit check to a request. Methods without
// state-changing semantics pass unconditionally.
func (g *CSRFGuard) Validate(r *http.Request) *CSRFError {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	}

	header := strings.TrimSpace(r.Header.Get(CSRFHeaderName))
	if header == "" {
		return &CSRFError{Code: CSRFCodeMissing, Reason: "missing_header_token"}
	}
	cookie, err := r.Cookie(CSRFCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return &CSRFError{Code: CSRFCodeMissing, Reason: "missing_cookie_token"}
	}
	cookieToken := strings.TrimSpace(cookie.Value)

	if !g.VerifyToken(header) {
		return &CSRFError{Code: CSRFCodeInvalid, Reason: "invalid_header_signature"}
	}
	if !g.VerifyToken(cookieToken) {
		return &CSRFError{Code: CSRFCodeInvalid, Reason: "invalid_cookie_signature"}
	}
	if subtle.ConstantTimeCompare([]byte(header), []byte(cookieToken)) != 1 {
		return &CSRFError{Code: CSRFCodeMismatch, Reason: "token_mismatch"}
	}
	return nil
}

func (g *CSRFGuard) sign(value string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
