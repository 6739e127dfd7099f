package httpapi

import (
	"net/http"
	"testing"

	"orgdir.io/internal/auth"
)

func TestCSRFMintEndpoint(t *testing.T) {
	h := testAPI(t, nil).Handler()

	token, cookie := mintCSRF(t, h)
	if token == "" || cookie.Value != token {
		t.Fatalf("cookie %q must carry the minted token %q", cookie.Value, token)
	}
	if cookie.Path != "/" {
		t.Fatalf("cookie path = %q", cookie.Path)
	}
}

func TestCSRFGuardOnAuthenticatedWrites(t *testing.T) {
	h := testAPI(t, nil).Handler()
	access, refresh := login(t, h, "dana@example.com")
	token, cookie := mintCSRF(t, h)

	logoutBody := map[string]string{"refresh_token": refresh}

	cases := []struct {
		name     string
		mod      func(*http.Request)
		wantCode string
	}{
		{"missing both", bearer(access), auth.CSRFCodeMissing},
		{"header only", func(r *http.Request) {
			bearer(access)(r)
			r.Header.Set(auth.CSRFHeaderName, token)
		}, auth.CSRFCodeMissing},
		{"cookie only", func(r *http.Request) {
			bearer(access)(r)
			r.AddCookie(cookie)
		}, auth.CSRFCodeMissing},
		{"tampered header", func(r *http.Request) {
			bearer(access)(r)
			r.Header.Set(auth.CSRFHeaderName, token+"x")
			r.AddCookie(cookie)
		}, auth.CSRFCodeInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/v1/auth/logout", logoutBody, tc.mod)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			body := decodeBody(t, rec)
			if body["code"] != tc.wantCode {
				t.Fatalf("code = %v, want %v", body["code"], tc.wantCode)
			}
			if body["error"] != "CSRF validation failed" {
				t.Fatalf("error = %v", body["error"])
			}
		})
	}

	// A mismatched but individually valid pair is its own code.
	other, _ := mintCSRF(t, h)
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/logout", logoutBody, func(r *http.Request) {
		bearer(access)(r)
		r.Header.Set(auth.CSRFHeaderName, other)
		r.AddCookie(cookie)
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
	if code := decodeBody(t, rec)["code"]; code != auth.CSRFCodeMismatch {
		t.Fatalf("code = %v, want %v", code, auth.CSRFCodeMismatch)
	}

	// The matching pair goes through and the logout succeeds.
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/logout", logoutBody, func(r *http.Request) {
		bearer(access)(r)
		withCSRFPair(token, cookie)(r)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if revoked := decodeBody(t, rec)["revoked"]; revoked != true {
		t.Fatalf("revoked = %v", revoked)
	}
}

func TestCSRFSkipsAnonymousWrites(t *testing.T) {
	h := testAPI(t, nil).Handler()
	_, refresh := login(t, h, "dana@example.com")

	// Refresh is a POST but carries no session; the rotating secret is its
	// own proof.
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/refresh",
		map[string]string{"refresh_token": refresh}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}
