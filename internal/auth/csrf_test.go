package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func csrfRequest(method, header, cookie string) *http.Request {
	r := httptest.NewRequest(method, "/v1/auth/logout", nil)
	if header != "" {
		r.Header.Set(CSRFHeaderName, header)
	}
	if cookie != "" {
		r.AddCookie(&http.Cookie{Name: CSRFCookieName, Value: cookie})
	}
	return r
}

func TestCSRFGuardRequiresSecret(t *testing.T) {
	_, err := NewCSRFGuard("")
	require.Error(t, err)
	_, err = NewCSRFGuard("  ")
	require.Error(t, err)
}

func TestCSRFMintAndVerify(t *testing.T) {
	guard, err := NewCSRFGuard("csrf-secret")
	require.NoError(t, err)

	token, err := guard.Mint()
	require.NoError(t, err)
	require.True(t, strings.Contains(token, "."))
	require.True(t, guard.VerifyToken(token))

	// A different mint yields a different value but still verifies.
	other, err := guard.Mint()
	require.NoError(t, err)
	require.NotEqual(t, token, other)
	require.True(t, guard.VerifyToken(other))

	// Tampering with either half breaks the signature.
	value, sig, _ := strings.Cut(token, ".")
	require.False(t, guard.VerifyToken(value+"x."+sig))
	require.False(t, guard.VerifyToken(value+"."+sig+"x"))
	require.False(t, guard.VerifyToken(value))
	require.False(t, guard.VerifyToken(""))

	// A token signed with another secret does not verify.
	foreign, err := NewCSRFGuard("other-secret")
	require.NoError(t, err)
	require.False(t, foreign.VerifyToken(token))
}

func TestCSRFValidateSafeMethodsExempt(t *testing.T) {
	guard, err := NewCSRFGuard("csrf-secret")
	require.NoError(t, err)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		require.Nil(t, guard.Validate(csrfRequest(method, "", "")), method)
	}
}

func TestCSRFValidateMatrix(t *testing.T) {
	guard, err := NewCSRFGuard("csrf-secret")
	require.NoError(t, err)

	token, err := guard.Mint()
	require.NoError(t, err)
	second, err := guard.Mint()
	require.NoError(t, err)

	cases := []struct {
		name       string
		header     string
		cookie     string
		wantCode   string
		wantReason string
	}{
		{"valid matching pair", token, token, "", ""},
		{"missing header", "", token, CSRFCodeMissing, "missing_header_token"},
		{"missing cookie", token, "", CSRFCodeMissing, "missing_cookie_token"},
		{"garbage header", "garbage", token, CSRFCodeInvalid, "invalid_header_signature"},
		{"garbage cookie", token, "garbage.sig", CSRFCodeInvalid, "invalid_cookie_signature"},
		{"valid but different tokens", token, second, CSRFCodeMismatch, "token_mismatch"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cerr := guard.Validate(csrfRequest(http.MethodPost, tc.header, tc.cookie))
			if tc.wantCode == "" {
				require.Nil(t, cerr)
				return
			}
			require.NotNil(t, cerr)
			require.Equal(t, tc.wantCode, cerr.Code)
			require.Equal(t, tc.wantReason, cerr.Reason)
			require.Equal(t, tc.wantReason, cerr.Error())
		})
	}
}
