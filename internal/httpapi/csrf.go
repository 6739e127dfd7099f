package httpapi

import (
	"net/http"

	"orgdir.io/internal/audit"
	"orgdir.io/internal/auth"
	"orgdir.io/internal/obs"
)

// withCSRF applies the double-submit check to state-changing requests that
// already carry an authenticated session. Anonymous endpoints (login, refresh)
// are protected by their own credentials and cannot ride a session, so they
// skip the check.
func (a *API) withCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		if cerr := a.deps.CSRF.Validate(r); cerr != nil {
			a.recordCSRFFailure(r, claims, cerr)
			writeErrorCode(w, r, http.StatusForbidden, "CSRF validation failed", cerr.Code)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) recordCSRFFailure(r *http.Request, claims *auth.AccessClaims, cerr *auth.CSRFError) {
	rec := audit.Record{
		ActionType: "csrf_failure",
		EntityType: "auth",
		EntityData: map[string]any{
			"reason":     cerr.Reason,
			"code":       cerr.Code,
			"path":       r.URL.Path,
			"ip_address": clientIP(r),
		},
	}
	if claims != nil {
		rec.ActorID = claims.UserID()
		rec.ActorName = claims.Name
	}
	a.deps.Audit.Append(r.Context(), rec)
	obs.IncAuthFailure(cerr.Reason)
}

// handleCSRFToken mints a fresh token and sets it as both the cookie and the
// response body; the client echoes the body value in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	token, err := a.deps.CSRF.Mint()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CSRFCookieName,
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": token,
	})
}
