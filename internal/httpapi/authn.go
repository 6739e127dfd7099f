package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"orgdir.io/internal/audit"
	"orgdir.io/internal/auth"
	"orgdir.io/internal/obs"
)

const (
	authHeader = "Authorization"
	bearerPrefix = "Bearer "

	// Expired and invalid tokens read identically to the caller; the audit
	// trail keeps the distinction.
	invalidTokenMessage = "Invalid or expired token"
)

var publicPaths = []string{
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/v1/auth/csrf",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.recordTokenFailure(r, "missing_token")
			writeError(w, r, http.StatusUnauthorized, invalidTokenMessage)
			return
		}

		claims, err := a.deps.Auth.VerifyAccessToken(token)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, auth.ErrTokenExpired) {
				reason = "expired_token"
			}
			a.recordTokenFailure(r, reason)
			writeError(w, r, http.StatusUnauthorized, invalidTokenMessage)
			return
		}

		ctx := auth.ContextWithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) recordTokenFailure(r *http.Request, reason string) {
	a.deps.Audit.Append(r.Context(), audit.Record{
		ActionType: "invalid_token",
		EntityType: "auth",
		EntityData: map[string]any{
			"reason":     reason,
			"path":       r.URL.Path,
			"ip_address": clientIP(r),
		},
	})
	obs.IncAuthFailure(reason)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearerPrefix)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
