package httpapi

import (
	"errors"
	"net/http"

	"orgdir.io/internal/auth"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	pair, user, err := a.deps.Auth.Login(r.Context(), req.Email, req.Password, sessionMetadata(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			writeError(w, r, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       pair.AccessToken,
		"access_expires_at":  pair.AccessExpiresAt,
		"refresh_token":      pair.RefreshToken,
		"refresh_expires_at": pair.RefreshExpiresAt,
		"user":               user,
	})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	pair, user, err := a.deps.Auth.Refresh(r.Context(), req.RefreshToken, sessionMetadata(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			writeError(w, r, http.StatusUnauthorized, invalidTokenMessage)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":       pair.AccessToken,
		"access_expires_at":  pair.AccessExpiresAt,
		"refresh_token":      pair.RefreshToken,
		"refresh_expires_at": pair.RefreshExpiresAt,
		"user":               user,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	revoked, err := a.deps.Auth.Logout(r.Context(), req.RefreshToken, claims, sessionMetadata(r))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"revoked": revoked,
	})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, invalidTokenMessage)
		return
	}
	count, err := a.deps.Auth.LogoutAll(r.Context(), claims, sessionMetadata(r))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"revoked_sessions": count,
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, invalidTokenMessage)
		return
	}
	sessions, err := a.deps.Auth.Sessions(r.Context(), claims)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []auth.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
	})
}

func (a *API) handleRevokeOthers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, invalidTokenMessage)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.RefreshToken == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	count, err := a.deps.Auth.RevokeOtherSessions(r.Context(), claims, req.RefreshToken, sessionMetadata(r))
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to revoke sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"revoked_sessions": count,
	})
}
