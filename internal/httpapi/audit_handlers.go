package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"orgdir.io/internal/audit"
	"orgdir.io/internal/auth"
)

// handleOrganizationScoped routes /v1/organizations/{id}/... subresources.
// Only the audit-log listing lives here; directory CRUD is owned by another
// service.
func (a *API) handleOrganizationScoped(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/organizations/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "audit-logs" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	a.handleOrgAuditLogs(w, r, parts[0])
}

func (a *API) handleOrgAuditLogs(w http.ResponseWriter, r *http.Request, orgID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, invalidTokenMessage)
		return
	}

	if _, err := a.deps.Authz.RequirePermission(r.Context(), orgID, claims.UserID(), auth.OrgRoleAdmin); err != nil {
		switch {
		case errors.Is(err, auth.ErrNotFound):
			// Strangers see the same response whether the org is missing or
			// merely off limits.
			writeError(w, r, http.StatusNotFound, "organization not found")
		case errors.Is(err, auth.ErrForbidden):
			writeError(w, r, http.StatusForbidden, "admin role required")
		default:
			writeError(w, r, http.StatusInternalServerError, "permission check failed")
		}
		return
	}

	f, cursor, limit, err := auditQueryParams(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	page, err := a.deps.Audit.Query(r.Context(), orgID, f, cursor, limit)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidCursor) {
			writeError(w, r, http.StatusBadRequest, "invalid cursor")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// handleAdminAuditLogs is the cross-tenant listing for superusers.
func (a *API) handleAdminAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, invalidTokenMessage)
		return
	}
	if claims.Role != auth.GlobalRoleSuperuser {
		writeError(w, r, http.StatusForbidden, "superuser role required")
		return
	}

	f, cursor, limit, err := auditQueryParams(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	f.OrganizationID = strings.TrimSpace(r.URL.Query().Get("organization_id"))

	page, err := a.deps.Audit.QueryAll(r.Context(), f, cursor, limit)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidCursor) {
			writeError(w, r, http.StatusBadRequest, "invalid cursor")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "failed to query audit logs")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func auditQueryParams(q url.Values) (audit.Filter, string, int, error) {
	f := audit.Filter{
		ActionType: strings.TrimSpace(q.Get("action_type")),
		EntityType: strings.TrimSpace(q.Get("entity_type")),
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, "", 0, errors.New("from must be an RFC 3339 timestamp")
		}
		f.From = ts
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, "", 0, errors.New("to must be an RFC 3339 timestamp")
		}
		f.To = ts
	}
	limit, err := parsePositiveInt(q.Get("limit"), audit.DefaultPageLimit, 1, audit.MaxPageLimit)
	if err != nil {
		return f, "", 0, err
	}
	return f, strings.TrimSpace(q.Get("cursor")), limit, nil
}
