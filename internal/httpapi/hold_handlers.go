package httpapi

import (
	"net/http"
	"strings"

	"kadro.org/internal/auth"
)

type setHoldRequest struct {
	Reason string `json:"reason"`
}

func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	id, rest, ok := strings.Cut(path, "/")
	if !ok || id == "" || rest != "hold" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodPost:
		a.setHold(w, r, id)
	case http.MethodDelete:
		a.clearHold(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) setHold(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), permLegalHoldManage); err != nil {
		respondAuthError(w, r, err)
		return
	}

	var req setHoldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		writeError(w, r, http.StatusBadRequest, "reason is required")
		return
	}

	if err := a.gate.SetHold(r.Context(), id, callerSubject(r), req.Reason); err != nil {
		handleRetentionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"legal_hold": true,
	})
}

func (a *API) clearHold(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), permLegalHoldManage); err != nil {
		respondAuthError(w, r, err)
		return
	}

	if err := a.gate.ClearHold(r.Context(), id, callerSubject(r)); err != nil {
		handleRetentionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         id,
		"legal_hold": false,
	})
}

func callerSubject(r *http.Request) string {
	if principal, ok := auth.PrincipalFromContext(r.Context()); ok {
		return principal.Subject
	}
	return "anonymous"
}
