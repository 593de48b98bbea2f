package httpapi

import (
	"net/http"
	"strings"
	"time"

	"kadro.org/internal/audit"
)

type tokenRequest struct {
	User        string   `json:"user"`
	Permissions []string `json:"permissions"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

const tokenTTL = 15 * time.Minute

func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.auth == nil || !a.auth.SupportsTokens() {
		writeError(w, r, http.StatusServiceUnavailable, "token issuing is not configured")
		return
	}

	var req tokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		writeError(w, r, http.StatusBadRequest, "user is required")
		return
	}
	perms := make([]string, 0, len(req.Permissions))
	for _, p := range req.Permissions {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		perms = append(perms, p)
	}
	if len(perms) == 0 {
		writeError(w, r, http.StatusBadRequest, "permissions are required")
		return
	}

	token, expiresAt, err := a.auth.GenerateToken(user, perms, tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user":        user,
		"permissions": perms,
		"expires_at":  expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}
