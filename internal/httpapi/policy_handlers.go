package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"kadro.org/internal/retention"
)

type createPolicyRequest struct {
	Name         string                `json:"name"`
	Category     string                `json:"category"`
	DocumentType string                `json:"document_type"`
	DurationDays int                   `json:"duration_days"`
	Action       string                `json:"action"`
	Conditions   []retention.Condition `json:"conditions"`
	Active       *bool                 `json:"active"`
}

type listPoliciesResponse struct {
	Items []retention.Policy `json:"items"`
	AsOf  time.Time          `json:"as_of"`
}

func (a *API) handlePoliciesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createPolicy(w, r)
	case http.MethodGet:
		a.listPolicies(w, r)
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handlePolicyResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/policies/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getPolicy(w, r, id)
	case http.MethodDelete:
		a.deletePolicy(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) createPolicy(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r.Context(), permPolicyWrite); err != nil {
		respondAuthError(w, r, err)
		return
	}

	var req createPolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	p, err := a.policies.CreatePolicy(r.Context(), retention.Policy{
		Name:         strings.TrimSpace(req.Name),
		Category:     strings.ToUpper(strings.TrimSpace(req.Category)),
		DocumentType: strings.ToUpper(strings.TrimSpace(req.DocumentType)),
		DurationDays: req.DurationDays,
		Action:       retention.Action(strings.ToUpper(strings.TrimSpace(req.Action))),
		Conditions:   req.Conditions,
		Active:       active,
	})
	if err != nil {
		handleRetentionError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/policies/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) listPolicies(w http.ResponseWriter, r *http.Request) {
	if err := a.requirePermission(r.Context(), permRetentionRead); err != nil {
		respondAuthError(w, r, err)
		return
	}
	items, err := a.policies.ListPolicies(r.Context())
	if err != nil {
		handleRetentionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listPoliciesResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) getPolicy(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), permRetentionRead); err != nil {
		respondAuthError(w, r, err)
		return
	}
	p, err := a.policies.GetPolicy(r.Context(), id)
	if err != nil {
		handleRetentionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) deletePolicy(w http.ResponseWriter, r *http.Request, id string) {
	if err := a.requirePermission(r.Context(), permPolicyWrite); err != nil {
		respondAuthError(w, r, err)
		return
	}
	if err := a.policies.DeletePolicy(r.Context(), id); err != nil {
		handleRetentionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- shared helpers ---

// errEmptyBody marks a missing request body; handlers with optional bodies
// tolerate it.
var errEmptyBody = errors.New("request body is required")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleRetentionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, retention.ErrInvalidPolicy):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, retention.ErrPolicyInUse),
		errors.Is(err, retention.ErrRunInProgress),
		errors.Is(err, retention.ErrAlreadyOnHold),
		errors.Is(err, retention.ErrNotOnHold):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, retention.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
