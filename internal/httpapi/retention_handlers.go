package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"kadro.org/internal/retention"
)

type runRequest struct {
	DryRun bool `json:"dry_run"`
}

type applyResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	DryRun bool   `json:"dry_run"`
}

type listJobsResponse struct {
	Items []retention.Job `json:"items"`
	AsOf  time.Time       `json:"as_of"`
}

func (a *API) handleRetentionApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requirePermission(r.Context(), permRetentionRun); err != nil {
		respondAuthError(w, r, err)
		return
	}

	var req runRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	job, err := a.orch.StartRun(r.Context(), retention.RunOptions{DryRun: req.DryRun})
	if err != nil {
		handleRetentionError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/retention/jobs/"+job.ID)
	writeJSON(w, http.StatusAccepted, applyResponse{
		JobID:  job.ID,
		Status: string(job.Status),
		DryRun: job.DryRun,
	})
}

func (a *API) handleRetentionExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := a.requirePermission(r.Context(), permRetentionRun); err != nil {
		respondAuthError(w, r, err)
		return
	}

	var req runRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	out, err := a.exec.ExecuteDue(r.Context(), retention.RunOptions{DryRun: req.DryRun})
	if err != nil {
		handleRetentionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleJobsCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := a.requirePermission(r.Context(), permRetentionRead); err != nil {
		respondAuthError(w, r, err)
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	items, err := a.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		handleRetentionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listJobsResponse{
		Items: items,
		AsOf:  time.Now().UTC(),
	})
}

func (a *API) handleJobResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if err := a.requirePermission(r.Context(), permRetentionRead); err != nil {
		respondAuthError(w, r, err)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/retention/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	job, err := a.jobs.GetJob(r.Context(), id)
	if err != nil {
		handleRetentionError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
