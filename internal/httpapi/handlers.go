package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"kadro.org/internal/auth"
	"kadro.org/internal/obs"
	"kadro.org/internal/retention"
	"kadro.org/internal/stream"
)

// ReadyProbe — простая проверка готовности (например, ping БД).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API — HTTP слой.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	policies retention.PolicyStore
	jobs     retention.JobStore
	orch     *retention.Orchestrator
	exec     *retention.Executor
	gate     *retention.LegalHoldGate

	stream *stream.Stream
	auth   *auth.Service

	rateBurst  int
	ratePerSec int
	maxBody    int64
}

// Options bundles the wiring for New.
type Options struct {
	Ready    ReadyProbe
	Version  string
	Policies retention.PolicyStore
	Jobs     retention.JobStore
	Orch     *retention.Orchestrator
	Exec     *retention.Executor
	Gate     *retention.LegalHoldGate
	Stream   *stream.Stream
	Auth     *auth.Service

	RateBurst  int
	RatePerSec int
	MaxBody    int64
}

func New(opts Options) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: opts.Ready,
		version:    opts.Version,
		policies:   opts.Policies,
		jobs:       opts.Jobs,
		orch:       opts.Orch,
		exec:       opts.Exec,
		gate:       opts.Gate,
		stream:     opts.Stream,
		auth:       opts.Auth,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		maxBody:    opts.MaxBody,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// admin token (dev helper, активен только с настроенным секретом)
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)

	// retention policies
	a.mux.HandleFunc("/v1/policies", a.handlePoliciesCollection)
	a.mux.HandleFunc("/v1/policies/", a.handlePolicyResource)

	// legal holds
	a.mux.HandleFunc("/v1/documents/", a.handleDocumentResource)

	// batch runs
	a.mux.HandleFunc("/v1/retention/apply", a.handleRetentionApply)
	a.mux.HandleFunc("/v1/retention/execute", a.handleRetentionExecute)
	a.mux.HandleFunc("/v1/retention/jobs", a.handleJobsCollection)
	a.mux.HandleFunc("/v1/retention/jobs/", a.handleJobResource)
	a.mux.HandleFunc("/v1/retention/events", a.StreamEvents)

	// (опционально) корень — 404
	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler возвращает http.Handler для сервера (без доп. аргументов).
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, a.maxBody)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	// оборачиваем весь стек метриками
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "kadro-retention",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "kadro-retention",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
