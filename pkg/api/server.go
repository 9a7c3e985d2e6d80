// Package api implements the HTTP adapter: submit, get, list, and health
// routes layered over gorilla/mux, with X-API-Key authentication resolved
// against the Key store before any request reaches the engine.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cuemby/crucible/pkg/log"
	"github.com/cuemby/crucible/pkg/metrics"
	"github.com/cuemby/crucible/pkg/security"
	"github.com/cuemby/crucible/pkg/store"
	"github.com/cuemby/crucible/pkg/types"
)

// ServiceTag is reported on GET /health.
const ServiceTag = "crucible"

// maxRequestBytes bounds the size of a submit request body.
const maxRequestBytes = 1 << 20 // 1 MiB

// Executor is the subset of the Execution Supervisor the adapter needs:
// fire-and-forget execution of a freshly created job.
type Executor interface {
	Execute(ctx context.Context, jobID string)
}

// Server is the Crucible HTTP adapter.
type Server struct {
	store    store.Store
	keys     *security.KeyStore
	executor Executor
	router   *mux.Router
}

// NewServer wires the adapter's routes against its dependencies.
func NewServer(st store.Store, keys *security.KeyStore, executor Executor) *Server {
	s := &Server{store: st, keys: keys, executor: executor, router: mux.NewRouter()}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	s.router.Handle("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	s.router.Handle("/live", metrics.LivenessHandler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/submit", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/job/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)

	return s
}

// ListenAndServe starts the HTTP server on addr with explicit
// read/write/idle timeouts.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return srv.ListenAndServe()
}

// Handler exposes the router for use with a caller-managed http.Server
// (the server composition root needs this for graceful shutdown).
func (s *Server) Handler() http.Handler {
	return s.router
}

type ownerKey struct{}

// authMiddleware resolves X-API-Key to an owner identity via the Key
// store. An invalid or missing key never reaches the engine.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" {
			writeError(w, http.StatusUnauthorized, "missing X-API-Key header")
			return
		}

		owner, err := s.keys.Validate(key)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}

		ctx := context.WithValue(r.Context(), ownerKey{}, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ownerFromContext(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

type submitRequest struct {
	Source     string            `json:"source"`
	Args       []string          `json:"args"`
	InputFiles []types.InputFile `json:"input_files"`
}

type submitResponse struct {
	JobID  string          `json:"job_id"`
	Status types.JobStatus `json:"status"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	for _, f := range req.InputFiles {
		if !validInputName(f.Name) {
			writeError(w, http.StatusBadRequest, "input file name must not contain path separators")
			return
		}
	}

	owner := ownerFromContext(r)
	log.WithComponent("api").Debug().
		Str("owner", owner).
		Str("source_snippet", log.Snippet(req.Source, 200)).
		Msg("received submission")

	id, err := s.store.Create(types.Seed{
		Owner:      owner,
		Source:     req.Source,
		Args:       req.Args,
		InputFiles: req.InputFiles,
	})
	if err != nil {
		log.WithComponent("api").Error().Err(err).Msg("failed to create job")
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	metrics.JobsSubmittedTotal.Inc()
	go s.executor.Execute(context.Background(), id)

	writeJSON(w, http.StatusOK, submitResponse{JobID: id, Status: types.StatusNotStarted})
}

func validInputName(name string) bool {
	if name == "" || name == ".." {
		return false
	}
	for _, r := range name {
		if r == '/' || r == '\\' {
			return false
		}
	}
	return true
}

type jobView struct {
	ID          string          `json:"id"`
	Status      types.JobStatus `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Result      *resultView     `json:"result,omitempty"`
}

type resultView struct {
	Stdout       string  `json:"stdout"`
	Stderr       string  `json:"stderr"`
	Crashed      bool    `json:"crashed"`
	TimedOut     bool    `json:"timed_out"`
	PeakMemoryMB float64 `json:"peak_memory_mb"`
	PeakCPUPct   float64 `json:"peak_cpu_pct"`
	ExecutionMS  int64   `json:"execution_ms"`
}

func toJobView(job *types.Job) jobView {
	view := jobView{ID: job.ID, Status: job.Status, CreatedAt: job.CreatedAt}
	if !job.StartedAt.IsZero() {
		view.StartedAt = &job.StartedAt
	}
	if job.Status == types.StatusDone {
		view.CompletedAt = &job.CompletedAt
		view.Result = &resultView{
			Stdout:       string(job.Stdout),
			Stderr:       string(job.Stderr),
			Crashed:      job.Crashed,
			TimedOut:     job.TimedOut,
			PeakMemoryMB: job.PeakMemoryMB,
			PeakCPUPct:   job.PeakCPUPct,
			ExecutionMS:  job.ExecutionMS,
		}
	}
	return view
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	owner := ownerFromContext(r)

	job, err := s.store.Get(id, owner)
	if err != nil {
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	writeJSON(w, http.StatusOK, toJobView(job))
}

type listResponse struct {
	Jobs []types.Summary `json:"jobs"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	owner := ownerFromContext(r)
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	jobs, err := s.store.List(owner, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	writeJSON(w, http.StatusOK, listResponse{Jobs: jobs})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

type healthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Service: ServiceTag})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
