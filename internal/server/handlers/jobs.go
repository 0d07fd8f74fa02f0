package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/costscope/costscope/internal/errors"
	"github.com/costscope/costscope/internal/server/middleware"
	"github.com/costscope/costscope/pkg/orchestrator"
	"github.com/costscope/costscope/pkg/pipeline"
	"github.com/costscope/costscope/pkg/runstore"
)

const maxRequestBody = 1 << 20

// Jobs serves the job lifecycle endpoints: intake, inspection, and the
// caller-driven advance, run, and retry operations.
type Jobs struct {
	store  *runstore.Store
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

// NewJobs wires the job handlers to the run store and orchestrator.
func NewJobs(store *runstore.Store, orch *orchestrator.Orchestrator, logger *zap.Logger) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{store: store, orch: orch, logger: logger}
}

// CreateJobRequest is the intake body.
type CreateJobRequest struct {
	Name     string `json:"name"`
	SpecPath string `json:"spec_path,omitempty"`
}

// Create registers a new job in the created state.
func (h *Jobs) Create(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	var req CreateJobRequest
	body := io.LimitReader(r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.CodeInvalidRequest,
			"invalid request body: "+err.Error(), requestID)
		return
	}

	job, err := h.store.CreateJob(r.Context(), req.Name, req.SpecPath)
	if err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}

	h.logger.Info("Job created",
		zap.String("job_id", job.ID),
		zap.String("name", job.Name))

	writeJSON(w, http.StatusCreated, job)
}

// Get returns one job by id.
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	job, err := h.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// List returns all jobs, newest first.
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	jobs, err := h.store.ListJobs(r.Context())
	if err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// Executions returns the full attempt audit trail for a job.
func (h *Jobs) Executions(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	jobID := chi.URLParam(r, "id")

	if _, err := h.store.GetJob(r.Context(), jobID); err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}
	execs, err := h.store.ListExecutions(r.Context(), jobID)
	if err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": execs})
}

// Uploaded marks a created job's project archive as stored.
func (h *Jobs) Uploaded(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	jobID := chi.URLParam(r, "id")

	if err := h.store.MarkUploaded(r.Context(), jobID); err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// AdvanceResponse reports the result of one advance step.
type AdvanceResponse struct {
	Job       *pipeline.Job            `json:"job"`
	Execution *pipeline.StageExecution `json:"execution,omitempty"`
}

// Advance runs exactly one stage. A stage failure surfaces as an error
// envelope; the sealed failure record stays queryable via Executions.
func (h *Jobs) Advance(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	jobID := chi.URLParam(r, "id")

	res, err := h.orch.Advance(r.Context(), jobID)
	if err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, AdvanceResponse{Job: res.Job, Execution: res.Execution})
}

// Run advances the job until it reaches a terminal state.
func (h *Jobs) Run(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	jobID := chi.URLParam(r, "id")

	job, err := h.orch.Run(r.Context(), jobID)
	if err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Retry rewinds a failed job so its failed stage can be attempted again.
func (h *Jobs) Retry(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	jobID := chi.URLParam(r, "id")

	job, err := h.orch.Retry(r.Context(), jobID)
	if err != nil {
		apperrors.RespondWithError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
