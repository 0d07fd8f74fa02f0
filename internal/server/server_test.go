package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/costscope/costscope/internal/errors"
	"github.com/costscope/costscope/internal/server/handlers"
	"github.com/costscope/costscope/internal/stages"
	"github.com/costscope/costscope/pkg/locker"
	"github.com/costscope/costscope/pkg/orchestrator"
	"github.com/costscope/costscope/pkg/pipeline"
	"github.com/costscope/costscope/pkg/runstore"
)

func newAPIServer(t *testing.T) (*Server, *runstore.Store) {
	t.Helper()
	ctx := context.Background()

	db, err := runstore.Open(ctx, runstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, runstore.Migrate(ctx, db))
	store := runstore.New(db)

	registry := stages.NewRegistry(stages.Endpoints{}, &stages.FilePlanSource{Dir: t.TempDir()}, time.Second)
	orch := orchestrator.New(store, locker.NewMemory(time.Second), registry, orchestrator.Config{}, nil)

	srv := New("127.0.0.1", 0,
		WithJobs(handlers.NewJobs(store, orch, nil)))
	return srv, store
}

func TestServerUnknownRouteReturnsErrorEnvelope(t *testing.T) {
	srv, _ := newAPIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv, _ := newAPIServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeMethodNotAllowed, body.Error.Code)
}

func TestServerPort(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"default port", 8080},
		{"custom port", 9000},
		{"zero port", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1", tt.port)
			assert.Equal(t, tt.port, srv.Port())
		})
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	srv := New("127.0.0.1", 0, WithVersion("1.2.3"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
}

func TestServerJobLifecycleEndpoints(t *testing.T) {
	srv, _ := newAPIServer(t)
	h := srv.Handler()

	// Create.
	body := bytes.NewBufferString(`{"name": "api-test"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var job pipeline.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, pipeline.StateCreated, job.State)

	// Get.
	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Mark uploaded.
	req = httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/uploaded", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var uploaded pipeline.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&uploaded))
	assert.Equal(t, pipeline.StateUploaded, uploaded.State)

	// List.
	req = httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), job.ID)

	// Executions (none yet).
	req = httptest.NewRequest(http.MethodGet, "/v1/jobs/"+job.ID+"/executions", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerGetMissingJobReturns404(t *testing.T) {
	srv, _ := newAPIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeNotFound, body.Error.Code)
}

func TestServerAdvanceFailureMapsToStageFailed(t *testing.T) {
	srv, store := newAPIServer(t)
	h := srv.Handler()

	// No planning endpoint is configured, so the first advance fails input
	// validation and the job moves to failed.
	job, err := store.CreateJob(context.Background(), "doomed", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/advance", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeValidationFailed, body.Error.Code)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StateFailed, got.State)
}

func TestServerAdvanceTerminalJobConflicts(t *testing.T) {
	srv, store := newAPIServer(t)
	h := srv.Handler()

	job, err := store.CreateJob(context.Background(), "", "")
	require.NoError(t, err)
	require.NoError(t, store.UpdateJobState(context.Background(), job.ID,
		pipeline.StateCreated, pipeline.StateFailed))

	// Failed jobs have a retry path but no advance path.
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID+"/advance", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, apperrors.CodeInvalidTransition, body.Error.Code)
}

func TestServerRateLimit(t *testing.T) {
	srv := New("127.0.0.1", 0, WithRateLimit(1))
	h := srv.Handler()

	limited := false
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true

			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, apperrors.CodeRateLimited, body.Error.Code)
			break
		}
	}
	assert.True(t, limited, "burst of 10 against rps=1 must hit the limiter")
}
