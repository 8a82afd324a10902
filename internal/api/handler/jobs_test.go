package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/palmslabs/palms/internal/pipeline"
	"github.com/palmslabs/palms/internal/store"
	"github.com/palmslabs/palms/pkg/models"
)

type mockJobService struct {
	getFn func(jobID int64) (*pipeline.JobPoll, error)
}

func (m *mockJobService) GetJob(_ context.Context, jobID int64) (*pipeline.JobPoll, error) {
	return m.getFn(jobID)
}

// jobRouter mounts the handler on a chi router so URL params resolve.
func jobRouter(svc JobService) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/jobs/{jobID}", NewGetJobHandler(svc))
	return r
}

func TestGetJobHandler_Success(t *testing.T) {
	mock := &mockJobService{getFn: func(jobID int64) (*pipeline.JobPoll, error) {
		return &pipeline.JobPoll{JobID: jobID, PaperID: "paper-1", Status: models.JobStatusProcessing}, nil
	}}

	rec := httptest.NewRecorder()
	jobRouter(mock).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/15", nil))

	data := parseData(t, rec, http.StatusOK)
	if data["job_id"] != float64(15) {
		t.Errorf("unexpected job_id: %v", data["job_id"])
	}
	if data["status"] != models.JobStatusProcessing {
		t.Errorf("unexpected status: %v", data["status"])
	}
	if data["paper_id"] != "paper-1" {
		t.Errorf("unexpected paper_id: %v", data["paper_id"])
	}
}

func TestGetJobHandler_NotFound(t *testing.T) {
	mock := &mockJobService{getFn: func(int64) (*pipeline.JobPoll, error) {
		return nil, store.ErrNotFound
	}}

	rec := httptest.NewRecorder()
	jobRouter(mock).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/999", nil))

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Errorf("expected 404 NOT_FOUND, got %d %s", status, code)
	}
}

func TestGetJobHandler_BadID(t *testing.T) {
	rec := httptest.NewRecorder()
	jobRouter(&mockJobService{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/jobs/abc", nil))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}
