package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/palmslabs/palms/internal/pipeline"
	"github.com/palmslabs/palms/internal/worker"
	"github.com/palmslabs/palms/pkg/models"
)

// --- mock TaggingService ---

type mockTaggingService struct {
	startFn  func(params pipeline.TaggingParams) (*pipeline.TaggingDispatchResult, error)
	statusFn func(paperID string, jobID *int64) (*pipeline.TaggingStatus, error)
	resultFn func(params pipeline.TaggingCallbackParams) (bool, error)
}

func (m *mockTaggingService) StartTagging(_ context.Context, params pipeline.TaggingParams) (*pipeline.TaggingDispatchResult, error) {
	return m.startFn(params)
}

func (m *mockTaggingService) GetTaggingStatus(_ context.Context, paperID string, jobID *int64) (*pipeline.TaggingStatus, error) {
	return m.statusFn(paperID, jobID)
}

func (m *mockTaggingService) ReceiveTaggingResult(_ context.Context, params pipeline.TaggingCallbackParams) (bool, error) {
	return m.resultFn(params)
}

// --- helpers ---

func jsonReq(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	b, _ := json.Marshal(body)
	r := httptest.NewRequest(method, target, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func parseData(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) map[string]any {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func parseErr(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, env.Error.Code
}

func strp(s string) *string { return &s }

// --- dispatch ---

func TestStartTaggingHandler_Success(t *testing.T) {
	var captured pipeline.TaggingParams
	mock := &mockTaggingService{startFn: func(params pipeline.TaggingParams) (*pipeline.TaggingDispatchResult, error) {
		captured = params
		return &pipeline.TaggingDispatchResult{
			Job:            &models.Job{ID: 12, Status: models.JobStatusCompleted},
			TotalQuestions: 3,
			Stats:          json.RawMessage(`{"tagged":3}`),
		}, nil
	}}

	h := NewStartTaggingHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/taggings", map[string]any{
		"paper_id": "paper-1",
		"user_id":  "u1",
	}))

	data := parseData(t, rec, http.StatusOK)
	if data["job_id"] != float64(12) {
		t.Errorf("unexpected job_id: %v", data["job_id"])
	}
	if data["total_questions"] != float64(3) {
		t.Errorf("unexpected total_questions: %v", data["total_questions"])
	}
	if captured.PaperID != "paper-1" || captured.UserID != "u1" {
		t.Errorf("unexpected params: %+v", captured)
	}
}

func TestStartTaggingHandler_MissingPaperID(t *testing.T) {
	h := NewStartTaggingHandler(&mockTaggingService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/taggings", map[string]any{"user_id": "u1"}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}

func TestStartTaggingHandler_NoQuestionsFound(t *testing.T) {
	mock := &mockTaggingService{startFn: func(pipeline.TaggingParams) (*pipeline.TaggingDispatchResult, error) {
		return nil, pipeline.ErrNoQuestionsFound
	}}

	h := NewStartTaggingHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/taggings", map[string]any{
		"paper_id": "empty-paper",
		"user_id":  "u1",
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound || code != "NO_QUESTIONS_FOUND" {
		t.Errorf("expected 404 NO_QUESTIONS_FOUND, got %d %s", status, code)
	}
}

func TestStartTaggingHandler_WorkerTimeout(t *testing.T) {
	mock := &mockTaggingService{startFn: func(pipeline.TaggingParams) (*pipeline.TaggingDispatchResult, error) {
		return nil, worker.ErrWorkerTimeout
	}}

	h := NewStartTaggingHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/taggings", map[string]any{
		"paper_id": "paper-1",
		"user_id":  "u1",
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusGatewayTimeout || code != "WORKER_TIMEOUT" {
		t.Errorf("expected 504 WORKER_TIMEOUT, got %d %s", status, code)
	}
}

// --- status ---

func TestTaggingStatusHandler_Success(t *testing.T) {
	var capturedJobID *int64
	mock := &mockTaggingService{statusFn: func(paperID string, jobID *int64) (*pipeline.TaggingStatus, error) {
		capturedJobID = jobID
		return &pipeline.TaggingStatus{
			Stats: pipeline.TaggingStats{Total: 10, Processed: 4, Tagged: 3, Untagged: 1, Pending: 6, CompletionPercentage: 40},
			Results: []*models.TaggingResult{
				{QuestionID: "q1", Area: strp("Math")},
			},
		}, nil
	}}

	h := NewTaggingStatusHandler(mock)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/taggings/status?paper_id=paper-1&job_id=9", nil)
	h.ServeHTTP(rec, r)

	data := parseData(t, rec, http.StatusOK)
	stats := data["stats"].(map[string]any)
	if stats["completion_percentage"] != float64(40) {
		t.Errorf("unexpected completion_percentage: %v", stats["completion_percentage"])
	}
	if capturedJobID == nil || *capturedJobID != 9 {
		t.Errorf("job_id not forwarded: %v", capturedJobID)
	}
}

func TestTaggingStatusHandler_EmptyResultsIsArray(t *testing.T) {
	mock := &mockTaggingService{statusFn: func(string, *int64) (*pipeline.TaggingStatus, error) {
		return &pipeline.TaggingStatus{}, nil
	}}

	h := NewTaggingStatusHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/taggings/status?paper_id=p", nil))

	data := parseData(t, rec, http.StatusOK)
	if _, ok := data["results"].([]any); !ok {
		t.Errorf("results should be a JSON array, got %T", data["results"])
	}
}

func TestTaggingStatusHandler_MissingPaperID(t *testing.T) {
	h := NewTaggingStatusHandler(&mockTaggingService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/taggings/status", nil))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}

func TestTaggingStatusHandler_BadJobID(t *testing.T) {
	h := NewTaggingStatusHandler(&mockTaggingService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/taggings/status?paper_id=p&job_id=abc", nil))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}

// --- callback ---

func TestTaggingResultHandler_Success(t *testing.T) {
	var captured pipeline.TaggingCallbackParams
	mock := &mockTaggingService{resultFn: func(params pipeline.TaggingCallbackParams) (bool, error) {
		captured = params
		return true, nil
	}}

	h := NewTaggingResultHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPut, "/api/v1/taggings/results", map[string]any{
		"paper_id":    "paper-1",
		"question_id": "q1",
		"job_id":      7,
		"area":        "Math",
		"sub_area":    "Algebra",
		"topic":       "Quadratics",
		"sub_topic":   "Roots",
		"user_id":     "u1",
	}))

	data := parseData(t, rec, http.StatusOK)
	if data["tagged"] != true {
		t.Errorf("expected tagged=true, got %v", data["tagged"])
	}
	if captured.JobID != 7 || captured.QuestionID != "q1" {
		t.Errorf("unexpected params: %+v", captured)
	}
	if captured.Area == nil || *captured.Area != "Math" {
		t.Errorf("area not forwarded: %v", captured.Area)
	}
}

func TestTaggingResultHandler_MissingJobID(t *testing.T) {
	h := NewTaggingResultHandler(&mockTaggingService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPut, "/api/v1/taggings/results", map[string]any{
		"paper_id":    "paper-1",
		"question_id": "q1",
		"user_id":     "u1",
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}

func TestTaggingResultHandler_JobIDOutOfRange(t *testing.T) {
	mock := &mockTaggingService{resultFn: func(pipeline.TaggingCallbackParams) (bool, error) {
		return false, pipeline.ErrJobIDOutOfRange
	}}

	h := NewTaggingResultHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPut, "/api/v1/taggings/results", map[string]any{
		"paper_id":    "paper-1",
		"question_id": "q1",
		"job_id":      int64(1) << 40,
		"user_id":     "u1",
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}
