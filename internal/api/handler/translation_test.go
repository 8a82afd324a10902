package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/palmslabs/palms/internal/pipeline"
	"github.com/palmslabs/palms/pkg/models"
)

// --- mock TranslationService ---

type mockTranslationService struct {
	startFn    func(params pipeline.TranslationParams) (*models.Job, error)
	callbackFn func(params pipeline.TranslationCallbackParams) (int, error)
}

func (m *mockTranslationService) StartTranslation(_ context.Context, params pipeline.TranslationParams) (*models.Job, error) {
	return m.startFn(params)
}

func (m *mockTranslationService) ReceiveTranslationCallback(_ context.Context, params pipeline.TranslationCallbackParams) (int, error) {
	return m.callbackFn(params)
}

// --- dispatch ---

func TestStartTranslationHandler_Accepted(t *testing.T) {
	var captured pipeline.TranslationParams
	mock := &mockTranslationService{startFn: func(params pipeline.TranslationParams) (*models.Job, error) {
		captured = params
		return &models.Job{ID: 21, Status: models.JobStatusStarted}, nil
	}}

	h := NewStartTranslationHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/translations", map[string]any{
		"input_type": "translation",
		"user_id":    "u1",
		"paper_id":   "paper-1",
		"languages":  []string{"hi", "ta"},
		"mcq_s": []map[string]any{
			{"question_id": "q1", "question_text": "one"},
		},
	}))

	data := parseData(t, rec, http.StatusAccepted)
	if data["job_id"] != float64(21) {
		t.Errorf("unexpected job_id: %v", data["job_id"])
	}
	if data["status"] != models.JobStatusStarted {
		t.Errorf("unexpected status: %v", data["status"])
	}
	if len(captured.Languages) != 2 || len(captured.Questions) != 1 {
		t.Errorf("unexpected params: %+v", captured)
	}
}

func TestStartTranslationHandler_MissingLanguages(t *testing.T) {
	h := NewStartTranslationHandler(&mockTranslationService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPost, "/api/v1/translations", map[string]any{
		"input_type": "translation",
		"user_id":    "u1",
		"paper_id":   "paper-1",
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}

func TestStartTranslationHandler_InvalidBody(t *testing.T) {
	h := NewStartTranslationHandler(&mockTranslationService{})
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/translations", nil)
	h.ServeHTTP(rec, r)

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}

// --- callback ---

func TestTranslationCallbackHandler_Success(t *testing.T) {
	var captured pipeline.TranslationCallbackParams
	mock := &mockTranslationService{callbackFn: func(params pipeline.TranslationCallbackParams) (int, error) {
		captured = params
		return 2, nil
	}}

	h := NewTranslationCallbackHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPut, "/api/v1/translations/callback", map[string]any{
		"job_id":   14,
		"user_id":  "u1",
		"paper_id": "paper-1",
		"translations": map[string]any{
			"q1": map[string]any{"hi": map[string]any{"question_text": "एक"}},
			"q2": map[string]any{"hi": map[string]any{"question_text": "दो"}},
		},
	}))

	data := parseData(t, rec, http.StatusOK)
	if data["questions_saved"] != float64(2) {
		t.Errorf("unexpected questions_saved: %v", data["questions_saved"])
	}
	if captured.JobID != 14 || len(captured.Translations) != 2 {
		t.Errorf("unexpected params: %+v", captured)
	}
}

func TestTranslationCallbackHandler_UnknownJob(t *testing.T) {
	mock := &mockTranslationService{callbackFn: func(pipeline.TranslationCallbackParams) (int, error) {
		return 0, pipeline.ErrJobNotFound
	}}

	h := NewTranslationCallbackHandler(mock)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPut, "/api/v1/translations/callback", map[string]any{
		"job_id":   777,
		"user_id":  "u1",
		"paper_id": "paper-1",
		"translations": map[string]any{
			"q1": map[string]any{"hi": map[string]any{"question_text": "एक"}},
		},
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusNotFound || code != "NOT_FOUND" {
		t.Errorf("expected 404 NOT_FOUND, got %d %s", status, code)
	}
}

func TestTranslationCallbackHandler_MissingTranslations(t *testing.T) {
	h := NewTranslationCallbackHandler(&mockTranslationService{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, jsonReq(t, http.MethodPut, "/api/v1/translations/callback", map[string]any{
		"job_id":   14,
		"user_id":  "u1",
		"paper_id": "paper-1",
	}))

	status, code := parseErr(t, rec)
	if status != http.StatusBadRequest || code != "VALIDATION_ERROR" {
		t.Errorf("expected 400 VALIDATION_ERROR, got %d %s", status, code)
	}
}
