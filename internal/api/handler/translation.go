package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/palmslabs/palms/internal/api/response"
	"github.com/palmslabs/palms/internal/pipeline"
	"github.com/palmslabs/palms/pkg/models"
)

// TranslationService defines the pipeline operations the translation
// handlers depend on.
type TranslationService interface {
	StartTranslation(ctx context.Context, params pipeline.TranslationParams) (*models.Job, error)
	ReceiveTranslationCallback(ctx context.Context, params pipeline.TranslationCallbackParams) (int, error)
}

// NewStartTranslationHandler returns the handler for POST /api/v1/translations.
// The dispatch is asynchronous: the response is written before the worker is
// reached, and results arrive later through the callback.
func NewStartTranslationHandler(svc TranslationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InputType   string            `json:"input_type"`
			UserID      string            `json:"user_id"`
			PaperID     string            `json:"paper_id"`
			Languages   []string          `json:"languages"`
			LocalWords  json.RawMessage   `json:"local_words"`
			GlobalWords json.RawMessage   `json:"global_words"`
			Questions   []models.Question `json:"mcq_s"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "Invalid JSON body", nil)
			return
		}
		if req.InputType == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "input_type is required", nil)
			return
		}
		if req.UserID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "user_id is required", nil)
			return
		}
		if req.PaperID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "paper_id is required", nil)
			return
		}
		if len(req.Languages) == 0 {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "languages is required", nil)
			return
		}

		job, err := svc.StartTranslation(r.Context(), pipeline.TranslationParams{
			InputType:   req.InputType,
			UserID:      req.UserID,
			PaperID:     req.PaperID,
			Languages:   req.Languages,
			LocalWords:  req.LocalWords,
			GlobalWords: req.GlobalWords,
			Questions:   req.Questions,
		})
		if err != nil {
			writePipelineError(w, err)
			return
		}

		response.Accepted(w, map[string]any{
			"job_id": job.ID,
			"status": job.Status,
		})
	}
}

// NewTranslationCallbackHandler returns the handler for
// PUT /api/v1/translations/callback, the worker's completion notification.
func NewTranslationCallbackHandler(svc TranslationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID        *int64                                            `json:"job_id"`
			UserID       string                                            `json:"user_id"`
			PaperID      string                                            `json:"paper_id"`
			Translations map[string]map[string]models.QuestionTranslation `json:"translations"`
			LocalWords   json.RawMessage                                   `json:"local_words"`
			GlobalWords  json.RawMessage                                   `json:"global_words"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "Invalid JSON body", nil)
			return
		}
		if req.JobID == nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "job_id is required", nil)
			return
		}
		if req.UserID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "user_id is required", nil)
			return
		}
		if req.PaperID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "paper_id is required", nil)
			return
		}
		if len(req.Translations) == 0 {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "translations is required", nil)
			return
		}

		saved, err := svc.ReceiveTranslationCallback(r.Context(), pipeline.TranslationCallbackParams{
			JobID:        *req.JobID,
			UserID:       req.UserID,
			PaperID:      req.PaperID,
			Translations: req.Translations,
			LocalWords:   req.LocalWords,
			GlobalWords:  req.GlobalWords,
		})
		if err != nil {
			writePipelineError(w, err)
			return
		}

		response.JSON(w, map[string]any{"questions_saved": saved})
	}
}
