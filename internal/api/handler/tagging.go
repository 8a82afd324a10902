package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/palmslabs/palms/internal/api/response"
	"github.com/palmslabs/palms/internal/pipeline"
	"github.com/palmslabs/palms/internal/store"
	"github.com/palmslabs/palms/internal/worker"
	"github.com/palmslabs/palms/pkg/models"
)

// TaggingService defines the pipeline operations the tagging handlers
// depend on.
type TaggingService interface {
	StartTagging(ctx context.Context, params pipeline.TaggingParams) (*pipeline.TaggingDispatchResult, error)
	GetTaggingStatus(ctx context.Context, paperID string, jobID *int64) (*pipeline.TaggingStatus, error)
	ReceiveTaggingResult(ctx context.Context, params pipeline.TaggingCallbackParams) (bool, error)
}

// NewStartTaggingHandler returns the handler for POST /api/v1/taggings.
// The tagging dispatch is synchronous: the worker is awaited and the job is
// closed out before the response is written.
func NewStartTaggingHandler(svc TaggingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PaperID   string            `json:"paper_id"`
			UserID    string            `json:"user_id"`
			Questions []models.Question `json:"questions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "Invalid JSON body", nil)
			return
		}
		if req.PaperID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "paper_id is required", nil)
			return
		}
		if req.UserID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "user_id is required", nil)
			return
		}

		result, err := svc.StartTagging(r.Context(), pipeline.TaggingParams{
			PaperID:   req.PaperID,
			UserID:    req.UserID,
			Questions: req.Questions,
		})
		if err != nil {
			writePipelineError(w, err)
			return
		}

		response.JSON(w, map[string]any{
			"job_id":          result.Job.ID,
			"total_questions": result.TotalQuestions,
			"result":          rawOrNull(result.Stats),
		})
	}
}

// NewTaggingStatusHandler returns the handler for GET /api/v1/taggings/status.
func NewTaggingStatusHandler(svc TaggingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paperID := r.URL.Query().Get("paper_id")
		if paperID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "paper_id is required", nil)
			return
		}

		var jobID *int64
		if raw := r.URL.Query().Get("job_id"); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeValidation, "job_id must be an integer", nil)
				return
			}
			jobID = &id
		}

		status, err := svc.GetTaggingStatus(r.Context(), paperID, jobID)
		if err != nil {
			writePipelineError(w, err)
			return
		}

		results := status.Results
		if results == nil {
			results = []*models.TaggingResult{}
		}
		response.JSON(w, map[string]any{
			"stats":   status.Stats,
			"results": results,
		})
	}
}

// NewTaggingResultHandler returns the handler for PUT /api/v1/taggings/results,
// the worker's per-question tagging callback.
func NewTaggingResultHandler(svc TaggingService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PaperID    string  `json:"paper_id"`
			QuestionID string  `json:"question_id"`
			JobID      *int64  `json:"job_id"`
			Area       *string `json:"area"`
			SubArea    *string `json:"sub_area"`
			Topic      *string `json:"topic"`
			SubTopic   *string `json:"sub_topic"`
			UserID     string  `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "Invalid JSON body", nil)
			return
		}
		if req.PaperID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "paper_id is required", nil)
			return
		}
		if req.QuestionID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "question_id is required", nil)
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

		tagged, err := svc.ReceiveTaggingResult(r.Context(), pipeline.TaggingCallbackParams{
			PaperID:    req.PaperID,
			QuestionID: req.QuestionID,
			JobID:      *req.JobID,
			Area:       req.Area,
			SubArea:    req.SubArea,
			Topic:      req.Topic,
			SubTopic:   req.SubTopic,
			UserID:     req.UserID,
		})
		if err != nil {
			writePipelineError(w, err)
			return
		}

		response.JSON(w, map[string]any{"tagged": tagged})
	}
}

// writePipelineError maps pipeline and worker errors onto the response
// taxonomy.
func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNoQuestionsFound):
		response.Error(w, http.StatusNotFound, response.CodeNoQuestionsFound,
			"No questions found for the given paper", nil)
	case errors.Is(err, pipeline.ErrJobNotFound), errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound,
			"No job found for the given job_id", nil)
	case errors.Is(err, pipeline.ErrParentNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound,
			"No question found for the given parent_id", err.Error())
	case errors.Is(err, pipeline.ErrJobIDOutOfRange):
		response.Error(w, http.StatusBadRequest, response.CodeValidation,
			err.Error(), nil)
	case errors.Is(err, pipeline.ErrMaxDepthExceeded):
		response.Error(w, http.StatusBadRequest, response.CodeValidation,
			"Replication tree is nested too deeply", err.Error())
	case errors.Is(err, worker.ErrWorkerTimeout):
		response.Error(w, http.StatusGatewayTimeout, response.CodeWorkerTimeout,
			"The worker call timed out", nil)
	case errors.Is(err, worker.ErrWorkerStatus),
		errors.Is(err, worker.ErrWorkerUnreachable),
		errors.Is(err, worker.ErrInvalidResponse):
		response.Error(w, http.StatusBadGateway, response.CodeWorkerError,
			"The worker call failed", err.Error())
	default:
		response.Error(w, http.StatusInternalServerError, response.CodePersistence,
			"The operation could not be persisted", nil)
	}
}

// rawOrNull renders empty raw JSON as null instead of the empty string.
func rawOrNull(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
