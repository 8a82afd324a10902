package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/palmslabs/palms/internal/api/response"
	"github.com/palmslabs/palms/internal/pipeline"
	"github.com/palmslabs/palms/pkg/models"
)

// ReplicationService defines the pipeline operations the replication
// handlers depend on.
type ReplicationService interface {
	UploadReplicationTree(ctx context.Context, params pipeline.UploadTreeParams) (*pipeline.UploadTreeResult, error)
	ExtendWithPrompt(ctx context.Context, params pipeline.ExtendParams) (*pipeline.ExtendResult, error)
}

// NewUploadReplicationTreeHandler returns the handler for
// POST /api/v1/replications: bulk persistence of a generated-variant forest.
func NewUploadReplicationTreeHandler(svc ReplicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InputType    string                    `json:"input_type"`
			EnrichedMCQs []models.EnrichedQuestion `json:"enriched_mcqs"`
			UserID       string                    `json:"user_id"`
			FieldMap     json.RawMessage           `json:"field_map"`
			JobID        *int64                    `json:"job_id"`
			PaperID      string                    `json:"paper_id"`
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
		if len(req.EnrichedMCQs) == 0 {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "enriched_mcqs is required", nil)
			return
		}
		for _, item := range req.EnrichedMCQs {
			if item.QuestionID == "" {
				response.Error(w, http.StatusBadRequest, response.CodeValidation,
					"every enriched_mcqs item requires a question_id", nil)
				return
			}
		}

		result, err := svc.UploadReplicationTree(r.Context(), pipeline.UploadTreeParams{
			InputType: req.InputType,
			PaperID:   req.PaperID,
			UserID:    req.UserID,
			JobID:     req.JobID,
			FieldMap:  req.FieldMap,
			Items:     req.EnrichedMCQs,
		})
		if err != nil {
			writePipelineError(w, err)
			return
		}

		response.Created(w, map[string]any{
			"replicated_questions_inserted": result.RootsInserted,
			"ai_question_children_inserted": result.ChildrenInserted,
			"paper_id":                      result.PaperID,
			"job_id":                        result.JobID,
			"field_map":                     rawOrNull(result.FieldMap),
		})
	}
}

// NewExtendHandler returns the handler for POST /api/v1/replications/extend:
// custom-prompt generation of new variants under an existing question row.
func NewExtendHandler(svc ReplicationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ParentID           *int64          `json:"parent_id"`
			Question           string          `json:"question"`
			Options            json.RawMessage `json:"options"`
			Prompt             string          `json:"prompt"`
			Count              int             `json:"count"`
			PaperID            string          `json:"paper_id"`
			OriginalQuestionID string          `json:"original_question_id"`
			UserID             string          `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "Invalid JSON body", nil)
			return
		}
		if req.ParentID == nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "parent_id is required", nil)
			return
		}
		if req.Question == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "question is required", nil)
			return
		}
		if req.Prompt == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "prompt is required", nil)
			return
		}
		if req.Count <= 0 {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "count must be positive", nil)
			return
		}
		if req.PaperID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "paper_id is required", nil)
			return
		}
		if req.OriginalQuestionID == "" {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "original_question_id is required", nil)
			return
		}

		result, err := svc.ExtendWithPrompt(r.Context(), pipeline.ExtendParams{
			ParentID:           *req.ParentID,
			PaperID:            req.PaperID,
			OriginalQuestionID: req.OriginalQuestionID,
			Question:           req.Question,
			Options:            req.Options,
			Prompt:             req.Prompt,
			Count:              req.Count,
			UserID:             req.UserID,
		})
		if err != nil {
			writePipelineError(w, err)
			return
		}

		response.JSON(w, map[string]any{
			"job_id":                        result.Job.ID,
			"ai_question_children_inserted": result.ChildrenInserted,
			"replications":                  result.Replications,
		})
	}
}
