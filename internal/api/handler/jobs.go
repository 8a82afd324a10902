package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/palmslabs/palms/internal/api/response"
	"github.com/palmslabs/palms/internal/pipeline"
)

// JobService exposes ledger lookups to the jobs handlers.
type JobService interface {
	GetJob(ctx context.Context, jobID int64) (*pipeline.JobPoll, error)
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "jobID must be an integer", nil)
			return
		}

		poll, err := svc.GetJob(r.Context(), jobID)
		if err != nil {
			writePipelineError(w, err)
			return
		}

		response.JSON(w, poll)
	}
}
