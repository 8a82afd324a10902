// Package pipeline orchestrates the PALMS question-processing jobs: it
// records every dispatch in the job ledger, hands work to the external AI
// worker, persists the worker's results, and reports progress.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/palmslabs/palms/internal/cache"
	"github.com/palmslabs/palms/internal/metrics"
	"github.com/palmslabs/palms/internal/store"
	"github.com/palmslabs/palms/internal/worker"
	"github.com/palmslabs/palms/pkg/models"
)

const jobStatusTTL = 30 * time.Minute

// Options tunes the service.
type Options struct {
	// WorkerTimeout bounds every call to the external worker, including the
	// detached translation dispatch.
	WorkerTimeout time.Duration
	// BulkBatchSize caps rows per INSERT in the tree inserter.
	BulkBatchSize int
	// BulkTxTimeout is the statement timeout for bulk tree transactions.
	BulkTxTimeout time.Duration
	// MaxTreeDepth caps replication nesting accepted from callers.
	MaxTreeDepth int
}

// Service implements the pipeline: dispatcher, callback receiver, tree
// inserter and status reporter. Requests coordinate only through the
// database and the worker; the service itself holds no mutable state.
type Service struct {
	store   store.Store
	cache   cache.Cache
	worker  worker.Client
	metrics *metrics.Metrics
	opts    Options
}

// NewService creates a pipeline service.
func NewService(st store.Store, ca cache.Cache, wc worker.Client, m *metrics.Metrics, opts Options) *Service {
	if opts.WorkerTimeout <= 0 {
		opts.WorkerTimeout = 120 * time.Second
	}
	if opts.BulkBatchSize <= 0 {
		opts.BulkBatchSize = 500
	}
	if opts.MaxTreeDepth <= 0 {
		opts.MaxTreeDepth = 10
	}
	return &Service{store: st, cache: ca, worker: wc, metrics: m, opts: opts}
}

// --- Translation dispatch (asynchronous: results arrive via callback) ---

// TranslationParams is a validated translation dispatch request.
type TranslationParams struct {
	InputType   string
	UserID      string
	PaperID     string
	Languages   []string
	LocalWords  json.RawMessage
	GlobalWords json.RawMessage
	Questions   []models.Question
}

// StartTranslation records a translation job and fires the worker call
// without waiting for it. The returned job is the caller's poll handle; the
// worker reports results later through the translation callback.
func (s *Service) StartTranslation(ctx context.Context, params TranslationParams) (*models.Job, error) {
	requestData, err := json.Marshal(map[string]any{
		"input_type":   params.InputType,
		"user_id":      params.UserID,
		"paper_id":     params.PaperID,
		"languages":    params.Languages,
		"local_words":  rawOrNil(params.LocalWords),
		"global_words": rawOrNil(params.GlobalWords),
		"mcq_s":        params.Questions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal translation request: %w", err)
	}

	job, err := s.createJob(ctx, params.PaperID, params.UserID, params.InputType, requestData, "/api/v1/translations")
	if err != nil {
		return nil, err
	}

	s.metrics.JobsDispatched.WithLabelValues(models.JobTypeTranslation).Inc()

	go s.dispatchTranslation(job.ID, params)

	return job, nil
}

// dispatchTranslation runs detached from the request. A network failure here
// is logged only: the job stays in started until the worker calls back or
// the stale-job sweep fails it.
func (s *Service) dispatchTranslation(jobID int64, params TranslationParams) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in translation dispatch", "error", r, "job_id", jobID)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WorkerTimeout)
	defer cancel()

	err := s.worker.Translate(ctx, worker.TranslateRequest{
		PaperID:     params.PaperID,
		JobID:       jobID,
		UserID:      params.UserID,
		Languages:   params.Languages,
		LocalWords:  params.LocalWords,
		GlobalWords: params.GlobalWords,
		Questions:   params.Questions,
	})
	if err != nil {
		slog.Error("translation dispatch failed", "error", err, "job_id", jobID)
		return
	}

	_ = s.store.UpdateJobStatus(ctx, jobID, models.JobStatusProcessing)
	_ = s.cache.SetJobStatus(ctx, jobID, models.JobStatusProcessing, jobStatusTTL)
	slog.Info("translation dispatched", "job_id", jobID, "paper_id", params.PaperID,
		"languages", len(params.Languages))
}

// --- Tagging dispatch (synchronous: worker replies in-request) ---

// TaggingParams is a validated tagging dispatch request.
type TaggingParams struct {
	PaperID   string
	UserID    string
	Questions []models.Question
}

// TaggingDispatchResult is the synchronous outcome of a tagging dispatch.
type TaggingDispatchResult struct {
	Job            *models.Job
	TotalQuestions int
	Stats          json.RawMessage
}

// StartTagging records a tagging job, awaits the worker's reply, persists
// the returned per-question taxonomy and closes the job out before
// returning. When no explicit question list is supplied the paper's live
// root questions are used; a paper with none fails with ErrNoQuestionsFound.
func (s *Service) StartTagging(ctx context.Context, params TaggingParams) (*TaggingDispatchResult, error) {
	questions := params.Questions
	if len(questions) == 0 {
		roots, err := s.store.GetRootQuestions(ctx, params.PaperID)
		if err != nil {
			return nil, fmt.Errorf("load root questions: %w", err)
		}
		if len(roots) == 0 {
			return nil, ErrNoQuestionsFound
		}
		questions = make([]models.Question, 0, len(roots))
		for _, r := range roots {
			questions = append(questions, models.Question{
				QuestionID:   r.QuestionID,
				QuestionText: r.QuestionText,
				Options:      r.Options,
			})
		}
	}

	requestData, err := json.Marshal(map[string]any{
		"paper_id":  params.PaperID,
		"user_id":   params.UserID,
		"questions": questions,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal tagging request: %w", err)
	}

	job, err := s.createJob(ctx, params.PaperID, params.UserID, models.JobTypeTagging, requestData, "/api/v1/taggings")
	if err != nil {
		return nil, err
	}

	s.metrics.JobsDispatched.WithLabelValues(models.JobTypeTagging).Inc()

	workerCtx, cancel := context.WithTimeout(ctx, s.opts.WorkerTimeout)
	defer cancel()

	result, err := s.worker.Tag(workerCtx, worker.TagRequest{
		PaperID:   params.PaperID,
		JobID:     job.ID,
		UserID:    params.UserID,
		Questions: questions,
	})
	if err != nil {
		s.failJob(job.ID, err)
		return nil, fmt.Errorf("tagging worker call: %w", err)
	}

	for _, item := range result.Results {
		_, upsertErr := s.store.UpsertTaggingResult(ctx, &models.TaggingResult{
			PaperID:    params.PaperID,
			QuestionID: item.QuestionID,
			JobID:      job.ID,
			Area:       item.Area,
			SubArea:    item.SubArea,
			Topic:      item.Topic,
			SubTopic:   item.SubTopic,
			UserID:     params.UserID,
		})
		if upsertErr != nil {
			s.failJob(job.ID, upsertErr)
			return nil, fmt.Errorf("persist tagging result for %s: %w", item.QuestionID, upsertErr)
		}
		s.metrics.CallbackQuestions.Inc()
	}
	if len(result.Results) > 0 {
		_ = s.cache.Delete(ctx, cache.TaggingStatsKey(params.PaperID))
	}

	responseData, err := json.Marshal(map[string]any{"stats": rawOrNil(result.Stats), "questions": len(questions)})
	if err != nil {
		responseData = result.Stats
	}
	s.closeJob(ctx, job.ID, models.JobStatusCompleted, responseData)

	job.Status = models.JobStatusCompleted
	job.ResponseData = responseData

	return &TaggingDispatchResult{
		Job:            job,
		TotalQuestions: len(questions),
		Stats:          result.Stats,
	}, nil
}

// --- Ledger access ---

// JobPoll is the payload for a ledger poll. A redis status hit answers with
// the job id and status alone; a store read fills in the full row.
type JobPoll struct {
	JobID        int64           `json:"job_id"`
	Status       string          `json:"status"`
	PaperID      string          `json:"paper_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	InputType    string          `json:"input_type,omitempty"`
	ResponseData json.RawMessage `json:"response_data,omitempty"`
	ResponseTime *time.Time      `json:"response_time,omitempty"`
	CreatedAt    *time.Time      `json:"created_at,omitempty"`
	UpdatedAt    *time.Time      `json:"updated_at,omitempty"`
}

// GetJob answers a ledger poll. The redis status cache is consulted first;
// on a miss the full row comes from the store and the cache is refreshed.
func (s *Service) GetJob(ctx context.Context, id int64) (*JobPoll, error) {
	if status, ok, err := s.cache.GetJobStatus(ctx, id); err == nil && ok {
		return &JobPoll{JobID: id, Status: status}, nil
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetJobStatus(ctx, job.ID, job.Status, jobStatusTTL)

	created, updated := job.CreatedAt, job.UpdatedAt
	return &JobPoll{
		JobID:        job.ID,
		Status:       job.Status,
		PaperID:      job.PaperID,
		UserID:       job.UserID,
		InputType:    job.InputType,
		ResponseData: job.ResponseData,
		ResponseTime: job.ResponseTime,
		CreatedAt:    &created,
		UpdatedAt:    &updated,
	}, nil
}

// RunStaleJobSweep periodically fails non-terminal jobs older than age.
// Blocks until ctx is cancelled; callers run it in a goroutine.
func (s *Service) RunStaleJobSweep(ctx context.Context, interval, age time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reaped, err := s.store.ReapStaleJobs(ctx, time.Now().UTC().Add(-age))
			if err != nil {
				slog.Error("stale job sweep failed", "error", err)
				continue
			}
			if reaped > 0 {
				slog.Warn("stale jobs failed by sweep", "count", reaped, "age", age)
			}
		}
	}
}

// --- helpers ---

func (s *Service) createJob(ctx context.Context, paperID, userID, inputType string, requestData json.RawMessage, endpoint string) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		PaperID:     paperID,
		UserID:      userID,
		InputType:   inputType,
		RequestData: requestData,
		Status:      models.JobStatusStarted,
		APIEndpoint: endpoint,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	// Make the stored snapshot self-describing.
	if err := s.store.EmbedJobID(ctx, job.ID); err != nil {
		slog.Error("embed job id failed", "error", err, "job_id", job.ID)
	}

	_ = s.cache.SetJobStatus(ctx, job.ID, models.JobStatusStarted, jobStatusTTL)
	return job, nil
}

// closeJob moves a job to a terminal status. Ledger updates on close-out are
// best-effort: a failure is logged, never compounded with the original
// result.
func (s *Service) closeJob(ctx context.Context, jobID int64, status string, responseData json.RawMessage) {
	if err := s.store.UpdateJobStatus(ctx, jobID, status, store.WithResponseData(responseData)); err != nil {
		slog.Error("job close-out failed", "error", err, "job_id", jobID, "status", status)
		return
	}
	_ = s.cache.SetJobStatus(ctx, jobID, status, jobStatusTTL)

	switch status {
	case models.JobStatusSuccess, models.JobStatusCompleted:
		s.metrics.JobsCompleted.Inc()
	case models.JobStatusError, models.JobStatusFailed:
		s.metrics.JobsFailed.Inc()
	}
}

func (s *Service) failJob(jobID int64, cause error) {
	detail, err := json.Marshal(map[string]string{"error": cause.Error()})
	if err != nil {
		detail = []byte(`{"error":"unserializable failure"}`)
	}
	// The originating context may already be dead; close out independently.
	ctx, cancel := contextWithCloseTimeout()
	defer cancel()
	s.closeJob(ctx, jobID, models.JobStatusFailed, detail)
}

func contextWithCloseTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

// rawOrNil keeps empty json.RawMessage out of marshalled maps, where it
// would otherwise render as an empty (invalid) value.
func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
