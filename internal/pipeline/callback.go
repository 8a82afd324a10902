package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/palmslabs/palms/internal/cache"
	"github.com/palmslabs/palms/internal/store"
	"github.com/palmslabs/palms/pkg/models"
)

// TranslationCallbackParams is a validated worker translation callback.
type TranslationCallbackParams struct {
	JobID        int64
	UserID       string
	PaperID      string
	Translations map[string]map[string]models.QuestionTranslation
	LocalWords   json.RawMessage
	GlobalWords  json.RawMessage
}

// ReceiveTranslationCallback persists a worker's translation results and
// closes the job out. All per-question upserts run in one transaction: a
// failure on any question rolls the whole callback back and leaves the job
// open for a retry. Callbacks naming a job id with no ledger row are
// rejected.
func (s *Service) ReceiveTranslationCallback(ctx context.Context, params TranslationCallbackParams) (int, error) {
	job, err := s.store.GetJob(ctx, params.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, fmt.Errorf("%w: %d", ErrJobNotFound, params.JobID)
		}
		return 0, fmt.Errorf("look up job: %w", err)
	}

	// Deterministic question order; the wire format is a JSON object so the
	// worker's ordering does not survive decoding.
	questionIDs := make([]string, 0, len(params.Translations))
	for questionID := range params.Translations {
		questionIDs = append(questionIDs, questionID)
	}
	sort.Strings(questionIDs)

	results := make([]*models.TranslationResult, 0, len(questionIDs))
	for _, questionID := range questionIDs {
		results = append(results, &models.TranslationResult{
			PaperID:      params.PaperID,
			QuestionID:   questionID,
			JobID:        job.ID,
			Translations: params.Translations[questionID],
			LocalWords:   params.LocalWords,
			GlobalWords:  params.GlobalWords,
			UserID:       params.UserID,
		})
	}

	saved, err := s.store.SaveTranslationResults(ctx, results)
	if err != nil {
		return 0, fmt.Errorf("save translation results: %w", err)
	}
	s.metrics.CallbackQuestions.Add(float64(saved))

	responseData, err := json.Marshal(map[string]int{"questions_saved": saved})
	if err != nil {
		responseData = []byte(`{}`)
	}
	s.closeJob(ctx, job.ID, models.JobStatusSuccess, responseData)

	return saved, nil
}

// TaggingCallbackParams is one question's taxonomy reported by the worker.
type TaggingCallbackParams struct {
	PaperID    string
	QuestionID string
	JobID      int64
	Area       *string
	SubArea    *string
	Topic      *string
	SubTopic   *string
	UserID     string
}

// ReceiveTaggingResult upserts one question's taxonomy by its natural key
// (paper_id, question_id, job_id) and reports whether the question now
// counts as tagged (all four taxonomy levels present). The job id must fit
// a 32-bit signed integer.
func (s *Service) ReceiveTaggingResult(ctx context.Context, params TaggingCallbackParams) (bool, error) {
	if params.JobID > math.MaxInt32 || params.JobID < math.MinInt32 {
		return false, fmt.Errorf("%w: %d", ErrJobIDOutOfRange, params.JobID)
	}

	result, err := s.store.UpsertTaggingResult(ctx, &models.TaggingResult{
		PaperID:    params.PaperID,
		QuestionID: params.QuestionID,
		JobID:      params.JobID,
		Area:       params.Area,
		SubArea:    params.SubArea,
		Topic:      params.Topic,
		SubTopic:   params.SubTopic,
		UserID:     params.UserID,
	})
	if err != nil {
		return false, fmt.Errorf("upsert tagging result: %w", err)
	}
	s.metrics.CallbackQuestions.Inc()

	// The paper's stats snapshot is stale now; the next poll recomputes it.
	_ = s.cache.Delete(ctx, cache.TaggingStatsKey(params.PaperID))

	return result.Tagged(), nil
}
