package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/palmslabs/palms/internal/cache"
	"github.com/palmslabs/palms/pkg/models"
)

// statsCacheTTL bounds how stale a cached paper-wide stats snapshot may be.
// Pollers hammer the status endpoint; ten seconds absorbs the bursts.
const statsCacheTTL = 10 * time.Second

// TaggingStats is the progress snapshot for one paper's tagging work.
type TaggingStats struct {
	Total                int `json:"total"`
	Processed            int `json:"processed"`
	Tagged               int `json:"tagged"`
	Untagged             int `json:"untagged"`
	Pending              int `json:"pending"`
	CompletionPercentage int `json:"completion_percentage"`
}

// TaggingStatus bundles the stats with the live tagging rows behind them.
type TaggingStatus struct {
	Stats   TaggingStats
	Results []*models.TaggingResult
}

// GetTaggingStatus computes read-only tagging progress for a paper,
// optionally scoped to one job. Pure aggregation over two tables; safe to
// poll.
func (s *Service) GetTaggingStatus(ctx context.Context, paperID string, jobID *int64) (*TaggingStatus, error) {
	results, err := s.store.ListTaggingResults(ctx, paperID, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tagging results: %w", err)
	}

	// Paper-wide polls reuse a recent stats snapshot when one exists.
	// Tagging writes drop the snapshot, so a hit is at most TTL-stale
	// relative to an idle paper.
	if jobID == nil {
		if raw, ok, cacheErr := s.cache.Get(ctx, cache.TaggingStatsKey(paperID)); cacheErr == nil && ok {
			var stats TaggingStats
			if json.Unmarshal(raw, &stats) == nil {
				return &TaggingStatus{Stats: stats, Results: results}, nil
			}
		}
	}

	total, err := s.store.CountRootQuestions(ctx, paperID)
	if err != nil {
		return nil, fmt.Errorf("count root questions: %w", err)
	}

	processed, tagged, err := s.store.CountTaggingResults(ctx, paperID, jobID)
	if err != nil {
		return nil, fmt.Errorf("count tagging results: %w", err)
	}

	stats := computeTaggingStats(total, processed, tagged)
	if jobID == nil {
		if raw, marshalErr := json.Marshal(stats); marshalErr == nil {
			_ = s.cache.Set(ctx, cache.TaggingStatsKey(paperID), raw, statsCacheTTL)
		}
	}

	return &TaggingStatus{Stats: stats, Results: results}, nil
}

func computeTaggingStats(total, processed, tagged int) TaggingStats {
	pending := total - processed
	if pending < 0 {
		pending = 0
	}

	percentage := 0
	if total > 0 {
		percentage = int(math.Round(float64(processed) / float64(total) * 100))
		if percentage > 100 {
			percentage = 100
		}
	}

	return TaggingStats{
		Total:                total,
		Processed:            processed,
		Tagged:               tagged,
		Untagged:             processed - tagged,
		Pending:              pending,
		CompletionPercentage: percentage,
	}
}
