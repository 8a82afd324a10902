package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/palmslabs/palms/internal/store"
	"github.com/palmslabs/palms/internal/worker"
	"github.com/palmslabs/palms/pkg/models"
)

// UploadTreeParams is a validated bulk replication upload.
type UploadTreeParams struct {
	InputType string
	PaperID   string
	UserID    string
	JobID     *int64
	FieldMap  json.RawMessage
	Items     []models.EnrichedQuestion
}

// UploadTreeResult reports what one bulk upload persisted, echoing the
// caller's correlation metadata.
type UploadTreeResult struct {
	RootsInserted    int
	ChildrenInserted int
	PaperID          string
	JobID            *int64
	FieldMap         json.RawMessage
}

// UploadReplicationTree flattens every enriched question's replication
// forest and bulk-persists it in one transaction: either the whole forest
// lands or none of it does. A supplied job id is failed on error so the
// ledger reflects the rollback.
func (s *Service) UploadReplicationTree(ctx context.Context, params UploadTreeParams) (*UploadTreeResult, error) {
	b := &forestBuilder{maxDepth: s.opts.MaxTreeDepth}
	for _, item := range params.Items {
		if err := b.addEnrichedQuestion(item, params.PaperID, params.UserID, params.JobID); err != nil {
			return nil, err
		}
	}

	result, err := s.store.InsertReplicationForest(ctx, b.rows, store.ForestInsertOptions{
		BatchSize: s.opts.BulkBatchSize,
		TxTimeout: s.opts.BulkTxTimeout,
	})
	if err != nil {
		if params.JobID != nil {
			s.errorJob(*params.JobID, err)
		}
		return nil, fmt.Errorf("insert replication forest: %w", err)
	}

	s.metrics.TreeRowsInserted.Add(float64(result.RootsInserted + result.ChildrenInserted))

	if params.JobID != nil {
		responseData, mErr := json.Marshal(map[string]int{
			"replicated_questions_inserted": result.RootsInserted,
			"ai_question_children_inserted": result.ChildrenInserted,
		})
		if mErr == nil {
			s.closeJob(ctx, *params.JobID, models.JobStatusCompleted, responseData)
		}
	}

	return &UploadTreeResult{
		RootsInserted:    result.RootsInserted,
		ChildrenInserted: result.ChildrenInserted,
		PaperID:          params.PaperID,
		JobID:            params.JobID,
		FieldMap:         params.FieldMap,
	}, nil
}

// ExtendParams is a validated custom-prompt extension request.
type ExtendParams struct {
	ParentID           int64
	PaperID            string
	OriginalQuestionID string
	Question           string
	Options            json.RawMessage
	Prompt             string
	Count              int
	UserID             string
}

// ExtendResult is the persisted extension subtree with database-assigned ids
// attached to every node.
type ExtendResult struct {
	Job              *models.Job
	ChildrenInserted int
	Replications     []models.ReplicationNode
}

// ExtendWithPrompt asks the worker to generate variants of an existing
// question row under a caller-supplied prompt, then persists the returned
// subtree beneath that row. The worker call is awaited; the job is closed
// out in-request.
func (s *Service) ExtendWithPrompt(ctx context.Context, params ExtendParams) (*ExtendResult, error) {
	parent, err := s.store.GetReplicatedQuestion(ctx, params.ParentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrParentNotFound, params.ParentID)
		}
		return nil, fmt.Errorf("look up parent question: %w", err)
	}
	if parent.PaperID != params.PaperID || parent.QuestionID != params.OriginalQuestionID {
		return nil, fmt.Errorf("%w: id %d does not belong to paper %s question %s",
			ErrParentNotFound, params.ParentID, params.PaperID, params.OriginalQuestionID)
	}

	requestData, err := json.Marshal(map[string]any{
		"parent_id":            params.ParentID,
		"paper_id":             params.PaperID,
		"original_question_id": params.OriginalQuestionID,
		"prompt":               params.Prompt,
		"count":                params.Count,
		"user_id":              params.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal extension request: %w", err)
	}

	job, err := s.createJob(ctx, params.PaperID, params.UserID, models.JobTypeCustomPrompt, requestData, "/api/v1/replications/extend")
	if err != nil {
		return nil, err
	}

	s.metrics.JobsDispatched.WithLabelValues(models.JobTypeCustomPrompt).Inc()

	workerCtx, cancel := context.WithTimeout(ctx, s.opts.WorkerTimeout)
	defer cancel()

	generated, err := s.worker.Extend(workerCtx, worker.ExtendRequest{
		ParentID:           params.ParentID,
		PaperID:            params.PaperID,
		OriginalQuestionID: params.OriginalQuestionID,
		Question:           params.Question,
		Options:            params.Options,
		Prompt:             params.Prompt,
		Count:              params.Count,
		UserID:             params.UserID,
	})
	if err != nil {
		s.failJob(job.ID, err)
		return nil, fmt.Errorf("extension worker call: %w", err)
	}

	// Key 0 is the existing parent row; the subtree hangs off it.
	const parentKey = 0
	b := &forestBuilder{nextKey: parentKey + 1, maxDepth: s.opts.MaxTreeDepth}
	parentRef := parentKey
	jobID := job.ID
	if err := b.addNodes(generated.Replications, params.PaperID, parent.QuestionID, &parentRef, &jobID, params.UserID, 1); err != nil {
		s.failJob(job.ID, err)
		return nil, err
	}

	inserted, err := s.store.InsertReplicationForest(ctx, b.rows, store.ForestInsertOptions{
		BatchSize:   s.opts.BulkBatchSize,
		TxTimeout:   s.opts.BulkTxTimeout,
		ExistingIDs: map[int]int64{parentKey: parent.ID},
	})
	if err != nil {
		s.errorJob(job.ID, err)
		return nil, fmt.Errorf("insert extension subtree: %w", err)
	}

	s.metrics.TreeRowsInserted.Add(float64(inserted.ChildrenInserted))

	nodes := generated.Replications
	nextKey := parentKey + 1
	attachIDs(nodes, inserted.IDByTempKey, &nextKey)

	responseData, err := json.Marshal(map[string]int{"children_inserted": inserted.ChildrenInserted})
	if err != nil {
		responseData = []byte(`{}`)
	}
	s.closeJob(ctx, job.ID, models.JobStatusCompleted, responseData)

	job.Status = models.JobStatusCompleted
	job.ResponseData = responseData

	return &ExtendResult{
		Job:              job,
		ChildrenInserted: inserted.ChildrenInserted,
		Replications:     nodes,
	}, nil
}

// errorJob closes a job in error status with the cause captured, detached
// from the (possibly dead) request context.
func (s *Service) errorJob(jobID int64, cause error) {
	detail, err := json.Marshal(map[string]string{"error": cause.Error()})
	if err != nil {
		detail = []byte(`{"error":"unserializable failure"}`)
	}
	ctx, cancel := contextWithCloseTimeout()
	defer cancel()
	s.closeJob(ctx, jobID, models.JobStatusError, detail)
}

// --- forest flattening ---

// forestBuilder walks replication trees depth-first, producing the flat
// pending-row arena the store's two-pass insert consumes. Temp keys are
// assigned in pre-order so attachIDs can mirror the walk.
type forestBuilder struct {
	rows     []store.PendingQuestionRow
	nextKey  int
	maxDepth int
}

func (b *forestBuilder) addEnrichedQuestion(item models.EnrichedQuestion, paperID, userID string, jobID *int64) error {
	rootKey := b.nextKey
	b.nextKey++
	b.rows = append(b.rows, store.PendingQuestionRow{
		TempKey:       rootKey,
		PaperID:       paperID,
		QuestionID:    item.QuestionID,
		JobID:         jobID,
		QuestionText:  item.QuestionText,
		Options:       item.Options,
		CorrectAnswer: item.CorrectAnswer,
		Solution:      item.Solution,
		UserID:        userID,
	})
	return b.addNodes(item.Replications, paperID, item.QuestionID, &rootKey, jobID, userID, 1)
}

func (b *forestBuilder) addNodes(nodes []models.ReplicationNode, paperID, questionID string, parentKey *int, jobID *int64, userID string, depth int) error {
	if len(nodes) == 0 {
		return nil
	}
	if depth > b.maxDepth {
		return fmt.Errorf("%w: depth %d", ErrMaxDepthExceeded, depth)
	}
	for _, node := range nodes {
		key := b.nextKey
		b.nextKey++
		parent := *parentKey
		b.rows = append(b.rows, store.PendingQuestionRow{
			TempKey:       key,
			TempParentKey: &parent,
			PaperID:       paperID,
			QuestionID:    questionID,
			JobID:         jobID,
			QuestionText:  node.QuestionText,
			Options:       node.Options,
			CorrectAnswer: node.CorrectAnswer,
			Solution:      node.Solution,
			AppliedEdit:   optionalString(node.AppliedEdit),
			Prompt:        optionalString(node.Prompt),
			UserID:        userID,
		})
		if err := b.addNodes(node.Replications, paperID, questionID, &key, jobID, userID, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// attachIDs mirrors the builder's pre-order walk, writing each node's
// database-assigned id back onto the wire structure.
func attachIDs(nodes []models.ReplicationNode, ids map[int]int64, nextKey *int) {
	for i := range nodes {
		nodes[i].ID = ids[*nextKey]
		*nextKey++
		attachIDs(nodes[i].Replications, ids, nextKey)
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
