package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palmslabs/palms/internal/worker"
	"github.com/palmslabs/palms/pkg/models"
)

func TestUploadReplicationTree_FlattensForest(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, &mockWorker{})

	jobID := int64(42)
	st.jobs[jobID] = &models.Job{ID: jobID, Status: models.JobStatusProcessing}

	result, err := svc.UploadReplicationTree(context.Background(), UploadTreeParams{
		InputType: "replication",
		PaperID:   "paper-1",
		UserID:    "u1",
		JobID:     &jobID,
		Items: []models.EnrichedQuestion{
			{
				QuestionID:   "q1",
				QuestionText: "root one",
				Replications: []models.ReplicationNode{
					{QuestionText: "variant a", AppliedEdit: "reworded"},
					{
						QuestionText: "variant b",
						AppliedEdit:  "numbers changed",
						Replications: []models.ReplicationNode{
							{QuestionText: "variant b1", AppliedEdit: "inverted"},
						},
					},
				},
			},
			{QuestionID: "q2", QuestionText: "root two"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.RootsInserted)
	assert.Equal(t, 3, result.ChildrenInserted)
	assert.Equal(t, &jobID, result.JobID)

	require.Len(t, st.forestRows, 1)
	rows := st.forestRows[0]
	require.Len(t, rows, 5)

	// Depth-first order with parent keys wired to the preceding rows.
	assert.Nil(t, rows[0].TempParentKey)
	assert.Equal(t, "root one", rows[0].QuestionText)
	require.NotNil(t, rows[1].TempParentKey)
	assert.Equal(t, rows[0].TempKey, *rows[1].TempParentKey)
	require.NotNil(t, rows[3].TempParentKey)
	assert.Equal(t, rows[2].TempKey, *rows[3].TempParentKey)
	assert.Nil(t, rows[4].TempParentKey)

	// Descendants inherit the root's logical question id.
	assert.Equal(t, "q1", rows[3].QuestionID)
	require.NotNil(t, rows[1].AppliedEdit)
	assert.Equal(t, "reworded", *rows[1].AppliedEdit)

	assert.Equal(t, models.JobStatusCompleted, st.jobStatus(jobID))
}

func TestUploadReplicationTree_InsertFailureFailsJob(t *testing.T) {
	st := newMockStore()
	st.insertForestErr = errors.New("statement timeout")
	svc := newTestService(st, &mockWorker{})

	jobID := int64(7)
	st.jobs[jobID] = &models.Job{ID: jobID, Status: models.JobStatusProcessing}

	_, err := svc.UploadReplicationTree(context.Background(), UploadTreeParams{
		InputType: "replication",
		PaperID:   "paper-1",
		UserID:    "u1",
		JobID:     &jobID,
		Items:     []models.EnrichedQuestion{{QuestionID: "q1", QuestionText: "root"}},
	})
	require.Error(t, err)
	assert.Equal(t, models.JobStatusError, st.jobStatus(jobID))
}

func TestUploadReplicationTree_DepthCap(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, &mockWorker{})
	svc.opts.MaxTreeDepth = 2

	tooDeep := models.ReplicationNode{
		QuestionText: "level 1",
		AppliedEdit:  "e1",
		Replications: []models.ReplicationNode{{
			QuestionText: "level 2",
			AppliedEdit:  "e2",
			Replications: []models.ReplicationNode{{QuestionText: "level 3", AppliedEdit: "e3"}},
		}},
	}

	_, err := svc.UploadReplicationTree(context.Background(), UploadTreeParams{
		InputType: "replication",
		PaperID:   "paper-1",
		UserID:    "u1",
		Items: []models.EnrichedQuestion{{
			QuestionID:   "q1",
			QuestionText: "root",
			Replications: []models.ReplicationNode{tooDeep},
		}},
	})
	assert.ErrorIs(t, err, ErrMaxDepthExceeded)
	assert.Empty(t, st.forestRows)
}

func TestExtendWithPrompt_AttachesUnderParent(t *testing.T) {
	st := newMockStore()
	st.parentQuestion = &models.ReplicatedQuestion{
		ID: 300, PaperID: "paper-1", QuestionID: "q1", QuestionText: "original",
	}
	wk := &mockWorker{
		extendFn: func(req worker.ExtendRequest) (*worker.ExtendResult, error) {
			assert.Equal(t, int64(300), req.ParentID)
			assert.Equal(t, "make it harder", req.Prompt)
			return &worker.ExtendResult{
				Replications: []models.ReplicationNode{
					{
						QuestionText: "harder variant",
						Prompt:       "make it harder",
						Replications: []models.ReplicationNode{
							{QuestionText: "nested variant", AppliedEdit: "reworded"},
						},
					},
				},
			}, nil
		},
	}
	svc := newTestService(st, wk)

	result, err := svc.ExtendWithPrompt(context.Background(), ExtendParams{
		ParentID:           300,
		PaperID:            "paper-1",
		OriginalQuestionID: "q1",
		Question:           "original",
		Prompt:             "make it harder",
		Count:              2,
		UserID:             "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ChildrenInserted)
	assert.Equal(t, models.JobStatusCompleted, result.Job.Status)

	// The existing row seeds the parent resolution map.
	require.Len(t, st.forestOpts, 1)
	assert.Equal(t, map[int]int64{0: 300}, st.forestOpts[0].ExistingIDs)

	// Every node in the echoed subtree carries its database-assigned id.
	require.Len(t, result.Replications, 1)
	assert.Positive(t, result.Replications[0].ID)
	require.Len(t, result.Replications[0].Replications, 1)
	assert.Positive(t, result.Replications[0].Replications[0].ID)
	assert.NotEqual(t, result.Replications[0].ID, result.Replications[0].Replications[0].ID)

	// All generated rows hang off the seeded parent key chain.
	rows := st.forestRows[0]
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].TempParentKey)
	assert.Equal(t, 0, *rows[0].TempParentKey)
	assert.Equal(t, "q1", rows[0].QuestionID)
}

func TestExtendWithPrompt_ParentNotFound(t *testing.T) {
	st := newMockStore()
	svc := newTestService(st, &mockWorker{})

	_, err := svc.ExtendWithPrompt(context.Background(), ExtendParams{
		ParentID:           999,
		PaperID:            "paper-1",
		OriginalQuestionID: "q1",
		Question:           "original",
		Prompt:             "p",
		Count:              1,
	})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestExtendWithPrompt_ParentPaperMismatch(t *testing.T) {
	st := newMockStore()
	st.parentQuestion = &models.ReplicatedQuestion{
		ID: 300, PaperID: "other-paper", QuestionID: "q1", QuestionText: "original",
	}
	svc := newTestService(st, &mockWorker{})

	_, err := svc.ExtendWithPrompt(context.Background(), ExtendParams{
		ParentID:           300,
		PaperID:            "paper-1",
		OriginalQuestionID: "q1",
		Question:           "original",
		Prompt:             "p",
		Count:              1,
	})
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestExtendWithPrompt_WorkerFailureFailsJob(t *testing.T) {
	st := newMockStore()
	st.parentQuestion = &models.ReplicatedQuestion{
		ID: 300, PaperID: "paper-1", QuestionID: "q1", QuestionText: "original",
	}
	wk := &mockWorker{
		extendFn: func(worker.ExtendRequest) (*worker.ExtendResult, error) {
			return nil, worker.ErrWorkerTimeout
		},
	}
	svc := newTestService(st, wk)

	_, err := svc.ExtendWithPrompt(context.Background(), ExtendParams{
		ParentID:           300,
		PaperID:            "paper-1",
		OriginalQuestionID: "q1",
		Question:           "original",
		Prompt:             "p",
		Count:              1,
	})
	assert.ErrorIs(t, err, worker.ErrWorkerTimeout)
	assert.Equal(t, models.JobStatusFailed, st.jobStatus(1))
}
