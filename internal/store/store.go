package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/palmslabs/palms/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrTerminalStatus is returned when a status update would move a job out of
// a terminal state. The ledger is monotonic: success/completed/error/failed
// are final.
var ErrTerminalStatus = errors.New("job already in terminal status")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	EmbedJobID(ctx context.Context, jobID int64) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id int64, status string, opts ...JobUpdateOption) error
	ReapStaleJobs(ctx context.Context, olderThan time.Time) (int64, error)

	GetRootQuestions(ctx context.Context, paperID string) ([]*models.ReplicatedQuestion, error)
	CountRootQuestions(ctx context.Context, paperID string) (int, error)
	GetReplicatedQuestion(ctx context.Context, id int64) (*models.ReplicatedQuestion, error)
	InsertReplicationForest(ctx context.Context, rows []PendingQuestionRow, opts ForestInsertOptions) (*ForestInsertResult, error)

	UpsertTaggingResult(ctx context.Context, result *models.TaggingResult) (*models.TaggingResult, error)
	ListTaggingResults(ctx context.Context, paperID string, jobID *int64) ([]*models.TaggingResult, error)
	CountTaggingResults(ctx context.Context, paperID string, jobID *int64) (processed, tagged int, err error)

	SaveTranslationResults(ctx context.Context, results []*models.TranslationResult) (int, error)
	GetTranslationResult(ctx context.Context, paperID, questionID string) (*models.TranslationResult, error)
}

// PendingQuestionRow is one flattened node of a replication forest awaiting
// insert. TempKey is a synthetic key local to the call; TempParentKey (nil
// for roots) references the TempKey of the node's immediate parent. Real ids
// are assigned level by level so a parent's id is always known before its
// children are written.
type PendingQuestionRow struct {
	TempKey       int
	TempParentKey *int
	PaperID       string
	QuestionID    string
	JobID         *int64
	QuestionText  string
	Options       json.RawMessage
	CorrectAnswer string
	Solution      string
	AppliedEdit   *string
	Prompt        *string
	UserID        string
}

// ForestInsertOptions tunes the bulk insert.
type ForestInsertOptions struct {
	// BatchSize caps rows per INSERT statement.
	BatchSize int
	// TxTimeout is applied as the statement timeout inside the transaction.
	TxTimeout time.Duration
	// ExistingIDs seeds the temp-key resolution map with already-persisted
	// rows, letting a subtree attach under an existing parent. Seeded keys
	// are not counted as inserted.
	ExistingIDs map[int]int64
}

// ForestInsertResult reports what one bulk call persisted.
type ForestInsertResult struct {
	RootsInserted    int
	ChildrenInserted int
	// IDByTempKey maps each pending row's TempKey to its database-assigned id.
	IDByTempKey map[int]int64
}

type jobUpdateParams struct {
	ResponseData json.RawMessage
	RequestData  json.RawMessage
}

type JobUpdateOption func(*jobUpdateParams)

// WithResponseData records the terminal result (or error detail) snapshot.
func WithResponseData(data json.RawMessage) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResponseData = data
	}
}

// WithRequestData replaces the stored request snapshot.
func WithRequestData(data json.RawMessage) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RequestData = data
	}
}
