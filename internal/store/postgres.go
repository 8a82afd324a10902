package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/palmslabs/palms/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (paper_id, user_id, input_type, request_data, status, api_endpoint, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		job.PaperID, job.UserID, job.InputType, job.RequestData, job.Status,
		job.APIEndpoint, job.CreatedAt, job.UpdatedAt,
	).Scan(&job.ID)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

// EmbedJobID rewrites the stored request snapshot to include the row's own
// assigned id, so the persisted payload is self-describing.
func (s *PostgresStore) EmbedJobID(ctx context.Context, jobID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET request_data = jsonb_set(COALESCE(request_data, '{}'::jsonb), '{job_id}', to_jsonb(id)),
		     updated_at = NOW()
		 WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("embed job id: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, paper_id, user_id, input_type, request_data, response_data, status, api_endpoint, response_time, created_at, updated_at
		 FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.PaperID, &j.UserID, &j.InputType, &j.RequestData, &j.ResponseData,
		&j.Status, &j.APIEndpoint, &j.ResponseTime, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

// UpdateJobStatus transitions a job's status. Transitions out of a terminal
// state are refused with ErrTerminalStatus; the guard re-checks the stored
// status inside the UPDATE so concurrent close-outs cannot both win.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id int64, status string, opts ...JobUpdateOption) error {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	if models.IsTerminalStatus(currentStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrTerminalStatus, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if models.IsTerminalStatus(status) {
		query += fmt.Sprintf(", response_time = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ResponseData != nil {
		query += fmt.Sprintf(", response_data = $%d", argIdx)
		args = append(args, params.ResponseData)
		argIdx++
	}
	if params.RequestData != nil {
		query += fmt.Sprintf(", request_data = $%d", argIdx)
		args = append(args, params.RequestData)
		argIdx++
	}

	query += ` WHERE id = $1 AND status NOT IN ('success', 'completed', 'error', 'failed')`

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: concurrent close-out beat %s", ErrTerminalStatus, status)
	}
	return nil
}

// ReapStaleJobs fails every non-terminal job last touched before the cutoff.
// Used by the optional stale-job sweep; jobs whose worker never calls back
// otherwise sit in started/processing forever.
func (s *PostgresStore) ReapStaleJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET status = 'failed',
		     response_data = jsonb_build_object('error', 'no callback received before stale-job cutoff'),
		     response_time = NOW(),
		     updated_at = NOW()
		 WHERE status NOT IN ('success', 'completed', 'error', 'failed')
		   AND updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("reap stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Replicated questions ---

const replicatedQuestionColumns = `id, paper_id, question_id, parent_id, job_id, question_text, options, correct_answer, solution, applied_edit, prompt, user_id, deleted, created_at, updated_at`

func scanReplicatedQuestion(row pgx.Row) (*models.ReplicatedQuestion, error) {
	var q models.ReplicatedQuestion
	err := row.Scan(&q.ID, &q.PaperID, &q.QuestionID, &q.ParentID, &q.JobID,
		&q.QuestionText, &q.Options, &q.CorrectAnswer, &q.Solution,
		&q.AppliedEdit, &q.Prompt, &q.UserID, &q.Deleted, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *PostgresStore) GetRootQuestions(ctx context.Context, paperID string) ([]*models.ReplicatedQuestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+replicatedQuestionColumns+`
		 FROM replicated_questions
		 WHERE paper_id = $1 AND parent_id IS NULL AND NOT deleted
		 ORDER BY id`, paperID)
	if err != nil {
		return nil, fmt.Errorf("get root questions: %w", err)
	}
	defer rows.Close()

	var questions []*models.ReplicatedQuestion
	for rows.Next() {
		q, err := scanReplicatedQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan root question: %w", err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func (s *PostgresStore) CountRootQuestions(ctx context.Context, paperID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM replicated_questions
		 WHERE paper_id = $1 AND parent_id IS NULL AND NOT deleted`, paperID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count root questions: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetReplicatedQuestion(ctx context.Context, id int64) (*models.ReplicatedQuestion, error) {
	q, err := scanReplicatedQuestion(s.pool.QueryRow(ctx,
		`SELECT `+replicatedQuestionColumns+` FROM replicated_questions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get replicated question: %w", err)
	}
	return q, nil
}

// InsertReplicationForest persists a flattened forest in one transaction.
// Rows are written level by level: each round bulk-inserts every row whose
// parent id is already resolved (roots first), records the assigned ids, and
// repeats until the batch is drained. The caller supplies rows in
// depth-first order so every round makes progress.
func (s *PostgresStore) InsertReplicationForest(ctx context.Context, pending []PendingQuestionRow, opts ForestInsertOptions) (*ForestInsertResult, error) {
	result := &ForestInsertResult{IDByTempKey: make(map[int]int64, len(pending)+len(opts.ExistingIDs))}
	for key, id := range opts.ExistingIDs {
		result.IDByTempKey[key] = id
	}
	if len(pending) == 0 {
		return result, nil
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin forest insert: %w", err)
	}
	defer tx.Rollback(ctx)

	if opts.TxTimeout > 0 {
		// Bulk inserts of thousands of rows must not hit the default
		// statement timeout.
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", opts.TxTimeout.Milliseconds())); err != nil {
			return nil, fmt.Errorf("set forest insert timeout: %w", err)
		}
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := s.insertForestBatch(ctx, tx, pending[start:end], result); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit forest insert: %w", err)
	}
	return result, nil
}

func (s *PostgresStore) insertForestBatch(ctx context.Context, tx pgx.Tx, batch []PendingQuestionRow, result *ForestInsertResult) error {
	remaining := batch
	for len(remaining) > 0 {
		var ready []PendingQuestionRow
		var deferred []PendingQuestionRow
		for _, row := range remaining {
			if row.TempParentKey == nil {
				ready = append(ready, row)
				continue
			}
			if _, ok := result.IDByTempKey[*row.TempParentKey]; ok {
				ready = append(ready, row)
			} else {
				deferred = append(deferred, row)
			}
		}
		if len(ready) == 0 {
			return fmt.Errorf("forest insert: %d rows reference unknown parents", len(deferred))
		}

		if err := s.insertForestLevel(ctx, tx, ready, result); err != nil {
			return err
		}
		remaining = deferred
	}
	return nil
}

func (s *PostgresStore) insertForestLevel(ctx context.Context, tx pgx.Tx, rows []PendingQuestionRow, result *ForestInsertResult) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO replicated_questions
		(paper_id, question_id, parent_id, job_id, question_text, options, correct_answer, solution, applied_edit, prompt, user_id, created_at, updated_at)
		VALUES `)

	now := time.Now().UTC()
	args := make([]any, 0, len(rows)*13)
	argIdx := 1
	for i, row := range rows {
		var parentID *int64
		if row.TempParentKey != nil {
			id := result.IDByTempKey[*row.TempParentKey]
			parentID = &id
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			argIdx, argIdx+1, argIdx+2, argIdx+3, argIdx+4, argIdx+5, argIdx+6,
			argIdx+7, argIdx+8, argIdx+9, argIdx+10, argIdx+11, argIdx+12)
		argIdx += 13
		args = append(args, row.PaperID, row.QuestionID, parentID, row.JobID,
			row.QuestionText, nullableJSON(row.Options), row.CorrectAnswer, row.Solution,
			row.AppliedEdit, row.Prompt, row.UserID, now, now)
	}
	sb.WriteString(" RETURNING id")

	dbRows, err := tx.Query(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("insert forest level: %w", err)
	}
	defer dbRows.Close()

	i := 0
	for dbRows.Next() {
		var id int64
		if err := dbRows.Scan(&id); err != nil {
			return fmt.Errorf("scan forest insert id: %w", err)
		}
		result.IDByTempKey[rows[i].TempKey] = id
		if rows[i].TempParentKey == nil {
			result.RootsInserted++
		} else {
			result.ChildrenInserted++
		}
		i++
	}
	if err := dbRows.Err(); err != nil {
		return fmt.Errorf("insert forest level: %w", err)
	}
	if i != len(rows) {
		return fmt.Errorf("insert forest level: expected %d ids, got %d", len(rows), i)
	}
	return nil
}

// --- Tagging results ---

// UpsertTaggingResult writes taxonomy for one question atomically against
// the live-row natural key (paper_id, question_id, job_id). An existing live
// row gets its four taxonomy fields replaced; try-update-then-insert is
// deliberately avoided so concurrent callbacks cannot produce two live rows.
func (s *PostgresStore) UpsertTaggingResult(ctx context.Context, result *models.TaggingResult) (*models.TaggingResult, error) {
	var r models.TaggingResult
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tagging_results (paper_id, question_id, job_id, area, sub_area, topic, sub_topic, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 ON CONFLICT (paper_id, question_id, job_id) WHERE NOT deleted DO UPDATE SET
		   area = EXCLUDED.area,
		   sub_area = EXCLUDED.sub_area,
		   topic = EXCLUDED.topic,
		   sub_topic = EXCLUDED.sub_topic,
		   user_id = EXCLUDED.user_id,
		   deleted = FALSE,
		   updated_at = NOW()
		 RETURNING id, paper_id, question_id, job_id, area, sub_area, topic, sub_topic, user_id, deleted, created_at, updated_at`,
		result.PaperID, result.QuestionID, result.JobID,
		result.Area, result.SubArea, result.Topic, result.SubTopic, result.UserID,
	).Scan(&r.ID, &r.PaperID, &r.QuestionID, &r.JobID, &r.Area, &r.SubArea,
		&r.Topic, &r.SubTopic, &r.UserID, &r.Deleted, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("upsert tagging result: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListTaggingResults(ctx context.Context, paperID string, jobID *int64) ([]*models.TaggingResult, error) {
	query := `SELECT id, paper_id, question_id, job_id, area, sub_area, topic, sub_topic, user_id, deleted, created_at, updated_at
		 FROM tagging_results WHERE paper_id = $1 AND NOT deleted`
	args := []any{paperID}
	if jobID != nil {
		query += ` AND job_id = $2`
		args = append(args, *jobID)
	}
	query += ` ORDER BY question_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tagging results: %w", err)
	}
	defer rows.Close()

	var results []*models.TaggingResult
	for rows.Next() {
		var r models.TaggingResult
		if err := rows.Scan(&r.ID, &r.PaperID, &r.QuestionID, &r.JobID, &r.Area, &r.SubArea,
			&r.Topic, &r.SubTopic, &r.UserID, &r.Deleted, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tagging result: %w", err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// CountTaggingResults returns, for one paper (optionally one job), the
// number of live tagging rows and the subset with all four taxonomy levels
// present. Read-only; safe to poll.
func (s *PostgresStore) CountTaggingResults(ctx context.Context, paperID string, jobID *int64) (int, int, error) {
	query := `SELECT COUNT(*),
	        COUNT(*) FILTER (WHERE area IS NOT NULL AND sub_area IS NOT NULL AND topic IS NOT NULL AND sub_topic IS NOT NULL)
		 FROM tagging_results WHERE paper_id = $1 AND NOT deleted`
	args := []any{paperID}
	if jobID != nil {
		query += ` AND job_id = $2`
		args = append(args, *jobID)
	}

	var processed, tagged int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&processed, &tagged); err != nil {
		return 0, 0, fmt.Errorf("count tagging results: %w", err)
	}
	return processed, tagged, nil
}

// --- Translation results ---

// SaveTranslationResults upserts every question's translations in the order
// supplied, inside a single transaction: a failure on any question rolls
// back the whole callback. The natural key is (paper_id, question_id); a
// second callback for the same question replaces its translations.
func (s *PostgresStore) SaveTranslationResults(ctx context.Context, results []*models.TranslationResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin translation save: %w", err)
	}
	defer tx.Rollback(ctx)

	saved := 0
	for _, r := range results {
		translations, err := json.Marshal(r.Translations)
		if err != nil {
			return 0, fmt.Errorf("marshal translations for %s: %w", r.QuestionID, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO translation_results (paper_id, question_id, job_id, translations, local_words, global_words, user_id, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			 ON CONFLICT (paper_id, question_id) DO UPDATE SET
			   job_id = EXCLUDED.job_id,
			   translations = EXCLUDED.translations,
			   local_words = EXCLUDED.local_words,
			   global_words = EXCLUDED.global_words,
			   user_id = EXCLUDED.user_id,
			   updated_at = NOW()`,
			r.PaperID, r.QuestionID, r.JobID, translations,
			nullableJSON(r.LocalWords), nullableJSON(r.GlobalWords), r.UserID)
		if err != nil {
			return 0, fmt.Errorf("upsert translation for %s: %w", r.QuestionID, err)
		}
		saved++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit translation save: %w", err)
	}
	return saved, nil
}

func (s *PostgresStore) GetTranslationResult(ctx context.Context, paperID, questionID string) (*models.TranslationResult, error) {
	var r models.TranslationResult
	var translations []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, paper_id, question_id, job_id, translations, local_words, global_words, user_id, created_at, updated_at
		 FROM translation_results WHERE paper_id = $1 AND question_id = $2`, paperID, questionID,
	).Scan(&r.ID, &r.PaperID, &r.QuestionID, &r.JobID, &translations,
		&r.LocalWords, &r.GlobalWords, &r.UserID, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get translation result: %w", err)
	}
	if err := json.Unmarshal(translations, &r.Translations); err != nil {
		return nil, fmt.Errorf("decode translations: %w", err)
	}
	return &r, nil
}

// nullableJSON maps empty raw JSON to SQL NULL so jsonb columns don't store
// empty strings.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
