// Package worker is the HTTP client for the external PALMS AI worker, the
// separate process that performs translation, tagging and replication of
// question content.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/palmslabs/palms/pkg/models"
)

// Sentinel errors for worker call failures.
var (
	ErrWorkerUnreachable = errors.New("worker unreachable")
	ErrWorkerTimeout     = errors.New("worker call timeout")
	ErrWorkerStatus      = errors.New("worker returned non-success status")
	ErrInvalidResponse   = errors.New("worker returned invalid response")
)

// Client is the interface for dispatching work to the external worker.
type Client interface {
	// Tag classifies questions and returns the worker's stats in the same
	// request/response cycle.
	Tag(ctx context.Context, req TagRequest) (*TagResult, error)
	// Translate hands off a translation job; results arrive later via the
	// worker's callback to this service.
	Translate(ctx context.Context, req TranslateRequest) error
	// Extend asks the worker to generate variants of one question under a
	// custom prompt and returns the generated subtree.
	Extend(ctx context.Context, req ExtendRequest) (*ExtendResult, error)
}

// TagRequest asks the worker to assign taxonomy to a set of questions.
type TagRequest struct {
	PaperID   string            `json:"paper_id"`
	JobID     int64             `json:"job_id"`
	UserID    string            `json:"user_id"`
	Questions []models.Question `json:"questions"`
}

// TagResult is the worker's synchronous tagging reply.
type TagResult struct {
	Stats   json.RawMessage `json:"stats"`
	Results []TaggedItem    `json:"results,omitempty"`
}

// TaggedItem is one question's taxonomy as reported by the worker.
type TaggedItem struct {
	QuestionID string  `json:"question_id"`
	Area       *string `json:"area"`
	SubArea    *string `json:"sub_area"`
	Topic      *string `json:"topic"`
	SubTopic   *string `json:"sub_topic"`
}

// TranslateRequest asks the worker to translate a paper's questions.
type TranslateRequest struct {
	PaperID     string            `json:"paper_id"`
	JobID       int64             `json:"job_id"`
	UserID      string            `json:"user_id"`
	Languages   []string          `json:"languages"`
	LocalWords  json.RawMessage   `json:"local_words,omitempty"`
	GlobalWords json.RawMessage   `json:"global_words,omitempty"`
	Questions   []models.Question `json:"mcq_s,omitempty"`
}

// ExtendRequest asks the worker to generate variants of one question under a
// caller-supplied prompt.
type ExtendRequest struct {
	ParentID           int64           `json:"parent_id"`
	PaperID            string          `json:"paper_id"`
	OriginalQuestionID string          `json:"original_question_id"`
	Question           string          `json:"question"`
	Options            json.RawMessage `json:"options,omitempty"`
	Prompt             string          `json:"prompt"`
	Count              int             `json:"count"`
	UserID             string          `json:"user_id,omitempty"`
}

// ExtendResult carries the generated subtree back from the worker.
type ExtendResult struct {
	Replications []models.ReplicationNode `json:"replications"`
}

// HTTPClient implements Client against the worker's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new worker HTTP client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Tag(ctx context.Context, req TagRequest) (*TagResult, error) {
	var result TagResult
	if err := c.post(ctx, "/tag", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) Translate(ctx context.Context, req TranslateRequest) error {
	// The worker acknowledges the dispatch immediately; translations come
	// back through the callback endpoint.
	return c.post(ctx, "/translate", req, nil)
}

func (c *HTTPClient) Extend(ctx context.Context, req ExtendRequest) (*ExtendResult, error) {
	var result ExtendResult
	if err := c.post(ctx, "/extend", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding worker request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building worker request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Keep the raw status and body for diagnosis at the caller.
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrWorkerStatus, resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrWorkerTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrWorkerTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrWorkerUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrWorkerUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
