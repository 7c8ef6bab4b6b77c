package jobstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Job is the identity a successful submission returns
type Job struct {
	ID          string `json:"job_id"`
	Status      Status `json:"status"`
	ProgressPct int    `json:"progress_pct"`
}

// SubmissionError reports a failed job submission: the network call failed
// or the server rejected the request. Distinct from both stream transport
// errors and job-reported failures.
type SubmissionError struct {
	Feature    string
	StatusCode int
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("failed to submit %s job: server returned status %d", e.Feature, e.StatusCode)
	}
	return fmt.Sprintf("failed to submit %s job: %v", e.Feature, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Client submits jobs to the console API and opens their progress streams
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the console API at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			// No overall timeout: the same client carries long-lived streams
			Timeout: 0,
		},
	}
}

// Submit starts a background job for the named feature and returns its
// identity. On failure no stream is opened and a *SubmissionError is
// returned.
func (c *Client) Submit(ctx context.Context, feature string) (*Job, error) {
	url := fmt.Sprintf("%s/api/jobs/%s", c.baseURL, feature)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, &SubmissionError{Feature: feature, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SubmissionError{Feature: feature, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, &SubmissionError{Feature: feature, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SubmissionError{Feature: feature, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, &SubmissionError{Feature: feature, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if job.ID == "" {
		return nil, &SubmissionError{Feature: feature, Err: fmt.Errorf("server returned no job id")}
	}

	return &job, nil
}

// Watch opens the progress stream for a job. The returned CancelFunc
// releases the connection.
func (c *Client) Watch(ctx context.Context, jobID string, h Handlers) CancelFunc {
	url := fmt.Sprintf("%s/api/jobs/%s/events", c.baseURL, jobID)
	return Subscribe(ctx, c.httpClient, url, h)
}
