package jobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shelfscan/internal/services"
)

// HTTPDoer describes the HTTP client used by the store client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the remote job store API with a static worker credential.
type Client struct {
	baseURL    string
	authToken  string
	httpClient HTTPDoer
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.httpClient = doer
		}
	}
}

// NewClient constructs a job store client.
func NewClient(baseURL, authToken string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		authToken:  strings.TrimSpace(authToken),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// do issues a JSON request and decodes the response into out (when non-nil).
// Store error statuses are mapped onto the service error taxonomy:
// 404 -> ErrNotFound, 409 with a unique-violation code -> ErrConflict,
// 410 -> ErrLeaseLost.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("jobstore: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("jobstore: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	if id, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jobstore: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("jobstore: read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(method, path, resp.StatusCode, payload)
	}
	if out != nil && len(payload) > 0 && resp.StatusCode != http.StatusNoContent {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("jobstore: decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) statusError(method, path string, status int, payload []byte) error {
	var detail apiError
	_ = json.Unmarshal(payload, &detail)
	message := strings.TrimSpace(detail.Message)
	if message == "" {
		message = strings.TrimSpace(string(payload))
	}
	op := method + " " + path

	switch {
	case status == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "jobstore", op, message, nil)
	case status == http.StatusGone:
		return services.Wrap(services.ErrLeaseLost, "jobstore", op, message, nil)
	case status == http.StatusConflict:
		// Both unique violations on create and lost conditional claims
		// surface as 409; callers resolve either by adopting the winner.
		return services.Wrap(services.ErrConflict, "jobstore", op, message, nil)
	default:
		return fmt.Errorf("jobstore: %s: http %d: %s", op, status, message)
	}
}

// GetJob fetches one job record by id.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs filtered by status, newest first.
func (c *Client) ListJobs(ctx context.Context, status Status, limit int) ([]*Job, error) {
	query := url.Values{}
	if status != "" {
		query.Set("status", string(status))
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/jobs"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var jobs []*Job
	if err := c.do(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CreateJob creates a new pending job record.
func (c *Client) CreateJob(ctx context.Context, jobType Type, cursor any) (*Job, error) {
	encoded, err := EncodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	body := struct {
		Type   Type            `json:"type"`
		Cursor json.RawMessage `json:"cursor,omitempty"`
	}{Type: jobType, Cursor: encoded}
	var job Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RetryJob moves a failed job back to pending.
func (c *Client) RetryJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/retry", nil, nil)
}

// UploadMedia streams binary media into a record's file field and returns
// the stored media id. Orphaned uploads from a crash before submit are
// accepted; there is no reconciliation sweep.
func (c *Client) UploadMedia(ctx context.Context, collection, recordID, field, filename string, media io.Reader) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return "", fmt.Errorf("jobstore: upload form: %w", err)
	}
	if _, err := io.Copy(part, media); err != nil {
		return "", fmt.Errorf("jobstore: buffer media: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("jobstore: close form: %w", err)
	}

	path := fmt.Sprintf("/api/collections/%s/records/%s/media", url.PathEscape(collection), url.PathEscape(recordID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return "", fmt.Errorf("jobstore: new upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	if id, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", id)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("jobstore: upload media: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("jobstore: read upload response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", c.statusError(http.MethodPost, path, resp.StatusCode, payload)
	}
	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return "", fmt.Errorf("jobstore: decode upload response: %w", err)
	}
	return result.ID, nil
}
