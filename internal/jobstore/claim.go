package jobstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"shelfscan/internal/services"
)

const claimCandidateLimit = 5

// Claim attempts to acquire exclusive ownership of one pending job. It
// lists pending candidates and races the conditional pending->in_progress
// transition on each; losing the race moves on to the next candidate.
// A nil result with a nil error means no work is available.
func (c *Client) Claim(ctx context.Context, workerID string, leaseSeconds int) (*Claimed, error) {
	if workerID == "" {
		return nil, errors.New("jobstore: claim requires a worker id")
	}
	candidates, err := c.ListJobs(ctx, StatusPending, claimCandidateLimit)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		job, err := c.claimOne(ctx, candidate.ID, workerID, leaseSeconds)
		if err != nil {
			// Conflict means another worker won this record; keep going.
			if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrNotFound) {
				continue
			}
			return nil, err
		}
		return &Claimed{client: c, job: job, workerID: workerID}, nil
	}
	return nil, nil
}

func (c *Client) claimOne(ctx context.Context, jobID, workerID string, leaseSeconds int) (*Job, error) {
	body := struct {
		WorkerID     string `json:"worker_id"`
		LeaseSeconds int    `json:"lease_seconds,omitempty"`
	}{WorkerID: workerID, LeaseSeconds: leaseSeconds}
	var job Job
	path := "/api/jobs/" + url.PathEscape(jobID) + "/claim"
	if err := c.do(ctx, http.MethodPost, path, body, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Claimed is the scoped handle for a claimed job. It is consumable exactly
// once: after Complete or Fail succeeds, further submissions error without
// touching the store. Heartbeats stop being valid at the same point.
type Claimed struct {
	client   *Client
	job      *Job
	workerID string

	mu       sync.Mutex
	consumed bool
}

// Job returns the claimed job record as of claim time.
func (h *Claimed) Job() *Job {
	return h.job
}

// WorkerID returns the claiming worker's identity.
func (h *Claimed) WorkerID() string {
	return h.workerID
}

// Heartbeat refreshes the lease and optionally pushes partial progress.
// The cursor is advanced durably only via Submit; heartbeat progress is
// advisory (operator-visible position).
func (h *Claimed) Heartbeat(ctx context.Context, cursor any) error {
	h.mu.Lock()
	if h.consumed {
		h.mu.Unlock()
		return fmt.Errorf("jobstore: heartbeat after submission for job %s", h.job.ID)
	}
	h.mu.Unlock()

	encoded, err := EncodeCursor(cursor)
	if err != nil {
		return err
	}
	body := struct {
		WorkerID string `json:"worker_id"`
		Cursor   any    `json:"cursor,omitempty"`
	}{WorkerID: h.workerID}
	if len(encoded) > 0 {
		body.Cursor = encoded
	}
	path := "/api/jobs/" + url.PathEscape(h.job.ID) + "/heartbeat"
	return h.client.do(ctx, http.MethodPost, path, body, nil)
}

// Submit pushes a partial batch: counters are incremented, the cursor is
// written, and the job stays in progress. Partial submissions do not
// consume the handle.
func (h *Claimed) Submit(ctx context.Context, submission Submission) error {
	submission.Done = false
	return h.submit(ctx, submission, false)
}

// Complete submits the final batch and marks the job completed, consuming
// the handle.
func (h *Claimed) Complete(ctx context.Context, submission Submission) error {
	submission.Done = true
	return h.submit(ctx, submission, true)
}

// Fail marks the job failed with the given error, consuming the handle.
// Any partial results in the submission are still recorded.
func (h *Claimed) Fail(ctx context.Context, jobErr error, submission Submission) error {
	submission.Done = true
	if jobErr != nil {
		submission.Error = jobErr.Error()
	}
	return h.submitFailed(ctx, submission)
}

func (h *Claimed) submit(ctx context.Context, submission Submission, consume bool) error {
	h.mu.Lock()
	if h.consumed {
		h.mu.Unlock()
		return fmt.Errorf("jobstore: job %s already submitted", h.job.ID)
	}
	if consume {
		h.consumed = true
	}
	h.mu.Unlock()

	if err := h.post(ctx, "submit", submission); err != nil {
		if consume {
			// The store never saw the final submission; the handle stays
			// usable so the dispatcher can attempt Fail.
			h.mu.Lock()
			h.consumed = false
			h.mu.Unlock()
		}
		return err
	}
	return nil
}

func (h *Claimed) submitFailed(ctx context.Context, submission Submission) error {
	h.mu.Lock()
	if h.consumed {
		h.mu.Unlock()
		return fmt.Errorf("jobstore: job %s already submitted", h.job.ID)
	}
	h.consumed = true
	h.mu.Unlock()
	return h.post(ctx, "fail", submission)
}

func (h *Claimed) post(ctx context.Context, action string, submission Submission) error {
	encoded, err := EncodeCursor(submission.Cursor)
	if err != nil {
		return err
	}
	body := struct {
		WorkerID   string      `json:"worker_id"`
		Cursor     any         `json:"cursor,omitempty"`
		Created    int         `json:"created"`
		Existing   int         `json:"existing"`
		ItemErrors []ItemError `json:"item_errors,omitempty"`
		Error      string      `json:"error,omitempty"`
		Done       bool        `json:"done"`
		TokensUsed int         `json:"tokens_used,omitempty"`
	}{
		WorkerID:   h.workerID,
		Created:    submission.Created,
		Existing:   submission.Existing,
		ItemErrors: submission.ItemErrors,
		Error:      submission.Error,
		Done:       submission.Done,
		TokensUsed: submission.TokensUsed,
	}
	if len(encoded) > 0 {
		body.Cursor = encoded
	}
	path := "/api/jobs/" + url.PathEscape(h.job.ID) + "/" + action
	return h.client.do(ctx, http.MethodPost, path, body, nil)
}
