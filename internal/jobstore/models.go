package jobstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle of a job record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Type identifies the kind of work a job record describes. Each type maps
// to exactly one handler and one cursor shape.
type Type string

const (
	TypeDiscoverProducts Type = "discover_products"
	TypeCrawlProduct     Type = "crawl_product"
	TypeProcessVideo     Type = "process_video"
	TypeMatchIngredients Type = "match_ingredients"
)

// KnownTypes returns the job types this worker can handle, in routing order.
func KnownTypes() []Type {
	return []Type{TypeDiscoverProducts, TypeCrawlProduct, TypeProcessVideo, TypeMatchIngredients}
}

// ParseType converts a string into a known job Type.
func ParseType(value string) (Type, bool) {
	normalized := Type(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case TypeDiscoverProducts, TypeCrawlProduct, TypeProcessVideo, TypeMatchIngredients:
		return normalized, true
	default:
		return "", false
	}
}

// Job represents a job record persisted in the remote store.
type Job struct {
	ID             string     `json:"id"`
	Type           Type       `json:"type"`
	Status         Status     `json:"status"`
	WorkerID       string     `json:"worker_id,omitempty"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty"`

	// Cursor is the type-specific resumable position, written back on every
	// submission so a crash loses at most one batch.
	Cursor json.RawMessage `json:"cursor,omitempty"`

	Created  int    `json:"created"`
	Existing int    `json:"existing"`
	Errors   int    `json:"errors"`
	Error    string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Cursor variants, one per job type. DecodeCursor dispatches on the job
// type, making routing a switch over the variant rather than a dig through
// an untyped blob.

// DiscoverCursor tracks resumable paged discovery against one source.
type DiscoverCursor struct {
	SourceURL string `json:"source_url"`
	PageIndex int    `json:"page_index"`
	// DriverProgress is opaque driver state (a next-page token, a sitemap
	// offset); the dispatcher round-trips it untouched.
	DriverProgress json.RawMessage `json:"driver_progress,omitempty"`
}

// CrawlCursor identifies a single product crawl.
type CrawlCursor struct {
	ProductURL string `json:"product_url"`
	GTIN       string `json:"gtin,omitempty"`
}

// VideoCursor tracks per-segment progress through one video.
type VideoCursor struct {
	VideoURL     string `json:"video_url"`
	MediaID      string `json:"media_id,omitempty"`
	SegmentIndex int    `json:"segment_index"`
}

// IngredientCursor tracks a batch ingredient matching job.
type IngredientCursor struct {
	Names     []string `json:"names"`
	NextIndex int      `json:"next_index"`
}

// DecodeCursor decodes a job's cursor into the variant for its type.
// An empty cursor yields the zero variant so brand-new jobs start at the
// beginning.
func DecodeCursor(job *Job) (any, error) {
	raw := job.Cursor
	switch job.Type {
	case TypeDiscoverProducts:
		var cursor DiscoverCursor
		if err := decodeCursorInto(raw, &cursor); err != nil {
			return nil, err
		}
		return cursor, nil
	case TypeCrawlProduct:
		var cursor CrawlCursor
		if err := decodeCursorInto(raw, &cursor); err != nil {
			return nil, err
		}
		return cursor, nil
	case TypeProcessVideo:
		var cursor VideoCursor
		if err := decodeCursorInto(raw, &cursor); err != nil {
			return nil, err
		}
		return cursor, nil
	case TypeMatchIngredients:
		var cursor IngredientCursor
		if err := decodeCursorInto(raw, &cursor); err != nil {
			return nil, err
		}
		return cursor, nil
	default:
		return nil, fmt.Errorf("decode cursor: unknown job type %q", job.Type)
	}
}

func decodeCursorInto(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode cursor: %w", err)
	}
	return nil
}

// EncodeCursor serializes a cursor variant for submission.
func EncodeCursor(cursor any) (json.RawMessage, error) {
	if cursor == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(cursor)
	if err != nil {
		return nil, fmt.Errorf("encode cursor: %w", err)
	}
	return encoded, nil
}

// ItemError records one work item's failure inside an otherwise successful
// batch.
type ItemError struct {
	Item    string `json:"item"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Submission carries one batch's results back to the store. Submit is the
// only point that durably increments counters; handlers never write the job
// record directly.
type Submission struct {
	Cursor     any         `json:"-"`
	Created    int         `json:"created"`
	Existing   int         `json:"existing"`
	ItemErrors []ItemError `json:"item_errors,omitempty"`
	Error      string      `json:"error,omitempty"`
	// Done marks the job completed; false leaves it in progress with the
	// cursor advanced.
	Done bool `json:"done"`
	// TokensUsed accumulates model spend for cost accounting.
	TokensUsed int `json:"tokens_used,omitempty"`
}
