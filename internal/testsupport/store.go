package testsupport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"shelfscan/internal/jobstore"
)

// AuthToken is the bearer token the fake store accepts.
const AuthToken = "test-token"

// Upload records one media upload received by the fake store.
type Upload struct {
	Collection string
	RecordID   string
	Field      string
	Filename   string
	Size       int64
}

// JobStore is an in-memory stand-in for the external job store. It speaks
// the same HTTP surface the real client calls: job listing, conditional
// claims, heartbeats, submissions, entity collections, and media uploads.
type JobStore struct {
	server *httptest.Server

	mu          sync.Mutex
	seq         int
	jobOrder    []string
	jobs        map[string]*jobstore.Job
	brands      []jobstore.Brand
	ingredients []jobstore.Ingredient
	categories  []jobstore.Category
	products    []jobstore.Product
	mentions    []jobstore.Mention
	uploads     []Upload
}

// NewJobStore starts a fake store server and registers cleanup.
func NewJobStore(t testing.TB) *JobStore {
	t.Helper()

	s := &JobStore{jobs: make(map[string]*jobstore.Job)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /api/jobs/{id}/claim", s.handleClaim)
	mux.HandleFunc("POST /api/jobs/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /api/jobs/{id}/submit", s.handleSubmit)
	mux.HandleFunc("POST /api/jobs/{id}/fail", s.handleFail)
	mux.HandleFunc("POST /api/jobs/{id}/retry", s.handleRetry)
	mux.HandleFunc("GET /api/collections/{collection}/records", s.handleListRecords)
	mux.HandleFunc("POST /api/collections/{collection}/records", s.handleCreateRecord)
	mux.HandleFunc("PATCH /api/collections/{collection}/records/{id}", s.handleUpdateRecord)
	mux.HandleFunc("POST /api/collections/{collection}/records/{id}/media", s.handleUpload)

	s.server = httptest.NewServer(s.requireAuth(mux))
	t.Cleanup(s.server.Close)
	return s
}

// URL returns the server's base URL.
func (s *JobStore) URL() string {
	return s.server.URL
}

// Client returns a jobstore client pointed at the fake server.
func (s *JobStore) Client() *jobstore.Client {
	return jobstore.NewClient(s.server.URL, AuthToken, 5*time.Second)
}

// AddJob seeds one pending job and returns a copy of the stored record.
func (s *JobStore) AddJob(t testing.TB, jobType jobstore.Type, cursor any) jobstore.Job {
	t.Helper()

	encoded, err := jobstore.EncodeCursor(cursor)
	if err != nil {
		t.Fatalf("encode cursor: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.newJobLocked(jobType, encoded)
	return *job
}

// Job returns a copy of a stored job record.
func (s *JobStore) Job(t testing.TB, id string) jobstore.Job {
	t.Helper()

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		t.Fatalf("job %s not found", id)
	}
	return *job
}

// AddBrand seeds one brand row and returns its id.
func (s *JobStore) AddBrand(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextIDLocked("brand")
	s.brands = append(s.brands, jobstore.Brand{ID: id, Name: name})
	return id
}

// AddIngredient seeds one ingredient row and returns its id.
func (s *JobStore) AddIngredient(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextIDLocked("ingredient")
	s.ingredients = append(s.ingredients, jobstore.Ingredient{ID: id, Name: name})
	return id
}

// AddCategory seeds one category node and returns its id.
func (s *JobStore) AddCategory(name, parentID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextIDLocked("category")
	s.categories = append(s.categories, jobstore.Category{ID: id, Name: name, ParentID: parentID})
	return id
}

// AddProduct seeds one product row and returns the stored copy.
func (s *JobStore) AddProduct(product jobstore.Product) jobstore.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if product.ID == "" {
		product.ID = s.nextIDLocked("product")
	}
	s.products = append(s.products, product)
	return product
}

// Products returns copies of all stored products.
func (s *JobStore) Products() []jobstore.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobstore.Product(nil), s.products...)
}

// Mentions returns copies of all stored mentions.
func (s *JobStore) Mentions() []jobstore.Mention {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobstore.Mention(nil), s.mentions...)
}

// Uploads returns the media uploads received so far.
func (s *JobStore) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

func (s *JobStore) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+AuthToken {
			writeError(w, http.StatusUnauthorized, "auth", "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *JobStore) nextIDLocked(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *JobStore) newJobLocked(jobType jobstore.Type, cursor json.RawMessage) *jobstore.Job {
	now := time.Now().UTC()
	job := &jobstore.Job{
		ID:        s.nextIDLocked("job"),
		Type:      jobType,
		Status:    jobstore.StatusPending,
		Cursor:    cursor,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.jobs[job.ID] = job
	s.jobOrder = append(s.jobOrder, job.ID)
	return job
}

func (s *JobStore) handleListJobs(w http.ResponseWriter, r *http.Request) {
	status := jobstore.Status(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	s.mu.Lock()
	var jobs []*jobstore.Job
	for i := len(s.jobOrder) - 1; i >= 0; i-- {
		job := s.jobs[s.jobOrder[i]]
		if status != "" && job.Status != status {
			continue
		}
		copied := *job
		jobs = append(jobs, &copied)
		if limit > 0 && len(jobs) == limit {
			break
		}
	}
	s.mu.Unlock()
	writeJSON(w, jobs)
}

func (s *JobStore) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type   jobstore.Type   `json:"type"`
		Cursor json.RawMessage `json:"cursor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "decode", err.Error())
		return
	}
	s.mu.Lock()
	job := *s.newJobLocked(body.Type, body.Cursor)
	s.mu.Unlock()
	writeJSON(w, job)
}

func (s *JobStore) handleGetJob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.jobs[r.PathValue("id")]
	var copied jobstore.Job
	if ok {
		copied = *job
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}
	writeJSON(w, copied)
}

func (s *JobStore) handleClaim(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkerID     string `json:"worker_id"`
		LeaseSeconds int    `json:"lease_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "decode", err.Error())
		return
	}
	lease := body.LeaseSeconds
	if lease <= 0 {
		lease = 60
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}
	if job.Status != jobstore.StatusPending {
		writeError(w, http.StatusConflict, "claim_lost", "job is not pending")
		return
	}
	now := time.Now().UTC()
	expires := now.Add(time.Duration(lease) * time.Second)
	job.Status = jobstore.StatusInProgress
	job.WorkerID = body.WorkerID
	job.ClaimedAt = &now
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = now
	writeJSON(w, *job)
}

func (s *JobStore) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkerID string          `json:"worker_id"`
		Cursor   json.RawMessage `json:"cursor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "decode", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}
	if job.Status != jobstore.StatusInProgress || job.WorkerID != body.WorkerID {
		writeError(w, http.StatusGone, "lease_lost", "job is owned by another worker")
		return
	}
	now := time.Now().UTC()
	expires := now.Add(time.Minute)
	job.LeaseExpiresAt = &expires
	job.UpdatedAt = now
	if len(body.Cursor) > 0 {
		job.Cursor = body.Cursor
	}
	w.WriteHeader(http.StatusNoContent)
}

type submissionBody struct {
	WorkerID   string               `json:"worker_id"`
	Cursor     json.RawMessage      `json:"cursor"`
	Created    int                  `json:"created"`
	Existing   int                  `json:"existing"`
	ItemErrors []jobstore.ItemError `json:"item_errors"`
	Error      string               `json:"error"`
	Done       bool                 `json:"done"`
	TokensUsed int                  `json:"tokens_used"`
}

func (s *JobStore) applySubmission(w http.ResponseWriter, r *http.Request, failed bool) {
	var body submissionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "decode", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}
	if job.Status != jobstore.StatusInProgress || job.WorkerID != body.WorkerID {
		writeError(w, http.StatusGone, "lease_lost", "job is owned by another worker")
		return
	}
	if len(body.Cursor) > 0 {
		job.Cursor = body.Cursor
	}
	job.Created += body.Created
	job.Existing += body.Existing
	job.Errors += len(body.ItemErrors)
	job.UpdatedAt = time.Now().UTC()
	switch {
	case failed:
		job.Status = jobstore.StatusFailed
		job.Error = body.Error
	case body.Done:
		job.Status = jobstore.StatusCompleted
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *JobStore) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.applySubmission(w, r, false)
}

func (s *JobStore) handleFail(w http.ResponseWriter, r *http.Request) {
	s.applySubmission(w, r, true)
}

func (s *JobStore) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no such job")
		return
	}
	if job.Status != jobstore.StatusFailed {
		writeError(w, http.StatusConflict, "not_failed", "only failed jobs retry")
		return
	}
	job.Status = jobstore.StatusPending
	job.WorkerID = ""
	job.ClaimedAt = nil
	job.LeaseExpiresAt = nil
	job.Error = ""
	job.UpdatedAt = time.Now().UTC()
	w.WriteHeader(http.StatusNoContent)
}

type recordQuery struct {
	filter    string
	search    string
	parent    string
	hasParent bool
	limit     int
}

func parseRecordQuery(r *http.Request) recordQuery {
	values := r.URL.Query()
	limit, _ := strconv.Atoi(values.Get("limit"))
	return recordQuery{
		filter:    values.Get("filter"),
		search:    values.Get("search"),
		parent:    values.Get("parent"),
		hasParent: values.Has("parent"),
		limit:     limit,
	}
}

func (q recordQuery) matchName(name string) bool {
	if q.filter != "" {
		want, ok := strings.CutPrefix(q.filter, "name=")
		return ok && strings.EqualFold(name, want)
	}
	if q.search != "" {
		return strings.Contains(strings.ToLower(name), strings.ToLower(q.search))
	}
	return true
}

func (s *JobStore) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := parseRecordQuery(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.PathValue("collection") {
	case jobstore.CollectionBrands:
		var out []jobstore.Brand
		for _, brand := range s.brands {
			if q.matchName(brand.Name) {
				out = append(out, brand)
			}
		}
		writeJSON(w, clip(out, q.limit))
	case jobstore.CollectionIngredients:
		var out []jobstore.Ingredient
		for _, ingredient := range s.ingredients {
			if q.matchName(ingredient.Name) {
				out = append(out, ingredient)
			}
		}
		writeJSON(w, clip(out, q.limit))
	case jobstore.CollectionCategories:
		var out []jobstore.Category
		for _, category := range s.categories {
			if q.hasParent && category.ParentID != q.parent {
				continue
			}
			if q.matchName(category.Name) {
				out = append(out, category)
			}
		}
		writeJSON(w, clip(out, q.limit))
	case jobstore.CollectionProducts:
		var out []jobstore.Product
		gtin, byGTIN := strings.CutPrefix(q.filter, "gtin=")
		for _, product := range s.products {
			if byGTIN {
				if product.GTIN == gtin {
					out = append(out, product)
				}
				continue
			}
			if q.matchName(product.Name) {
				out = append(out, product)
			}
		}
		writeJSON(w, clip(out, q.limit))
	default:
		writeError(w, http.StatusNotFound, "not_found", "no such collection")
	}
}

func (s *JobStore) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.PathValue("collection") {
	case jobstore.CollectionBrands:
		var brand jobstore.Brand
		if err := json.Unmarshal(payload, &brand); err != nil {
			writeError(w, http.StatusBadRequest, "decode", err.Error())
			return
		}
		for _, existing := range s.brands {
			if strings.EqualFold(existing.Name, brand.Name) {
				writeError(w, http.StatusConflict, "unique_violation", "brand name exists")
				return
			}
		}
		brand.ID = s.nextIDLocked("brand")
		s.brands = append(s.brands, brand)
		writeJSON(w, brand)
	case jobstore.CollectionIngredients:
		var ingredient jobstore.Ingredient
		if err := json.Unmarshal(payload, &ingredient); err != nil {
			writeError(w, http.StatusBadRequest, "decode", err.Error())
			return
		}
		for _, existing := range s.ingredients {
			if strings.EqualFold(existing.Name, ingredient.Name) {
				writeError(w, http.StatusConflict, "unique_violation", "ingredient name exists")
				return
			}
		}
		ingredient.ID = s.nextIDLocked("ingredient")
		s.ingredients = append(s.ingredients, ingredient)
		writeJSON(w, ingredient)
	case jobstore.CollectionCategories:
		var category jobstore.Category
		if err := json.Unmarshal(payload, &category); err != nil {
			writeError(w, http.StatusBadRequest, "decode", err.Error())
			return
		}
		for _, existing := range s.categories {
			if strings.EqualFold(existing.Name, category.Name) && existing.ParentID == category.ParentID {
				writeError(w, http.StatusConflict, "unique_violation", "category exists under parent")
				return
			}
		}
		category.ID = s.nextIDLocked("category")
		s.categories = append(s.categories, category)
		writeJSON(w, category)
	case jobstore.CollectionProducts:
		var product jobstore.Product
		if err := json.Unmarshal(payload, &product); err != nil {
			writeError(w, http.StatusBadRequest, "decode", err.Error())
			return
		}
		if product.GTIN != "" {
			for _, existing := range s.products {
				if existing.GTIN == product.GTIN {
					writeError(w, http.StatusConflict, "unique_violation", "gtin exists")
					return
				}
			}
		}
		product.ID = s.nextIDLocked("product")
		s.products = append(s.products, product)
		writeJSON(w, product)
	case jobstore.CollectionMentions:
		var mention jobstore.Mention
		if err := json.Unmarshal(payload, &mention); err != nil {
			writeError(w, http.StatusBadRequest, "decode", err.Error())
			return
		}
		mention.ID = s.nextIDLocked("mention")
		s.mentions = append(s.mentions, mention)
		writeJSON(w, mention)
	default:
		writeError(w, http.StatusNotFound, "not_found", "no such collection")
	}
}

func (s *JobStore) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("collection") != jobstore.CollectionProducts {
		writeError(w, http.StatusNotFound, "not_found", "no such collection")
		return
	}
	var product jobstore.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		writeError(w, http.StatusBadRequest, "decode", err.Error())
		return
	}
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.products {
		if s.products[i].ID == id {
			product.ID = id
			s.products[i] = product
			writeJSON(w, product)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "no such product")
}

func (s *JobStore) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "decode", err.Error())
		return
	}
	upload := Upload{
		Collection: r.PathValue("collection"),
		RecordID:   r.PathValue("id"),
	}
	for field, files := range r.MultipartForm.File {
		for _, header := range files {
			upload.Field = field
			upload.Filename = header.Filename
			upload.Size = header.Size
		}
	}

	s.mu.Lock()
	s.uploads = append(s.uploads, upload)
	id := s.nextIDLocked("media")
	s.mu.Unlock()
	writeJSON(w, struct {
		ID string `json:"id"`
	}{ID: id})
}

func clip[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(value)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: code, Message: message})
}
