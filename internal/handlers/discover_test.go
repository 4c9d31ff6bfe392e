package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"shelfscan/internal/drivers"
	"shelfscan/internal/jobstore"
)

type fakeDiscoverStore struct {
	mu        sync.Mutex
	known     map[string]*jobstore.Product
	jobs      []jobstore.CrawlCursor
	createErr map[string]error
}

func (s *fakeDiscoverStore) FindProductByGTIN(_ context.Context, gtin string) (*jobstore.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known[gtin], nil
}

func (s *fakeDiscoverStore) CreateJob(_ context.Context, jobType jobstore.Type, cursor any) (*jobstore.Job, error) {
	crawl := cursor.(jobstore.CrawlCursor)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErr[crawl.ProductURL]; err != nil {
		return nil, err
	}
	s.jobs = append(s.jobs, crawl)
	return &jobstore.Job{ID: "created", Type: jobType}, nil
}

func TestDiscoverEnqueuesOnlyNewProducts(t *testing.T) {
	store := &fakeDiscoverStore{
		known: map[string]*jobstore.Product{"111": {ID: "p-1", GTIN: "111"}},
	}
	driver := &fakeDriver{
		name: "shop",
		pages: []*drivers.Page{{
			Items: []drivers.Item{
				{URL: "https://shop.test/a", GTIN: "111"},
				{URL: "https://shop.test/b", GTIN: "222"},
			},
			Done: true,
		}},
	}
	handler := NewDiscoverHandler(store, newDriverRegistry(t, driver), nil)
	handle := newHandle(t, jobstore.TypeDiscoverProducts, jobstore.DiscoverCursor{SourceURL: "https://shop.test"})

	if err := handler.Handle(context.Background(), handle); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(handle.completions) != 1 {
		t.Fatalf("expected one completion, got %d", len(handle.completions))
	}
	final := handle.completions[0]
	if final.Created != 1 || final.Existing != 1 || len(final.ItemErrors) != 0 {
		t.Fatalf("unexpected batch: created=%d existing=%d errors=%d", final.Created, final.Existing, len(final.ItemErrors))
	}
	cursor := final.Cursor.(jobstore.DiscoverCursor)
	if cursor.PageIndex != 1 {
		t.Fatalf("expected page index 1, got %d", cursor.PageIndex)
	}
	if len(store.jobs) != 1 || store.jobs[0].ProductURL != "https://shop.test/b" {
		t.Fatalf("unexpected crawl jobs: %+v", store.jobs)
	}
}

func TestDiscoverSkipsEmptyPages(t *testing.T) {
	store := &fakeDiscoverStore{}
	token := json.RawMessage(`{"page":2}`)
	driver := &fakeDriver{
		name: "shop",
		pages: []*drivers.Page{
			{Progress: token},
			{Items: []drivers.Item{{URL: "https://shop.test/a"}}, Done: true},
		},
	}
	handler := NewDiscoverHandler(store, newDriverRegistry(t, driver), nil)
	handle := newHandle(t, jobstore.TypeDiscoverProducts, jobstore.DiscoverCursor{SourceURL: "https://shop.test"})

	if err := handler.Handle(context.Background(), handle); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(handle.submissions) != 0 {
		t.Fatalf("empty page must not be submitted, got %d submissions", len(handle.submissions))
	}
	if len(handle.completions) != 1 {
		t.Fatalf("expected one completion, got %d", len(handle.completions))
	}
	cursor := handle.completions[0].Cursor.(jobstore.DiscoverCursor)
	if cursor.PageIndex != 2 {
		t.Fatalf("cursor must cover both pages, got index %d", cursor.PageIndex)
	}
	// The second fetch resumes from the first page's progress token.
	if string(driver.progress[1]) != string(token) {
		t.Fatalf("expected progress %s, got %s", token, driver.progress[1])
	}
}

func TestDiscoverIsolatesItemFailures(t *testing.T) {
	store := &fakeDiscoverStore{
		createErr: map[string]error{"https://shop.test/bad": errors.New("boom")},
	}
	driver := &fakeDriver{
		name: "shop",
		pages: []*drivers.Page{{
			Items: []drivers.Item{
				{URL: "https://shop.test/good"},
				{URL: "https://shop.test/bad"},
			},
			Done: true,
		}},
	}
	handler := NewDiscoverHandler(store, newDriverRegistry(t, driver), nil)
	handle := newHandle(t, jobstore.TypeDiscoverProducts, jobstore.DiscoverCursor{SourceURL: "https://shop.test"})

	if err := handler.Handle(context.Background(), handle); err != nil {
		t.Fatalf("one bad item must not fail the job: %v", err)
	}
	final := handle.completions[0]
	if final.Created != 1 {
		t.Fatalf("expected the good item enqueued, created=%d", final.Created)
	}
	if len(final.ItemErrors) != 1 || final.ItemErrors[0].Item != "https://shop.test/bad" {
		t.Fatalf("unexpected item errors: %+v", final.ItemErrors)
	}
}

func TestDiscoverRejectsMissingSource(t *testing.T) {
	handler := NewDiscoverHandler(&fakeDiscoverStore{}, drivers.NewRegistry(), nil)
	handle := newHandle(t, jobstore.TypeDiscoverProducts, jobstore.DiscoverCursor{})
	if err := handler.Handle(context.Background(), handle); err == nil {
		t.Fatal("expected validation error for empty source url")
	}
}
