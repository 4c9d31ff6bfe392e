package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"shelfscan/internal/drivers"
	"shelfscan/internal/jobstore"
)

// fakeHandle records submissions without talking to a store.
type fakeHandle struct {
	job         *jobstore.Job
	submissions []jobstore.Submission
	completions []jobstore.Submission
	submitErr   error
}

func (h *fakeHandle) Job() *jobstore.Job { return h.job }

func (h *fakeHandle) Submit(_ context.Context, submission jobstore.Submission) error {
	if h.submitErr != nil {
		return h.submitErr
	}
	h.submissions = append(h.submissions, submission)
	return nil
}

func (h *fakeHandle) Complete(_ context.Context, submission jobstore.Submission) error {
	h.completions = append(h.completions, submission)
	return nil
}

func newHandle(t *testing.T, jobType jobstore.Type, cursor any) *fakeHandle {
	t.Helper()
	job := &jobstore.Job{ID: "job-1", Type: jobType, Status: jobstore.StatusInProgress}
	if cursor != nil {
		raw, err := json.Marshal(cursor)
		if err != nil {
			t.Fatalf("marshal cursor: %v", err)
		}
		job.Cursor = raw
	}
	return &fakeHandle{job: job}
}

// fakeDriver serves scripted discovery pages and crawl items.
type fakeDriver struct {
	name      string
	pages     []*drivers.Page
	pageCalls int
	progress  []json.RawMessage

	item     *drivers.Item
	crawlErr error
}

func (d *fakeDriver) Name() string { return d.name }

func (d *fakeDriver) Matches(url string) bool { return true }

func (d *fakeDriver) DiscoverPage(_ context.Context, _ string, progress json.RawMessage) (*drivers.Page, error) {
	d.progress = append(d.progress, progress)
	if d.pageCalls >= len(d.pages) {
		return nil, errors.New("no more pages scripted")
	}
	page := d.pages[d.pageCalls]
	d.pageCalls++
	return page, nil
}

func (d *fakeDriver) CrawlItem(_ context.Context, _ string) (*drivers.Item, error) {
	if d.crawlErr != nil {
		return nil, d.crawlErr
	}
	return d.item, nil
}

func newDriverRegistry(t *testing.T, driver drivers.Driver) *drivers.Registry {
	t.Helper()
	registry := drivers.NewRegistry()
	registry.Register(driver)
	return registry
}

func TestRegistryRejectsDuplicateTypes(t *testing.T) {
	first := NewIngredientsHandler(nil, nil)
	second := NewIngredientsHandler(nil, nil)
	if _, err := NewRegistry(first, second); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistryRoutesByType(t *testing.T) {
	handler := NewIngredientsHandler(nil, nil)
	registry, err := NewRegistry(handler)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if got := registry.Lookup(jobstore.TypeMatchIngredients); got != handler {
		t.Fatal("expected ingredients handler")
	}
	if got := registry.Lookup(jobstore.TypeProcessVideo); got != nil {
		t.Fatalf("expected nil for unregistered type, got %T", got)
	}
	types := registry.Types()
	if len(types) != 1 || types[0] != jobstore.TypeMatchIngredients {
		t.Fatalf("unexpected types: %v", types)
	}
}
