package worker_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"shelfscan/internal/handlers"
	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/match"
	"shelfscan/internal/testsupport"
	"shelfscan/internal/worker"
)

// The full claim->handle->complete loop against the fake store server,
// with the real client and matcher in the middle.
func TestDispatcherCompletesIngredientJobEndToEnd(t *testing.T) {
	store := testsupport.NewJobStore(t)
	store.AddIngredient("Aqua")
	seeded := store.AddJob(t, jobstore.TypeMatchIngredients, jobstore.IngredientCursor{
		Names: []string{"Aqua", "Unobtainium"},
	})

	model := testsupport.NewModel(testsupport.ModelResponse{
		Content: `{"terms": {"Aqua": ["Aqua"], "Unobtainium": ["Unobtainium"]}}`,
		Usage:   llm.Usage{TotalTokens: 25},
	})
	client := store.Client()
	matcher := match.New(client, model, logging.NewNop())

	registry, err := handlers.NewRegistry(handlers.NewIngredientsHandler(matcher, nil))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	dispatcher, err := worker.New(worker.NewStore(client), registry, worker.Options{
		WorkerID:          "worker-e2e",
		LeaseSeconds:      30,
		PollInterval:      5 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
		ErrorBackoff:      5 * time.Millisecond,
		ErrorBackoffMax:   20 * time.Millisecond,
		LockPath:          filepath.Join(t.TempDir(), "worker.lock"),
		Logger:            logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- dispatcher.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	var job jobstore.Job
	for {
		job = store.Job(t, seeded.ID)
		if job.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("job never finished, status %s", job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("dispatcher: %v", err)
	}

	if job.Status != jobstore.StatusCompleted {
		t.Fatalf("status = %s, want completed (error %q)", job.Status, job.Error)
	}
	if job.WorkerID != "worker-e2e" {
		t.Fatalf("worker id = %q", job.WorkerID)
	}
	if job.Existing != 1 {
		t.Fatalf("existing = %d, want 1 matched ingredient", job.Existing)
	}
	if job.Errors != 1 {
		t.Fatalf("errors = %d, want 1 unmatched ingredient", job.Errors)
	}

	if calls := model.Calls(); len(calls) != 1 {
		t.Fatalf("model calls = %d, want 1 search-term expansion", len(calls))
	}
}
