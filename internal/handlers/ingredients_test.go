package handlers

import (
	"context"
	"fmt"
	"testing"

	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
	"shelfscan/internal/match"
)

type fakeIngredientMatcher struct {
	known   map[string]string
	batches [][]string
}

func (m *fakeIngredientMatcher) MatchIngredients(_ context.Context, names []string) (map[string]match.Result, llm.Usage, error) {
	m.batches = append(m.batches, names)
	results := make(map[string]match.Result, len(names))
	for _, name := range names {
		key := match.NormalizeName(name)
		if id, ok := m.known[key]; ok {
			results[key] = match.Result{ID: id, Name: key}
		} else {
			results[key] = match.Result{}
		}
	}
	return results, llm.Usage{TotalTokens: 15}, nil
}

func TestIngredientsSingleBatchCompletes(t *testing.T) {
	matcher := &fakeIngredientMatcher{known: map[string]string{"Aqua": "i-1"}}
	handler := NewIngredientsHandler(matcher, nil)
	handle := newHandle(t, jobstore.TypeMatchIngredients, jobstore.IngredientCursor{
		Names: []string{"Aqua", "Unobtainium"},
	})

	if err := handler.Handle(context.Background(), handle); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(handle.submissions) != 0 || len(handle.completions) != 1 {
		t.Fatalf("expected a single completion, got %d submits %d completes", len(handle.submissions), len(handle.completions))
	}
	final := handle.completions[0]
	if final.Existing != 1 {
		t.Fatalf("expected one match, got %d", final.Existing)
	}
	if len(final.ItemErrors) != 1 || final.ItemErrors[0].Item != "Unobtainium" || final.ItemErrors[0].Kind != "unmatched" {
		t.Fatalf("unexpected item errors: %+v", final.ItemErrors)
	}
	if final.TokensUsed != 15 {
		t.Fatalf("expected token usage 15, got %d", final.TokensUsed)
	}
	cursor := final.Cursor.(jobstore.IngredientCursor)
	if cursor.NextIndex != 2 {
		t.Fatalf("cursor must reach the end, got %d", cursor.NextIndex)
	}
}

func TestIngredientsAdvancesCursorPerBatch(t *testing.T) {
	names := make([]string, 30)
	known := make(map[string]string, 30)
	for i := range names {
		names[i] = fmt.Sprintf("Ingredient %d", i)
		known[names[i]] = fmt.Sprintf("i-%d", i)
	}
	matcher := &fakeIngredientMatcher{known: known}
	handler := NewIngredientsHandler(matcher, nil)
	handle := newHandle(t, jobstore.TypeMatchIngredients, jobstore.IngredientCursor{Names: names})

	if err := handler.Handle(context.Background(), handle); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(handle.submissions) != 1 || len(handle.completions) != 1 {
		t.Fatalf("expected one partial and one terminal batch, got %d/%d", len(handle.submissions), len(handle.completions))
	}
	first := handle.submissions[0]
	if first.Existing != 25 {
		t.Fatalf("expected a full first batch, got %d", first.Existing)
	}
	if cursor := first.Cursor.(jobstore.IngredientCursor); cursor.NextIndex != 25 {
		t.Fatalf("expected cursor at 25, got %d", cursor.NextIndex)
	}
	final := handle.completions[0]
	if final.Existing != 5 {
		t.Fatalf("expected five in the final batch, got %d", final.Existing)
	}
	if len(matcher.batches) != 2 || len(matcher.batches[0]) != 25 || len(matcher.batches[1]) != 5 {
		t.Fatalf("unexpected batch shapes: %v", batchSizes(matcher.batches))
	}
}

func TestIngredientsResumesFromCursor(t *testing.T) {
	names := []string{"A", "B", "C"}
	matcher := &fakeIngredientMatcher{known: map[string]string{"C": "i-3"}}
	handler := NewIngredientsHandler(matcher, nil)
	handle := newHandle(t, jobstore.TypeMatchIngredients, jobstore.IngredientCursor{
		Names:     names,
		NextIndex: 2,
	})

	if err := handler.Handle(context.Background(), handle); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(matcher.batches) != 1 || len(matcher.batches[0]) != 1 || matcher.batches[0][0] != "C" {
		t.Fatalf("resume must only match the remainder, got %v", matcher.batches)
	}
	if handle.completions[0].Existing != 1 {
		t.Fatalf("expected one match, got %d", handle.completions[0].Existing)
	}
}

func TestIngredientsFinishedCursorCompletesImmediately(t *testing.T) {
	matcher := &fakeIngredientMatcher{}
	handler := NewIngredientsHandler(matcher, nil)
	handle := newHandle(t, jobstore.TypeMatchIngredients, jobstore.IngredientCursor{
		Names:     []string{"A"},
		NextIndex: 1,
	})

	if err := handler.Handle(context.Background(), handle); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(matcher.batches) != 0 {
		t.Fatal("finished cursor must not re-match anything")
	}
	if len(handle.completions) != 1 {
		t.Fatalf("expected completion, got %d", len(handle.completions))
	}
}

func batchSizes(batches [][]string) []int {
	sizes := make([]int, len(batches))
	for i, batch := range batches {
		sizes[i] = len(batch)
	}
	return sizes
}
