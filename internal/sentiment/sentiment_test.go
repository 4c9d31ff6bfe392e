package sentiment

import (
	"context"
	"testing"

	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
	"shelfscan/internal/recognition"
	"shelfscan/internal/transcribe"
)

type fakeCompleter struct {
	response string
	calls    int
}

func (f *fakeCompleter) CompleteJSON(context.Context, string, string) (string, llm.Usage, error) {
	f.calls++
	return f.response, llm.Usage{PromptTokens: 40, CompletionTokens: 10, TotalTokens: 50}, nil
}

func wordsAt(times ...float64) []transcribe.Word {
	words := make([]transcribe.Word, len(times))
	for i, at := range times {
		words[i] = transcribe.Word{Text: "w", Start: at, End: at + 0.2}
	}
	return words
}

func TestSliceSpansSplitsAroundSegment(t *testing.T) {
	transcript := &transcribe.Transcript{Words: []transcribe.Word{
		{Text: "too-early", Start: 1.0, End: 1.2},
		{Text: "before", Start: 6.0, End: 6.2},
		{Text: "during", Start: 10.5, End: 10.7},
		{Text: "after", Start: 21.0, End: 21.2},
		{Text: "too-late", Start: 27.0, End: 27.2},
	}}
	// Segment [10, 20): window is [5, 23).
	spans := SliceSpans(transcript, 10, 20)
	if spans.PreText() != "before" {
		t.Fatalf("pre = %q", spans.PreText())
	}
	if spans.InText() != "during" {
		t.Fatalf("in = %q", spans.InText())
	}
	if spans.PostText() != "after" {
		t.Fatalf("post = %q", spans.PostText())
	}
}

func TestSliceSpansClampsAtZero(t *testing.T) {
	transcript := &transcribe.Transcript{Words: wordsAt(0.5)}
	spans := SliceSpans(transcript, 2, 4)
	if len(spans.Pre) != 1 {
		t.Fatalf("expected early word in pre span, got %v", spans.Pre)
	}
}

func TestAnalyzeSkipsModelWithoutProducts(t *testing.T) {
	model := &fakeCompleter{}
	a := NewAnalyzer(model, nil)
	spans := Spans{In: []transcribe.Word{{Text: "love it"}}}

	assessments, usage, err := a.Analyze(context.Background(), spans, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if assessments != nil || usage.TotalTokens != 0 || model.calls != 0 {
		t.Fatalf("no products must mean no model call, got %v calls=%d", assessments, model.calls)
	}
}

func TestAnalyzeSkipsModelWithEmptyText(t *testing.T) {
	model := &fakeCompleter{}
	a := NewAnalyzer(model, nil)
	products := []jobstore.Product{{ID: "p1", Name: "Acme Cream"}}

	assessments, _, err := a.Analyze(context.Background(), Spans{}, products)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if assessments != nil || model.calls != 0 {
		t.Fatalf("empty in-segment text must mean no model call, got %v calls=%d", assessments, model.calls)
	}
}

func TestAnalyzeScoresResolvedProducts(t *testing.T) {
	model := &fakeCompleter{response: `{"products": [
		{"product_id": "p1", "sentiment": "positive", "score": 1.7,
		 "quotes": [{"text": "love this cream", "sentiment": "POSITIVE", "score": 0.9}]},
		{"product_id": "unknown", "sentiment": "negative", "score": -0.5}
	]}`}
	a := NewAnalyzer(model, nil)
	spans := Spans{In: []transcribe.Word{{Text: "love"}, {Text: "this"}, {Text: "cream"}}}
	products := []jobstore.Product{{ID: "p1", Name: "Acme Cream"}}

	assessments, usage, err := a.Analyze(context.Background(), spans, products)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(assessments) != 1 {
		t.Fatalf("unknown product ids must be dropped, got %v", assessments)
	}
	got := assessments[0]
	if got.ProductID != "p1" || got.Sentiment != "positive" {
		t.Fatalf("unexpected assessment %+v", got)
	}
	if got.Score != 1 {
		t.Fatalf("score must be clamped to [-1,1], got %v", got.Score)
	}
	if len(got.Quotes) != 1 || got.Quotes[0].Sentiment != "positive" || got.Quotes[0].Score != 0.9 {
		t.Fatalf("unexpected quotes %+v", got.Quotes)
	}
	if usage.TotalTokens != 50 {
		t.Fatalf("expected usage, got %+v", usage)
	}
}

func TestAnalyzeMalformedResponseIsEmptyResult(t *testing.T) {
	model := &fakeCompleter{response: "the vibe was positive overall"}
	a := NewAnalyzer(model, nil)
	spans := Spans{In: []transcribe.Word{{Text: "nice"}}}
	products := []jobstore.Product{{ID: "p1", Name: "Acme Cream"}}

	assessments, _, err := a.Analyze(context.Background(), spans, products)
	if err != nil {
		t.Fatalf("malformed output must not error: %v", err)
	}
	if assessments != nil {
		t.Fatalf("expected empty result, got %v", assessments)
	}
}

type fakeProductStore struct {
	byGTIN   map[string]jobstore.Product
	byQuery  map[string][]jobstore.Product
	searches []string
}

func (f *fakeProductStore) FindProductByGTIN(_ context.Context, gtin string) (*jobstore.Product, error) {
	if product, ok := f.byGTIN[gtin]; ok {
		return &product, nil
	}
	return nil, nil
}

func (f *fakeProductStore) SearchProducts(_ context.Context, name string, _ int) ([]jobstore.Product, error) {
	f.searches = append(f.searches, name)
	return f.byQuery[name], nil
}

func TestResolveProductsBarcodeExact(t *testing.T) {
	store := &fakeProductStore{byGTIN: map[string]jobstore.Product{
		"4006381333931": {ID: "p1", Name: "Acme Cream", GTIN: "4006381333931"},
	}}
	analysis := &recognition.SegmentAnalysis{MatchType: recognition.MatchBarcode, Barcode: "4006381333931"}

	products, err := ResolveProducts(context.Background(), store, analysis)
	if err != nil {
		t.Fatalf("ResolveProducts: %v", err)
	}
	if len(products) != 1 || products[0].ID != "p1" {
		t.Fatalf("expected exact GTIN hit, got %v", products)
	}
	if len(store.searches) != 0 {
		t.Fatal("barcode segments must not fall back to name search")
	}
}

func TestResolveProductsBarcodeMiss(t *testing.T) {
	store := &fakeProductStore{}
	analysis := &recognition.SegmentAnalysis{MatchType: recognition.MatchBarcode, Barcode: "000"}

	products, err := ResolveProducts(context.Background(), store, analysis)
	if err != nil || products != nil {
		t.Fatalf("unknown GTIN resolves to nothing, got %v err=%v", products, err)
	}
}

func TestResolveProductsVisualNameThenTerms(t *testing.T) {
	store := &fakeProductStore{byQuery: map[string][]jobstore.Product{
		"acme cream": {{ID: "p1", Name: "Acme Cream"}},
	}}
	analysis := &recognition.SegmentAnalysis{
		MatchType: recognition.MatchVisual,
		Results: []recognition.Result{{
			ProductName: "Akme Creem",
			SearchTerms: []string{"acme cream", "face cream"},
		}},
	}

	products, err := ResolveProducts(context.Background(), store, analysis)
	if err != nil {
		t.Fatalf("ResolveProducts: %v", err)
	}
	if len(products) != 1 || products[0].ID != "p1" {
		t.Fatalf("expected first term hit, got %v", products)
	}
	// Name tried first, then the first term hit wins; the second term is
	// never queried.
	if len(store.searches) != 2 || store.searches[0] != "Akme Creem" || store.searches[1] != "acme cream" {
		t.Fatalf("unexpected search order %v", store.searches)
	}
}

func TestResolveProductsDeduplicates(t *testing.T) {
	store := &fakeProductStore{byQuery: map[string][]jobstore.Product{
		"acme": {{ID: "p1", Name: "Acme Cream"}},
	}}
	analysis := &recognition.SegmentAnalysis{
		MatchType: recognition.MatchVisual,
		Results: []recognition.Result{
			{ProductName: "acme"},
			{ProductName: "acme"},
		},
	}

	products, err := ResolveProducts(context.Background(), store, analysis)
	if err != nil {
		t.Fatalf("ResolveProducts: %v", err)
	}
	if len(products) != 1 {
		t.Fatalf("expected deduplicated product list, got %v", products)
	}
}
