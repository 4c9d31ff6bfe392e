package recognition

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"shelfscan/internal/llm"
	"shelfscan/internal/media/barcode"
	"shelfscan/internal/visioncache"
)

type fakeScanner struct {
	hitAt   int // 1-based frame position of the hit; 0 means no hit
	value   string
	scanned int
}

func (f *fakeScanner) ScanFirst(_ context.Context, framePaths []string) (*barcode.Hit, int, error) {
	for i := range framePaths {
		f.scanned++
		if f.hitAt > 0 && i+1 == f.hitAt {
			return &barcode.Hit{Symbology: "EAN-13", Value: f.value, FrameIndex: i}, i + 1, nil
		}
	}
	return nil, len(framePaths), nil
}

type fakeVisionModel struct {
	responses []string
	calls     int
	prompts   []string
	images    [][]int
}

func (f *fakeVisionModel) CompleteVisionJSON(_ context.Context, _, userPrompt string, images [][]byte) (string, llm.Usage, error) {
	f.prompts = append(f.prompts, userPrompt)
	counts := make([]int, 0, len(images))
	counts = append(counts, len(images))
	f.images = append(f.images, counts)
	if f.calls >= len(f.responses) {
		return `{"product_clusters": []}`, llm.Usage{}, nil
	}
	response := f.responses[f.calls]
	f.calls++
	return response, llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}, nil
}

// testAnalyzer wires an analyzer whose frame hashing and reading never
// touch real files: the hash is derived from the frame's position.
func testAnalyzer(t *testing.T, scanner barcodeScanner, model llm.VisionCompleter, cache *visioncache.Cache, hashes map[string]uint64) *Analyzer {
	t.Helper()
	a, err := NewAnalyzer(scanner, model, "test-model", cache, 4, nil)
	if err != nil {
		t.Fatalf("NewAnalyzer: %v", err)
	}
	a.hashFile = func(path string) (uint64, error) {
		return hashes[filepath.Base(path)], nil
	}
	a.readFile = func(path string) ([]byte, error) {
		return []byte("img:" + path), nil
	}
	return a
}

func frames(names ...string) []string { return names }

func TestBarcodeShortCircuitSkipsRecognition(t *testing.T) {
	scanner := &fakeScanner{hitAt: 3, value: "4006381333931"}
	model := &fakeVisionModel{}
	a := testAnalyzer(t, scanner, model, nil, nil)

	analysis, err := a.AnalyzeSegment(context.Background(), frames("f1", "f2", "f3", "f4", "f5"))
	if err != nil {
		t.Fatalf("AnalyzeSegment: %v", err)
	}
	if analysis.MatchType != MatchBarcode || analysis.Barcode != "4006381333931" {
		t.Fatalf("unexpected analysis %+v", analysis)
	}
	if scanner.scanned != 3 || analysis.FramesScanned != 3 {
		t.Fatalf("expected exactly 3 frames scanned, got %d/%d", scanner.scanned, analysis.FramesScanned)
	}
	if model.calls != 0 {
		t.Fatalf("barcode hit must skip all model calls, saw %d", model.calls)
	}
	if len(analysis.Results) != 0 {
		t.Fatalf("barcode segment carries no recognition results, got %v", analysis.Results)
	}
}

func TestTwoPhaseRecognition(t *testing.T) {
	// Frames split into two clusters: f1/f2 near zero, f3/f4 near the
	// high bits. Phase one flags only cluster 0; phase two recognizes it.
	hashes := map[string]uint64{
		"f1": 0x0, "f2": 0x1,
		"f3": 0xFF00000000000000, "f4": 0xFE00000000000000,
	}
	model := &fakeVisionModel{responses: []string{
		`{"product_clusters": [0]}`,
		`{"brand": "Acme", "product_name": "Face Cream", "search_terms": ["acme face cream"]}`,
	}}
	a := testAnalyzer(t, &fakeScanner{}, model, nil, hashes)

	analysis, err := a.AnalyzeSegment(context.Background(), frames("f1", "f2", "f3", "f4"))
	if err != nil {
		t.Fatalf("AnalyzeSegment: %v", err)
	}
	if analysis.MatchType != MatchVisual {
		t.Fatalf("expected visual segment, got %+v", analysis)
	}
	if len(analysis.Results) != 1 {
		t.Fatalf("expected one result, got %v", analysis.Results)
	}
	result := analysis.Results[0]
	if result.Brand != "Acme" || result.ProductName != "Face Cream" || result.ClusterID != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if model.calls != 2 {
		t.Fatalf("expected classify + one recognize call, got %d", model.calls)
	}
	if analysis.Usage.TotalTokens != 240 {
		t.Fatalf("usage must accumulate both calls, got %+v", analysis.Usage)
	}
	// The unflagged cluster must never reach phase two.
	if !strings.Contains(model.prompts[0], "0, 1") {
		t.Fatalf("classification prompt should list both clusters, got %q", model.prompts[0])
	}
}

func TestPhaseTwoCapsFramesAtFour(t *testing.T) {
	hashes := make(map[string]uint64)
	names := make([]string, 0, 8)
	for _, n := range []string{"f1", "f2", "f3", "f4", "f5", "f6", "f7", "f8"} {
		hashes[n] = 0 // one big cluster
		names = append(names, n)
	}
	model := &fakeVisionModel{responses: []string{
		`{"product_clusters": [0]}`,
		`{"brand": "Acme", "product_name": "", "search_terms": []}`,
	}}
	a := testAnalyzer(t, &fakeScanner{}, model, nil, hashes)

	if _, err := a.AnalyzeSegment(context.Background(), names); err != nil {
		t.Fatalf("AnalyzeSegment: %v", err)
	}
	if len(model.images) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(model.images))
	}
	if got := model.images[1][0]; got != 4 {
		t.Fatalf("recognition call must carry at most 4 frames, got %d", got)
	}
}

func TestUnflaggedClustersYieldNoResults(t *testing.T) {
	hashes := map[string]uint64{"f1": 0, "f2": 0xFFFFFFFFFFFFFFFF}
	model := &fakeVisionModel{responses: []string{`{"product_clusters": []}`}}
	a := testAnalyzer(t, &fakeScanner{}, model, nil, hashes)

	analysis, err := a.AnalyzeSegment(context.Background(), frames("f1", "f2"))
	if err != nil {
		t.Fatalf("AnalyzeSegment: %v", err)
	}
	if len(analysis.Results) != 0 {
		t.Fatalf("expected no results, got %v", analysis.Results)
	}
	if model.calls != 1 {
		t.Fatalf("expected only the classification call, got %d", model.calls)
	}
}

func TestMalformedClassificationFlagsNothing(t *testing.T) {
	hashes := map[string]uint64{"f1": 0}
	model := &fakeVisionModel{responses: []string{"this is not json"}}
	a := testAnalyzer(t, &fakeScanner{}, model, nil, hashes)

	analysis, err := a.AnalyzeSegment(context.Background(), frames("f1"))
	if err != nil {
		t.Fatalf("malformed output must not crash: %v", err)
	}
	if len(analysis.Results) != 0 || model.calls != 1 {
		t.Fatalf("expected no results and no phase-two call, got %+v calls=%d", analysis, model.calls)
	}
}

func TestEmptyRecognitionYieldsNoResult(t *testing.T) {
	hashes := map[string]uint64{"f1": 0}
	model := &fakeVisionModel{responses: []string{
		`{"product_clusters": [0]}`,
		`{"brand": "", "product_name": "", "search_terms": []}`,
	}}
	a := testAnalyzer(t, &fakeScanner{}, model, nil, hashes)

	analysis, err := a.AnalyzeSegment(context.Background(), frames("f1"))
	if err != nil {
		t.Fatalf("AnalyzeSegment: %v", err)
	}
	if len(analysis.Results) != 0 {
		t.Fatalf("cluster with neither field populated yields no result, got %v", analysis.Results)
	}
}

func TestCacheHitSkipsModelEntirely(t *testing.T) {
	cache, err := visioncache.Open(filepath.Join(t.TempDir(), "vision.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Store(ctx, visioncache.Entry{
		Hash:          0x42,
		Model:         "test-model",
		ProductLikely: true,
		Brand:         "Acme",
		ProductName:   "Face Cream",
		SearchTerms:   []string{"acme face cream"},
	}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	hashes := map[string]uint64{"f1": 0x42}
	model := &fakeVisionModel{}
	a := testAnalyzer(t, &fakeScanner{}, model, cache, hashes)

	analysis, err := a.AnalyzeSegment(ctx, frames("f1"))
	if err != nil {
		t.Fatalf("AnalyzeSegment: %v", err)
	}
	if len(analysis.Results) != 1 || !analysis.Results[0].FromCache {
		t.Fatalf("expected cached result, got %v", analysis.Results)
	}
	if analysis.Results[0].Brand != "Acme" {
		t.Fatalf("unexpected cached result %+v", analysis.Results[0])
	}
	if model.calls != 0 {
		t.Fatalf("cache hit must skip both phases, saw %d calls", model.calls)
	}
}

func TestNegativeCacheHitSkipsPhases(t *testing.T) {
	cache, err := visioncache.Open(filepath.Join(t.TempDir(), "vision.db"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Store(ctx, visioncache.Entry{Hash: 0x42, Model: "test-model", ProductLikely: false}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	model := &fakeVisionModel{}
	a := testAnalyzer(t, &fakeScanner{}, model, cache, map[string]uint64{"f1": 0x42})

	analysis, err := a.AnalyzeSegment(ctx, frames("f1"))
	if err != nil {
		t.Fatalf("AnalyzeSegment: %v", err)
	}
	if len(analysis.Results) != 0 || model.calls != 0 {
		t.Fatalf("negative cache entry must suppress model calls, got %+v calls=%d", analysis, model.calls)
	}
}

func TestNewAnalyzerValidatesThreshold(t *testing.T) {
	for _, threshold := range []int{0, -1, 65} {
		if _, err := NewAnalyzer(&fakeScanner{}, &fakeVisionModel{}, "m", nil, threshold, nil); err == nil {
			t.Fatalf("threshold %d should be rejected", threshold)
		}
	}
}

func TestEmptyFrameListIsVisualNoop(t *testing.T) {
	model := &fakeVisionModel{}
	a := testAnalyzer(t, &fakeScanner{}, model, nil, nil)

	analysis, err := a.AnalyzeSegment(context.Background(), nil)
	if err != nil {
		t.Fatalf("AnalyzeSegment: %v", err)
	}
	if analysis.MatchType != MatchVisual || len(analysis.Results) != 0 || model.calls != 0 {
		t.Fatalf("unexpected analysis %+v", analysis)
	}
}
