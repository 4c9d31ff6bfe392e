package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
	"shelfscan/internal/services"
)

type fakeStore struct {
	mu          sync.Mutex
	brands      []jobstore.Brand
	ingredients []jobstore.Ingredient
	categories  []jobstore.Category

	brandCreates    int
	categoryCreates int

	// Simulates a concurrent writer winning the insert race: the create
	// call fails with a conflict after the winning row appears.
	brandConflict bool

	// Hides brand rows from the next n exact lookups, simulating a row
	// inserted by another writer between lookup and create.
	hideBrandExact int
	hideBrandFuzzy bool
}

func (f *fakeStore) FindBrandsExact(_ context.Context, name string) ([]jobstore.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hideBrandExact > 0 {
		f.hideBrandExact--
		return nil, nil
	}
	var out []jobstore.Brand
	for _, b := range f.brands {
		if strings.EqualFold(b.Name, name) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) SearchBrands(_ context.Context, name string, limit int) ([]jobstore.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hideBrandFuzzy {
		return nil, nil
	}
	var out []jobstore.Brand
	for _, b := range f.brands {
		if containsFold(b.Name, name) || containsFold(name, b.Name) {
			out = append(out, b)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CreateBrand(_ context.Context, name string) (*jobstore.Brand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brandCreates++
	if f.brandConflict {
		f.brands = append(f.brands, jobstore.Brand{ID: "winner", Name: name})
		return nil, services.ErrConflict
	}
	brand := jobstore.Brand{ID: "brand-created", Name: name}
	f.brands = append(f.brands, brand)
	return &brand, nil
}

func (f *fakeStore) FindIngredientsExact(_ context.Context, name string) ([]jobstore.Ingredient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jobstore.Ingredient
	for _, ing := range f.ingredients {
		if strings.EqualFold(ing.Name, name) {
			out = append(out, ing)
		}
	}
	return out, nil
}

func (f *fakeStore) SearchIngredients(_ context.Context, name string, limit int) ([]jobstore.Ingredient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jobstore.Ingredient
	for _, ing := range f.ingredients {
		if containsFold(ing.Name, name) || containsFold(name, ing.Name) {
			out = append(out, ing)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) FindCategoriesExact(_ context.Context, name, parentID string) ([]jobstore.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jobstore.Category
	for _, c := range f.categories {
		if c.ParentID == parentID && strings.EqualFold(c.Name, name) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) SearchCategories(_ context.Context, name, parentID string, limit int) ([]jobstore.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []jobstore.Category
	for _, c := range f.categories {
		if c.ParentID == parentID && containsFold(c.Name, name) {
			out = append(out, c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) CreateCategory(_ context.Context, name, parentID string) (*jobstore.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categoryCreates++
	category := jobstore.Category{ID: "cat-" + name + "-" + parentID, Name: name, ParentID: parentID}
	f.categories = append(f.categories, category)
	return &category, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

type fakeModel struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	calls     int
	err       error
}

func (f *fakeModel) CompleteJSON(_ context.Context, _, userPrompt string) (string, llm.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, userPrompt)
	if f.err != nil {
		return "", llm.Usage{}, f.err
	}
	if f.calls >= len(f.responses) {
		return "", llm.Usage{}, errors.New("fake model: no scripted response left")
	}
	response := f.responses[f.calls]
	f.calls++
	return response, llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, nil
}

func (f *fakeModel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeModel) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func TestResolveBrandExactMatchSkipsModel(t *testing.T) {
	store := &fakeStore{brands: []jobstore.Brand{{ID: "b1", Name: "Acme"}}}
	model := &fakeModel{}
	m := New(store, model, nil)

	for range 2 {
		result, usage, err := m.ResolveBrand(context.Background(), "  acme ")
		if err != nil {
			t.Fatalf("ResolveBrand: %v", err)
		}
		if result.ID != "b1" || result.Created {
			t.Fatalf("unexpected result %+v", result)
		}
		if usage.TotalTokens != 0 {
			t.Fatalf("exact match should not consume tokens, got %+v", usage)
		}
	}
	if model.callCount() != 0 {
		t.Fatalf("model called %d times on exact path", model.callCount())
	}
	if store.brandCreates != 0 {
		t.Fatalf("exact path must be side-effect-free, saw %d creates", store.brandCreates)
	}
}

func TestResolveBrandSingleFuzzyCandidateAutoMatches(t *testing.T) {
	store := &fakeStore{brands: []jobstore.Brand{{ID: "b1", Name: "Acme Cosmetics"}}}
	model := &fakeModel{}
	m := New(store, model, nil)

	result, _, err := m.ResolveBrand(context.Background(), "Acme")
	if err != nil {
		t.Fatalf("ResolveBrand: %v", err)
	}
	if result.ID != "b1" {
		t.Fatalf("expected auto-match to b1, got %+v", result)
	}
	if model.callCount() != 0 {
		t.Fatal("single candidate must not reach the model")
	}
}

func TestResolveBrandAmbiguousUsesModel(t *testing.T) {
	store := &fakeStore{brands: []jobstore.Brand{
		{ID: "b1", Name: "Lab Series"},
		{ID: "b2", Name: "Lab Basics"},
	}}
	model := &fakeModel{responses: []string{`{"selected": "Lab Basics"}`}}
	m := New(store, model, nil)

	result, usage, err := m.ResolveBrand(context.Background(), "Lab")
	if err != nil {
		t.Fatalf("ResolveBrand: %v", err)
	}
	if result.ID != "b2" {
		t.Fatalf("expected model selection b2, got %+v", result)
	}
	if usage.TotalTokens != 15 {
		t.Fatalf("expected disambiguation usage, got %+v", usage)
	}
}

func TestResolveBrandDisambiguationOffersEveryCandidate(t *testing.T) {
	store := &fakeStore{}
	for i := 0; i < fuzzyCandidateLimit; i++ {
		store.brands = append(store.brands, jobstore.Brand{
			ID:   fmt.Sprintf("b%d", i),
			Name: fmt.Sprintf("Glow House %d", i),
		})
	}
	model := &fakeModel{responses: []string{`{"selected": "Glow House 9"}`}}
	m := New(store, model, nil)

	result, _, err := m.ResolveBrand(context.Background(), "Glow")
	if err != nil {
		t.Fatalf("ResolveBrand: %v", err)
	}
	// The last-ranked candidate must still reach the prompt and be
	// selectable; ranking orders the list, it never shortens it.
	if !strings.Contains(model.lastPrompt(), "Glow House 9") {
		t.Fatalf("expected every candidate in the prompt, got %q", model.lastPrompt())
	}
	if result.ID != "b9" {
		t.Fatalf("expected selection b9, got %+v", result)
	}
}

func TestResolveBrandModelNullStaysUnmatched(t *testing.T) {
	store := &fakeStore{brands: []jobstore.Brand{
		{ID: "b1", Name: "Lab Series"},
		{ID: "b2", Name: "Lab Basics"},
	}}
	model := &fakeModel{responses: []string{`{"selected": null}`}}
	m := New(store, model, nil)

	result, _, err := m.ResolveBrand(context.Background(), "Lab")
	if err != nil {
		t.Fatalf("ResolveBrand: %v", err)
	}
	if result.Matched() {
		t.Fatalf("null selection must stay unmatched, got %+v", result)
	}
	if store.brandCreates != 0 {
		t.Fatal("ambiguity must never create")
	}
}

func TestResolveBrandUnparsableModelOutputStaysUnmatched(t *testing.T) {
	store := &fakeStore{brands: []jobstore.Brand{
		{ID: "b1", Name: "Lab Series"},
		{ID: "b2", Name: "Lab Basics"},
	}}
	model := &fakeModel{responses: []string{"I think it might be Lab Series?"}}
	m := New(store, model, nil)

	result, _, err := m.ResolveBrand(context.Background(), "Lab")
	if err != nil {
		t.Fatalf("unparsable output must not error: %v", err)
	}
	if result.Matched() {
		t.Fatalf("unparsable output must stay unmatched, got %+v", result)
	}
}

func TestResolveBrandSelectionOutsideCandidatesIgnored(t *testing.T) {
	store := &fakeStore{brands: []jobstore.Brand{
		{ID: "b1", Name: "Lab Series"},
		{ID: "b2", Name: "Lab Basics"},
	}}
	model := &fakeModel{responses: []string{`{"selected": "Totally Different"}`}}
	m := New(store, model, nil)

	result, _, err := m.ResolveBrand(context.Background(), "Lab")
	if err != nil {
		t.Fatalf("ResolveBrand: %v", err)
	}
	if result.Matched() {
		t.Fatalf("invented name must stay unmatched, got %+v", result)
	}
}

func TestResolveBrandCreatesWhenUnknown(t *testing.T) {
	store := &fakeStore{}
	m := New(store, &fakeModel{}, nil)

	result, _, err := m.ResolveBrand(context.Background(), "Newbrand")
	if err != nil {
		t.Fatalf("ResolveBrand: %v", err)
	}
	if !result.Created || result.ID != "brand-created" {
		t.Fatalf("expected created brand, got %+v", result)
	}
	if store.brandCreates != 1 {
		t.Fatalf("expected exactly one create, got %d", store.brandCreates)
	}
}

func TestResolveBrandAdoptsConflictWinner(t *testing.T) {
	store := &fakeStore{brandConflict: true}
	m := New(store, &fakeModel{}, nil)

	result, _, err := m.ResolveBrand(context.Background(), "Newbrand")
	if err != nil {
		t.Fatalf("conflict must be adopted, not surfaced: %v", err)
	}
	if result.ID != "winner" || result.Created {
		t.Fatalf("expected adoption of the winning row, got %+v", result)
	}
}

func TestResolveBrandPreCreateRecheckAdopts(t *testing.T) {
	// The row exists but stays invisible for the first exact lookup; the
	// re-check right before create must find it and skip the insert.
	store := &fakeStore{
		brands:         []jobstore.Brand{{ID: "b1", Name: "Newbrand"}},
		hideBrandExact: 1,
		hideBrandFuzzy: true,
	}
	m := New(store, &fakeModel{}, nil)

	result, _, err := m.ResolveBrand(context.Background(), "Newbrand")
	if err != nil {
		t.Fatalf("ResolveBrand: %v", err)
	}
	if result.ID != "b1" || result.Created {
		t.Fatalf("expected adoption without create, got %+v", result)
	}
	if store.brandCreates != 0 {
		t.Fatalf("create must be skipped after re-check, saw %d", store.brandCreates)
	}
}

func TestResolveIngredientNeverCreates(t *testing.T) {
	store := &fakeStore{}
	m := New(store, &fakeModel{}, nil)

	result, _, err := m.ResolveIngredient(context.Background(), "Unobtainium Extract")
	if err != nil {
		t.Fatalf("ResolveIngredient: %v", err)
	}
	if result.Matched() {
		t.Fatalf("unknown ingredient must stay unmatched, got %+v", result)
	}
}

func TestResolveEmptyNameIsUnmatched(t *testing.T) {
	m := New(&fakeStore{}, &fakeModel{}, nil)
	result, _, err := m.ResolveBrand(context.Background(), "   ")
	if err != nil {
		t.Fatalf("ResolveBrand: %v", err)
	}
	if result.Matched() {
		t.Fatalf("blank name must stay unmatched, got %+v", result)
	}
}
