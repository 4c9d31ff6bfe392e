package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/services"
	"shelfscan/internal/textutil"
)

const fuzzyCandidateLimit = 10

// EntityStore is the slice of the job store the matcher depends on.
// *jobstore.Client satisfies it; tests use an in-memory fake.
type EntityStore interface {
	FindBrandsExact(ctx context.Context, name string) ([]jobstore.Brand, error)
	SearchBrands(ctx context.Context, name string, limit int) ([]jobstore.Brand, error)
	CreateBrand(ctx context.Context, name string) (*jobstore.Brand, error)

	FindIngredientsExact(ctx context.Context, name string) ([]jobstore.Ingredient, error)
	SearchIngredients(ctx context.Context, name string, limit int) ([]jobstore.Ingredient, error)

	FindCategoriesExact(ctx context.Context, name, parentID string) ([]jobstore.Category, error)
	SearchCategories(ctx context.Context, name, parentID string, limit int) ([]jobstore.Category, error)
	CreateCategory(ctx context.Context, name, parentID string) (*jobstore.Category, error)
}

// Result is the outcome of resolving one name. A zero ID means the name
// stayed unmatched; that is not an error.
type Result struct {
	ID      string
	Name    string
	Created bool
}

// Matched reports whether resolution produced a canonical entity.
func (r Result) Matched() bool { return r.ID != "" }

// Matcher resolves free-text names against the entity store, falling back
// to model disambiguation when a fuzzy lookup is ambiguous.
type Matcher struct {
	store  EntityStore
	model  llm.Completer
	logger *slog.Logger
}

// New constructs a matcher. A nil logger disables logging.
func New(store EntityStore, model llm.Completer, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Matcher{
		store:  store,
		model:  model,
		logger: logger.With(logging.String(logging.FieldComponent, "matcher")),
	}
}

type candidate struct {
	id   string
	name string
}

// entityOps adapts one entity collection to the shared resolution steps.
// A nil create means creation is not defined for the entity type.
type entityOps struct {
	kind   string
	exact  func(ctx context.Context, name string) ([]candidate, error)
	fuzzy  func(ctx context.Context, name string, limit int) ([]candidate, error)
	create func(ctx context.Context, name string) (candidate, error)
}

// ResolveBrand resolves a brand name, creating the brand when no candidate
// exists yet.
func (m *Matcher) ResolveBrand(ctx context.Context, name string) (Result, llm.Usage, error) {
	return m.resolve(ctx, name, m.brandOps())
}

// ResolveIngredient resolves an ingredient name. Ingredients are never
// created; an unknown name stays unmatched.
func (m *Matcher) ResolveIngredient(ctx context.Context, name string) (Result, llm.Usage, error) {
	ops := m.ingredientOps()
	return m.resolve(ctx, name, ops)
}

func (m *Matcher) brandOps() entityOps {
	return entityOps{
		kind: "brand",
		exact: func(ctx context.Context, name string) ([]candidate, error) {
			brands, err := m.store.FindBrandsExact(ctx, name)
			return brandCandidates(brands), err
		},
		fuzzy: func(ctx context.Context, name string, limit int) ([]candidate, error) {
			brands, err := m.store.SearchBrands(ctx, name, limit)
			return brandCandidates(brands), err
		},
		create: func(ctx context.Context, name string) (candidate, error) {
			brand, err := m.store.CreateBrand(ctx, name)
			if err != nil {
				return candidate{}, err
			}
			return candidate{id: brand.ID, name: brand.Name}, nil
		},
	}
}

func (m *Matcher) ingredientOps() entityOps {
	return entityOps{
		kind: "ingredient",
		exact: func(ctx context.Context, name string) ([]candidate, error) {
			ingredients, err := m.store.FindIngredientsExact(ctx, name)
			return ingredientCandidates(ingredients), err
		},
		fuzzy: func(ctx context.Context, name string, limit int) ([]candidate, error) {
			ingredients, err := m.store.SearchIngredients(ctx, name, limit)
			return ingredientCandidates(ingredients), err
		},
	}
}

// resolve runs the shared steps: exact lookup, bounded fuzzy lookup, model
// disambiguation for ambiguous candidate sets, then conditional creation.
// Creation only happens when the fuzzy lookup returned nothing at all; a
// model that declines to choose leaves the name unmatched.
func (m *Matcher) resolve(ctx context.Context, name string, ops entityOps) (Result, llm.Usage, error) {
	var usage llm.Usage
	name = NormalizeName(name)
	if name == "" {
		return Result{}, usage, nil
	}

	exact, err := ops.exact(ctx, name)
	if err != nil {
		return Result{}, usage, services.Wrap(services.ErrTransient, "match", ops.kind, "exact lookup", err)
	}
	if len(exact) == 1 {
		return Result{ID: exact[0].id, Name: exact[0].name}, usage, nil
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates, err = ops.fuzzy(ctx, name, fuzzyCandidateLimit)
		if err != nil {
			return Result{}, usage, services.Wrap(services.ErrTransient, "match", ops.kind, "fuzzy lookup", err)
		}
	}

	switch {
	case len(candidates) == 0:
		if ops.create == nil {
			return Result{}, usage, nil
		}
		result, err := m.createEntity(ctx, name, ops)
		return result, usage, err
	case len(candidates) == 1:
		return Result{ID: candidates[0].id, Name: candidates[0].name}, usage, nil
	default:
		selected, selectUsage, err := m.disambiguate(ctx, name, candidates)
		usage.Add(selectUsage)
		if err != nil {
			return Result{}, usage, err
		}
		if selected == nil {
			m.logger.Debug("ambiguous name left unmatched",
				logging.String("kind", ops.kind),
				logging.String("name", name),
				logging.Int("candidates", len(candidates)))
			return Result{}, usage, nil
		}
		return Result{ID: selected.id, Name: selected.name}, usage, nil
	}
}

// createEntity closes the create race: one more exact lookup right before
// the insert, then adoption of the existing row if the insert still loses.
func (m *Matcher) createEntity(ctx context.Context, name string, ops entityOps) (Result, error) {
	existing, err := ops.exact(ctx, name)
	if err != nil {
		return Result{}, services.Wrap(services.ErrTransient, "match", ops.kind, "pre-create lookup", err)
	}
	if len(existing) > 0 {
		return Result{ID: existing[0].id, Name: existing[0].name}, nil
	}

	created, err := ops.create(ctx, name)
	if err == nil {
		m.logger.Info("created entity",
			logging.String("kind", ops.kind),
			logging.String("name", created.name))
		return Result{ID: created.id, Name: created.name, Created: true}, nil
	}
	if !errors.Is(err, services.ErrConflict) {
		return Result{}, services.Wrap(services.ErrTransient, "match", ops.kind, "create", err)
	}

	// Lost the insert race; the winning row is what we wanted anyway.
	adopted, lookupErr := ops.exact(ctx, name)
	if lookupErr != nil {
		return Result{}, services.Wrap(services.ErrTransient, "match", ops.kind, "post-conflict lookup", lookupErr)
	}
	if len(adopted) == 0 {
		return Result{}, services.Wrap(services.ErrTransient, "match", ops.kind,
			fmt.Sprintf("conflict on create but no row found for %q", name), nil)
	}
	return Result{ID: adopted[0].id, Name: adopted[0].name}, nil
}

// disambiguate asks the model to pick one candidate for the given name.
// A nil candidate with a nil error means the model declined to choose or
// produced output that could not be parsed.
func (m *Matcher) disambiguate(ctx context.Context, name string, candidates []candidate) (*candidate, llm.Usage, error) {
	candidates = rankCandidates(name, candidates)
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.name
	}

	content, usage, err := m.model.CompleteJSON(ctx, disambiguationSystemPrompt, disambiguationUserPrompt(name, names))
	if err != nil {
		return nil, usage, services.Wrap(services.ErrTransient, "match", "disambiguate", "model call", err)
	}

	var payload struct {
		Selected *string `json:"selected"`
	}
	if err := llm.DecodeJSON(content, &payload); err != nil {
		m.logger.Warn("unparsable disambiguation response",
			logging.String("name", name),
			logging.Error(err))
		return nil, usage, nil
	}
	if payload.Selected == nil || *payload.Selected == "" {
		return nil, usage, nil
	}
	for i := range candidates {
		if equalNames(candidates[i].name, *payload.Selected) {
			return &candidates[i], usage, nil
		}
	}
	m.logger.Warn("model selected a name outside the candidate list",
		logging.String("name", name),
		logging.String("selected", *payload.Selected))
	return nil, usage, nil
}

// rankCandidates orders candidates by token similarity to the queried name
// so the likeliest options lead the prompt. Every candidate stays in the
// list; the fuzzy lookup already bounds its size. Ties keep store order,
// which is already relevance ranked.
func rankCandidates(name string, candidates []candidate) []candidate {
	if len(candidates) <= 1 {
		return candidates
	}
	query := textutil.NewFingerprint(name)
	type scored struct {
		candidate
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{candidate: c, score: textutil.CosineSimilarity(query, textutil.NewFingerprint(c.name))}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	out := make([]candidate, len(ranked))
	for i, r := range ranked {
		out[i] = r.candidate
	}
	return out
}

func brandCandidates(brands []jobstore.Brand) []candidate {
	out := make([]candidate, len(brands))
	for i, b := range brands {
		out[i] = candidate{id: b.ID, name: b.Name}
	}
	return out
}

func ingredientCandidates(ingredients []jobstore.Ingredient) []candidate {
	out := make([]candidate, len(ingredients))
	for i, ing := range ingredients {
		out[i] = candidate{id: ing.ID, name: ing.Name}
	}
	return out
}
