package match

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/services"
)

const termLookupConcurrency = 4

// MatchIngredients resolves a batch of ingredient declarations. One model
// call expands the whole batch into normalized search terms, every unique
// term is looked up concurrently, and each name resolves against the
// deduplicated union of its terms' candidates. Names the model omits fall
// back to a single term equal to the name itself.
func (m *Matcher) MatchIngredients(ctx context.Context, names []string) (map[string]Result, llm.Usage, error) {
	var usage llm.Usage
	results := make(map[string]Result, len(names))

	normalized := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		name = NormalizeName(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		normalized = append(normalized, name)
	}
	if len(normalized) == 0 {
		return results, usage, nil
	}

	termsByName, termsUsage, err := m.generateSearchTerms(ctx, normalized)
	usage.Add(termsUsage)
	if err != nil {
		return nil, usage, err
	}

	candidatesByTerm, err := m.lookupTerms(ctx, uniqueTerms(termsByName))
	if err != nil {
		return nil, usage, err
	}

	for _, name := range normalized {
		candidates := unionCandidates(termsByName[name], candidatesByTerm)
		result, resolveUsage, err := m.resolveFromCandidates(ctx, name, candidates)
		usage.Add(resolveUsage)
		if err != nil {
			return nil, usage, err
		}
		results[name] = result
	}
	return results, usage, nil
}

// generateSearchTerms asks the model to expand every name into search
// terms in a single call. An unparsable response degrades to identity
// terms instead of failing the batch.
func (m *Matcher) generateSearchTerms(ctx context.Context, names []string) (map[string][]string, llm.Usage, error) {
	content, usage, err := m.model.CompleteJSON(ctx, searchTermsSystemPrompt, searchTermsUserPrompt(names))
	if err != nil {
		return nil, usage, services.Wrap(services.ErrTransient, "match", "search terms", "model call", err)
	}

	var payload struct {
		Terms map[string][]string `json:"terms"`
	}
	if err := llm.DecodeJSON(content, &payload); err != nil {
		m.logger.Warn("unparsable search-term response, using names as terms", logging.Error(err))
		payload.Terms = nil
	}

	termsByName := make(map[string][]string, len(names))
	for _, name := range names {
		terms := payload.Terms[name]
		out := make([]string, 0, len(terms))
		for _, term := range terms {
			if term = NormalizeTerm(term); term != "" {
				out = append(out, term)
			}
		}
		if len(out) == 0 {
			out = []string{NormalizeTerm(name)}
		}
		termsByName[name] = out
	}
	return termsByName, usage, nil
}

// lookupTerms runs exact-then-fuzzy lookups for every unique term with
// bounded concurrency.
func (m *Matcher) lookupTerms(ctx context.Context, terms []string) (map[string][]candidate, error) {
	var mu sync.Mutex
	candidatesByTerm := make(map[string][]candidate, len(terms))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(termLookupConcurrency)
	for _, term := range terms {
		group.Go(func() error {
			candidates, err := m.lookupIngredientTerm(groupCtx, term)
			if err != nil {
				return err
			}
			mu.Lock()
			candidatesByTerm[term] = candidates
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return candidatesByTerm, nil
}

func (m *Matcher) lookupIngredientTerm(ctx context.Context, term string) ([]candidate, error) {
	exact, err := m.store.FindIngredientsExact(ctx, term)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "match", "ingredient", "exact term lookup", err)
	}
	if len(exact) > 0 {
		return ingredientCandidates(exact), nil
	}
	fuzzy, err := m.store.SearchIngredients(ctx, term, fuzzyCandidateLimit)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "match", "ingredient", "fuzzy term lookup", err)
	}
	return ingredientCandidates(fuzzy), nil
}

// resolveFromCandidates applies the standard candidate rules to a set that
// was produced by term lookups instead of a direct name lookup.
func (m *Matcher) resolveFromCandidates(ctx context.Context, name string, candidates []candidate) (Result, llm.Usage, error) {
	var usage llm.Usage
	switch {
	case len(candidates) == 0:
		return Result{}, usage, nil
	case len(candidates) == 1:
		return Result{ID: candidates[0].id, Name: candidates[0].name}, usage, nil
	default:
		selected, selectUsage, err := m.disambiguate(ctx, name, candidates)
		usage.Add(selectUsage)
		if err != nil || selected == nil {
			return Result{}, usage, err
		}
		return Result{ID: selected.id, Name: selected.name}, usage, nil
	}
}

func uniqueTerms(termsByName map[string][]string) []string {
	seen := make(map[string]struct{})
	for _, terms := range termsByName {
		for _, term := range terms {
			seen[term] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for term := range seen {
		out = append(out, term)
	}
	sort.Strings(out)
	return out
}

// unionCandidates merges the candidate sets of a name's terms,
// deduplicated by entity id, preserving term order.
func unionCandidates(terms []string, candidatesByTerm map[string][]candidate) []candidate {
	seen := make(map[string]struct{})
	var out []candidate
	for _, term := range terms {
		for _, c := range candidatesByTerm[term] {
			if _, dup := seen[c.id]; dup {
				continue
			}
			seen[c.id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
