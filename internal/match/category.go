package match

import (
	"context"
	"strings"

	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
)

// ParseBreadcrumb splits a crawled breadcrumb string such as
// "Beauty -> Skin Care -> Moisturizers" into ordered path segments.
func ParseBreadcrumb(breadcrumb string) []string {
	parts := strings.Split(breadcrumb, "->")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		if segment := NormalizeName(part); segment != "" {
			segments = append(segments, segment)
		}
	}
	return segments
}

// ResolveCategoryPath walks a root-to-leaf category path, creating missing
// nodes along the way. Each segment resolves scoped to the previous
// segment's node as parent.
func (m *Matcher) ResolveCategoryPath(ctx context.Context, segments []string) (Result, llm.Usage, error) {
	return m.walkCategories(ctx, segments, true)
}

// FindCategoryPath walks a category path without creating anything. When a
// segment cannot be resolved the walk stops and the deepest resolved
// ancestor is returned.
func (m *Matcher) FindCategoryPath(ctx context.Context, segments []string) (Result, llm.Usage, error) {
	return m.walkCategories(ctx, segments, false)
}

func (m *Matcher) walkCategories(ctx context.Context, segments []string, createMissing bool) (Result, llm.Usage, error) {
	var usage llm.Usage
	var current Result
	for _, segment := range segments {
		ops := m.categoryOps(current.ID, createMissing)
		result, segmentUsage, err := m.resolve(ctx, segment, ops)
		usage.Add(segmentUsage)
		if err != nil {
			return current, usage, err
		}
		if !result.Matched() {
			// Stop here rather than fabricate a subtree under an
			// unresolved node.
			return current, usage, nil
		}
		current = result
	}
	return current, usage, nil
}

func (m *Matcher) categoryOps(parentID string, createMissing bool) entityOps {
	ops := entityOps{
		kind: "category",
		exact: func(ctx context.Context, name string) ([]candidate, error) {
			categories, err := m.store.FindCategoriesExact(ctx, name, parentID)
			return categoryCandidates(categories), err
		},
		fuzzy: func(ctx context.Context, name string, limit int) ([]candidate, error) {
			categories, err := m.store.SearchCategories(ctx, name, parentID, limit)
			return categoryCandidates(categories), err
		},
	}
	if createMissing {
		ops.create = func(ctx context.Context, name string) (candidate, error) {
			category, err := m.store.CreateCategory(ctx, name, parentID)
			if err != nil {
				return candidate{}, err
			}
			return candidate{id: category.ID, name: category.Name}, nil
		}
	}
	return ops
}

func categoryCandidates(categories []jobstore.Category) []candidate {
	out := make([]candidate, len(categories))
	for i, c := range categories {
		out[i] = candidate{id: c.ID, name: c.Name}
	}
	return out
}
