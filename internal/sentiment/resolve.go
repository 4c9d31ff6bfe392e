package sentiment

import (
	"context"

	"shelfscan/internal/jobstore"
	"shelfscan/internal/recognition"
	"shelfscan/internal/services"
)

// ProductFinder is the slice of the job store product resolution needs.
type ProductFinder interface {
	FindProductByGTIN(ctx context.Context, gtin string) (*jobstore.Product, error)
	SearchProducts(ctx context.Context, name string, limit int) ([]jobstore.Product, error)
}

const productSearchLimit = 1

// ResolveProducts maps a segment's analysis to catalog products. Barcode
// segments resolve by exact GTIN; visual segments resolve each recognition
// result best-effort by product name, then by its search terms, first hit
// winning. Results that resolve to the same product are deduplicated.
func ResolveProducts(ctx context.Context, store ProductFinder, analysis *recognition.SegmentAnalysis) ([]jobstore.Product, error) {
	if analysis == nil {
		return nil, nil
	}

	if analysis.MatchType == recognition.MatchBarcode {
		if analysis.Barcode == "" {
			return nil, nil
		}
		product, err := store.FindProductByGTIN(ctx, analysis.Barcode)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "sentiment", "resolve product", "gtin lookup", err)
		}
		if product == nil {
			return nil, nil
		}
		return []jobstore.Product{*product}, nil
	}

	var products []jobstore.Product
	seen := make(map[string]bool)
	for _, result := range analysis.Results {
		product, err := resolveVisualResult(ctx, store, result)
		if err != nil {
			return nil, err
		}
		if product == nil || seen[product.ID] {
			continue
		}
		seen[product.ID] = true
		products = append(products, *product)
	}
	return products, nil
}

func resolveVisualResult(ctx context.Context, store ProductFinder, result recognition.Result) (*jobstore.Product, error) {
	queries := make([]string, 0, len(result.SearchTerms)+1)
	if result.ProductName != "" {
		queries = append(queries, result.ProductName)
	}
	queries = append(queries, result.SearchTerms...)

	for _, query := range queries {
		if query == "" {
			continue
		}
		hits, err := store.SearchProducts(ctx, query, productSearchLimit)
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "sentiment", "resolve product", "name search", err)
		}
		if len(hits) > 0 {
			return &hits[0], nil
		}
	}
	return nil, nil
}
