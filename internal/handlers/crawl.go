package handlers

import (
	"context"
	"errors"
	"log/slog"

	"shelfscan/internal/drivers"
	"shelfscan/internal/jobstore"
	"shelfscan/internal/llm"
	"shelfscan/internal/logging"
	"shelfscan/internal/match"
	"shelfscan/internal/services"
)

// crawlStore is the slice of the job store product crawling needs.
type crawlStore interface {
	FindProductByGTIN(ctx context.Context, gtin string) (*jobstore.Product, error)
	CreateProduct(ctx context.Context, product jobstore.Product) (*jobstore.Product, error)
	UpdateProduct(ctx context.Context, product jobstore.Product) error
}

// entityMatcher is the matcher surface the crawl handler uses.
type entityMatcher interface {
	ResolveBrand(ctx context.Context, name string) (match.Result, llm.Usage, error)
	ResolveCategoryPath(ctx context.Context, segments []string) (match.Result, llm.Usage, error)
	MatchIngredients(ctx context.Context, names []string) (map[string]match.Result, llm.Usage, error)
}

// CrawlHandler fetches one product page and upserts the catalog product,
// resolving its brand, category path, and ingredient list along the way.
type CrawlHandler struct {
	store   crawlStore
	drivers *drivers.Registry
	matcher entityMatcher
	logger  *slog.Logger
}

// NewCrawlHandler constructs the crawl_product handler.
func NewCrawlHandler(store crawlStore, registry *drivers.Registry, matcher entityMatcher, logger *slog.Logger) *CrawlHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CrawlHandler{
		store:   store,
		drivers: registry,
		matcher: matcher,
		logger:  logging.NewComponentLogger(logger, "crawl"),
	}
}

func (h *CrawlHandler) Type() jobstore.Type { return jobstore.TypeCrawlProduct }

// Handle crawls the cursor's product URL and completes the job with one
// created or one existing product.
func (h *CrawlHandler) Handle(ctx context.Context, handle JobHandle) error {
	raw, err := jobstore.DecodeCursor(handle.Job())
	if err != nil {
		return services.Wrap(services.ErrValidation, "crawl", "cursor", "", err)
	}
	cursor := raw.(jobstore.CrawlCursor)
	if cursor.ProductURL == "" {
		return services.Wrap(services.ErrValidation, "crawl", "cursor", "missing product url", nil)
	}

	driver, err := h.drivers.For(cursor.ProductURL)
	if err != nil {
		return services.Wrap(services.ErrValidation, "crawl", "route", "", err)
	}

	item, err := driver.CrawlItem(ctx, cursor.ProductURL)
	if err != nil {
		return services.Wrap(services.ErrTransient, "crawl", "fetch", cursor.ProductURL, err)
	}
	if item == nil || item.Name == "" {
		return services.Wrap(services.ErrValidation, "crawl", "fetch", "driver returned no product", nil)
	}
	gtin := cursor.GTIN
	if item.GTIN != "" {
		gtin = item.GTIN
	}

	var usage llm.Usage
	product := jobstore.Product{
		Name:      item.Name,
		GTIN:      gtin,
		SourceURL: cursor.ProductURL,
	}

	if item.Brand != "" {
		brand, brandUsage, err := h.matcher.ResolveBrand(ctx, item.Brand)
		usage.Add(brandUsage)
		if err != nil {
			return err
		}
		product.BrandID = brand.ID
	}

	if segments := item.Breadcrumb; len(segments) > 0 {
		category, categoryUsage, err := h.matcher.ResolveCategoryPath(ctx, segments)
		usage.Add(categoryUsage)
		if err != nil {
			return err
		}
		product.CategoryID = category.ID
	}

	var itemErrors []jobstore.ItemError
	if len(item.Ingredients) > 0 {
		results, matchUsage, err := h.matcher.MatchIngredients(ctx, item.Ingredients)
		usage.Add(matchUsage)
		if err != nil {
			return err
		}
		for _, name := range item.Ingredients {
			result, ok := results[match.NormalizeName(name)]
			if !ok || !result.Matched() {
				itemErrors = append(itemErrors, jobstore.ItemError{
					Item:    name,
					Kind:    "unmatched",
					Message: "no ingredient matched",
				})
				continue
			}
			product.Ingredients = append(product.Ingredients, result.ID)
		}
	}

	created, err := h.upsertProduct(ctx, product)
	if err != nil {
		return err
	}

	submission := jobstore.Submission{
		Cursor:     cursor,
		ItemErrors: itemErrors,
		TokensUsed: usage.TotalTokens,
	}
	if created {
		submission.Created = 1
	} else {
		submission.Existing = 1
	}
	logging.WithContext(ctx, h.logger).Info("crawled product",
		logging.String(logging.FieldSourceURL, cursor.ProductURL),
		logging.String("name", product.Name),
		logging.Int("ingredients", len(product.Ingredients)),
		logging.Int(logging.FieldTokensUsed, usage.TotalTokens))
	return handle.Complete(ctx, submission)
}

// upsertProduct creates the product or updates the existing row with the
// same GTIN. A create that loses a unique-violation race adopts the winner
// and updates it instead.
func (h *CrawlHandler) upsertProduct(ctx context.Context, product jobstore.Product) (bool, error) {
	if product.GTIN != "" {
		existing, err := h.store.FindProductByGTIN(ctx, product.GTIN)
		if err != nil {
			return false, services.Wrap(services.ErrTransient, "crawl", "gtin lookup", "", err)
		}
		if existing != nil {
			product.ID = existing.ID
			if err := h.store.UpdateProduct(ctx, product); err != nil {
				return false, services.Wrap(services.ErrTransient, "crawl", "update product", "", err)
			}
			return false, nil
		}
	}

	_, err := h.store.CreateProduct(ctx, product)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, services.ErrConflict) || product.GTIN == "" {
		return false, services.Wrap(services.ErrTransient, "crawl", "create product", "", err)
	}

	winner, lookupErr := h.store.FindProductByGTIN(ctx, product.GTIN)
	if lookupErr != nil {
		return false, services.Wrap(services.ErrTransient, "crawl", "post-conflict lookup", "", lookupErr)
	}
	if winner == nil {
		return false, services.Wrap(services.ErrTransient, "crawl", "post-conflict lookup", "conflict but no row", nil)
	}
	product.ID = winner.ID
	if err := h.store.UpdateProduct(ctx, product); err != nil {
		return false, services.Wrap(services.ErrTransient, "crawl", "update product", "", err)
	}
	return false, nil
}
