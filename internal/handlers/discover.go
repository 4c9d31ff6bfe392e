package handlers

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"shelfscan/internal/drivers"
	"shelfscan/internal/jobstore"
	"shelfscan/internal/logging"
	"shelfscan/internal/services"
)

const discoverItemConcurrency = 4

// discoverStore is the slice of the job store discovery needs.
type discoverStore interface {
	FindProductByGTIN(ctx context.Context, gtin string) (*jobstore.Product, error)
	CreateJob(ctx context.Context, jobType jobstore.Type, cursor any) (*jobstore.Job, error)
}

// DiscoverHandler pages through a source via its capability driver and
// enqueues one crawl job per newly discovered product.
type DiscoverHandler struct {
	store   discoverStore
	drivers *drivers.Registry
	logger  *slog.Logger
}

// NewDiscoverHandler constructs the discover_products handler.
func NewDiscoverHandler(store discoverStore, registry *drivers.Registry, logger *slog.Logger) *DiscoverHandler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &DiscoverHandler{
		store:   store,
		drivers: registry,
		logger:  logging.NewComponentLogger(logger, "discover"),
	}
}

func (h *DiscoverHandler) Type() jobstore.Type { return jobstore.TypeDiscoverProducts }

// Handle resumes paging from the cursor. Each page's items are processed
// concurrently; the cursor advances one page per submission so a crash
// repeats at most one page.
func (h *DiscoverHandler) Handle(ctx context.Context, handle JobHandle) error {
	raw, err := jobstore.DecodeCursor(handle.Job())
	if err != nil {
		return services.Wrap(services.ErrValidation, "discover", "cursor", "", err)
	}
	cursor := raw.(jobstore.DiscoverCursor)
	if cursor.SourceURL == "" {
		return services.Wrap(services.ErrValidation, "discover", "cursor", "missing source url", nil)
	}

	driver, err := h.drivers.For(cursor.SourceURL)
	if err != nil {
		return services.Wrap(services.ErrValidation, "discover", "route", "", err)
	}

	for {
		page, err := driver.DiscoverPage(ctx, cursor.SourceURL, cursor.DriverProgress)
		if err != nil {
			return services.Wrap(services.ErrTransient, "discover", "page", cursor.SourceURL, err)
		}

		batch := h.processPage(ctx, page.Items)
		cursor.PageIndex++
		cursor.DriverProgress = page.Progress
		batch.Cursor = cursor

		logging.WithContext(ctx, h.logger).Info("discovered page",
			logging.String(logging.FieldSourceURL, cursor.SourceURL),
			logging.Int("page", cursor.PageIndex),
			logging.Int("items", len(page.Items)),
			logging.Int("created", batch.Created),
			logging.Int("existing", batch.Existing))

		if page.Done {
			return handle.Complete(ctx, batch)
		}
		// Pages with nothing to report do not produce an empty batch; the
		// cursor catches up with the next non-empty submission.
		if batchEmpty(batch) {
			continue
		}
		if err := handle.Submit(ctx, batch); err != nil {
			return err
		}
	}
}

// processPage fans items out over a bounded worker group. One item's
// failure lands in the batch's item errors; the rest of the page proceeds.
func (h *DiscoverHandler) processPage(ctx context.Context, items []drivers.Item) jobstore.Submission {
	var mu sync.Mutex
	var batch jobstore.Submission

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(discoverItemConcurrency)
	for _, item := range items {
		group.Go(func() error {
			created, err := h.processItem(groupCtx, item)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				batch.ItemErrors = append(batch.ItemErrors, jobstore.ItemError{
					Item:    item.URL,
					Kind:    services.Kind(err),
					Message: err.Error(),
				})
			case created:
				batch.Created++
			default:
				batch.Existing++
			}
			return nil
		})
	}
	_ = group.Wait()
	return batch
}

// processItem reports whether a crawl job was enqueued for the item; false
// means the product is already in the catalog.
func (h *DiscoverHandler) processItem(ctx context.Context, item drivers.Item) (bool, error) {
	if item.GTIN != "" {
		product, err := h.store.FindProductByGTIN(ctx, item.GTIN)
		if err != nil {
			return false, err
		}
		if product != nil {
			return false, nil
		}
	}
	_, err := h.store.CreateJob(ctx, jobstore.TypeCrawlProduct, jobstore.CrawlCursor{
		ProductURL: item.URL,
		GTIN:       item.GTIN,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func batchEmpty(batch jobstore.Submission) bool {
	return batch.Created == 0 && batch.Existing == 0 && len(batch.ItemErrors) == 0 && batch.TokensUsed == 0
}
