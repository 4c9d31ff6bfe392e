package drivers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Item is one discovered or crawled product as the source site presents it.
type Item struct {
	URL         string
	Name        string
	Brand       string
	GTIN        string
	Breadcrumb  []string
	Ingredients []string
	ImageURL    string
}

// Page is one batch of discovered items plus the opaque progress needed to
// fetch the next batch. Done marks the final page.
type Page struct {
	Items    []Item
	Progress json.RawMessage
	Done     bool
}

// Driver is the narrow contract a source implementation satisfies.
type Driver interface {
	// Name identifies the driver in logs and cursors.
	Name() string
	// Matches reports whether this driver handles the given source URL.
	Matches(url string) bool
	// DiscoverPage fetches the next page of items. progress is the opaque
	// state from the previous page; nil starts from the beginning.
	DiscoverPage(ctx context.Context, sourceURL string, progress json.RawMessage) (*Page, error)
	// CrawlItem fetches full details for a single product page.
	CrawlItem(ctx context.Context, itemURL string) (*Item, error)
}

// Registry routes source URLs to registered drivers, first match wins.
type Registry struct {
	mu      sync.RWMutex
	drivers []Driver
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a driver. Registration order is routing order.
func (r *Registry) Register(driver Driver) {
	if driver == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers = append(r.drivers, driver)
}

// For returns the first driver claiming the URL.
func (r *Registry) For(url string) (Driver, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, fmt.Errorf("drivers: empty source url")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, driver := range r.drivers {
		if driver.Matches(url) {
			return driver, nil
		}
	}
	return nil, fmt.Errorf("drivers: no driver for %s", url)
}

// Names lists registered drivers in routing order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for _, driver := range r.drivers {
		names = append(names, driver.Name())
	}
	return names
}
