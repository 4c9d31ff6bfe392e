// Package jsonfeed implements the driver contract for sources exposing the
// paged JSON product feed exchange format. Feed sources are addressed with
// a jsonfeed+https:// (or +http) URL so the registry routes them here
// without guessing at site markup.
package jsonfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shelfscan/internal/drivers"
	"shelfscan/internal/retry"
)

const (
	schemePrefix  = "jsonfeed+"
	maxBodyBytes  = 8 << 20
	clientTimeout = 30 * time.Second
)

// Driver fetches discovery pages and item details over plain HTTP. Feed
// endpoints are flaky third parties, so every fetch runs under the
// transport retry policy.
type Driver struct {
	client *http.Client
	policy retry.Policy
}

// Option customizes the driver.
type Option func(*Driver)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Driver) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the transport retry policy.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(d *Driver) {
		d.policy = policy
	}
}

// New constructs a feed driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		client: &http.Client{Timeout: clientTimeout},
		policy: retry.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Driver) Name() string { return "jsonfeed" }

func (d *Driver) Matches(sourceURL string) bool {
	return strings.HasPrefix(sourceURL, schemePrefix+"http://") ||
		strings.HasPrefix(sourceURL, schemePrefix+"https://")
}

// feedItem is the wire shape shared by listing and detail endpoints.
type feedItem struct {
	URL         string   `json:"url"`
	Name        string   `json:"name"`
	Brand       string   `json:"brand"`
	GTIN        string   `json:"gtin"`
	Breadcrumb  []string `json:"breadcrumb"`
	Ingredients []string `json:"ingredients"`
	ImageURL    string   `json:"image_url"`
}

type feedPage struct {
	Items    []feedItem `json:"items"`
	NextPage *int       `json:"next_page"`
}

type pageProgress struct {
	Page int `json:"page"`
}

// DiscoverPage fetches one listing page. Progress carries the page number;
// nil starts at page zero.
func (d *Driver) DiscoverPage(ctx context.Context, sourceURL string, progress json.RawMessage) (*drivers.Page, error) {
	endpoint, err := stripScheme(sourceURL)
	if err != nil {
		return nil, err
	}

	var position pageProgress
	if len(progress) > 0 {
		if err := json.Unmarshal(progress, &position); err != nil {
			return nil, fmt.Errorf("jsonfeed: decode progress: %w", err)
		}
	}

	pageURL, err := withPageParam(endpoint, position.Page)
	if err != nil {
		return nil, err
	}
	var listing feedPage
	if err := d.fetchJSON(ctx, pageURL, &listing); err != nil {
		return nil, err
	}

	page := &drivers.Page{
		Items: make([]drivers.Item, 0, len(listing.Items)),
		Done:  listing.NextPage == nil,
	}
	for _, item := range listing.Items {
		page.Items = append(page.Items, driverItem(item))
	}
	if listing.NextPage != nil {
		next, err := json.Marshal(pageProgress{Page: *listing.NextPage})
		if err != nil {
			return nil, fmt.Errorf("jsonfeed: encode progress: %w", err)
		}
		page.Progress = next
	}
	return page, nil
}

// CrawlItem fetches one item's detail document.
func (d *Driver) CrawlItem(ctx context.Context, itemURL string) (*drivers.Item, error) {
	endpoint, err := stripScheme(itemURL)
	if err != nil {
		return nil, err
	}
	var detail feedItem
	if err := d.fetchJSON(ctx, endpoint, &detail); err != nil {
		return nil, err
	}
	item := driverItem(detail)
	if item.URL == "" {
		item.URL = itemURL
	}
	return &item, nil
}

func (d *Driver) fetchJSON(ctx context.Context, rawURL string, out any) error {
	return d.policy.Do(ctx, "jsonfeed fetch", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := d.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			// Error statuses are permanent; only transport failures retry.
			return fmt.Errorf("jsonfeed: %s returned status %d", rawURL, resp.StatusCode)
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("jsonfeed: decode %s: %w", rawURL, err)
		}
		return nil
	})
}

func driverItem(item feedItem) drivers.Item {
	url := item.URL
	if url != "" && !strings.HasPrefix(url, schemePrefix) {
		url = schemePrefix + url
	}
	return drivers.Item{
		URL:         url,
		Name:        strings.TrimSpace(item.Name),
		Brand:       strings.TrimSpace(item.Brand),
		GTIN:        strings.TrimSpace(item.GTIN),
		Breadcrumb:  item.Breadcrumb,
		Ingredients: item.Ingredients,
		ImageURL:    item.ImageURL,
	}
}

func stripScheme(sourceURL string) (string, error) {
	if !strings.HasPrefix(sourceURL, schemePrefix) {
		return "", fmt.Errorf("jsonfeed: %q is not a feed url", sourceURL)
	}
	endpoint := strings.TrimPrefix(sourceURL, schemePrefix)
	if _, err := url.Parse(endpoint); err != nil {
		return "", fmt.Errorf("jsonfeed: parse %q: %w", sourceURL, err)
	}
	return endpoint, nil
}

func withPageParam(endpoint string, page int) (string, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("jsonfeed: parse %q: %w", endpoint, err)
	}
	query := parsed.Query()
	query.Set("page", fmt.Sprintf("%d", page))
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
