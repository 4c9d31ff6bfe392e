package jsonfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "0":
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"url": "http://" + r.Host + "/items/1", "name": "Acme Cream", "gtin": "111"},
				},
				"next_page": 1,
			})
		case "1":
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{
					{"url": "http://" + r.Host + "/items/2", "name": "Acme Scrub", "gtin": "222"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/items/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"url":         "http://" + r.Host + "/items/1",
			"name":        "Acme Cream",
			"brand":       "Acme",
			"gtin":        "111",
			"breadcrumb":  []string{"Beauty", "Skin Care"},
			"ingredients": []string{"Aqua", "Glycerin"},
		})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestMatchesFeedScheme(t *testing.T) {
	driver := New()
	cases := []struct {
		url  string
		want bool
	}{
		{"jsonfeed+https://shop.test/feed", true},
		{"jsonfeed+http://shop.test/feed", true},
		{"https://shop.test/feed", false},
		{"jsonfeed+ftp://shop.test/feed", false},
	}
	for _, tc := range cases {
		if got := driver.Matches(tc.url); got != tc.want {
			t.Errorf("Matches(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestDiscoverPagesThroughFeed(t *testing.T) {
	server := feedServer(t)
	driver := New(WithHTTPClient(server.Client()))
	sourceURL := "jsonfeed+" + server.URL + "/feed"

	first, err := driver.DiscoverPage(context.Background(), sourceURL, nil)
	if err != nil {
		t.Fatalf("DiscoverPage: %v", err)
	}
	if len(first.Items) != 1 || first.Items[0].GTIN != "111" {
		t.Fatalf("unexpected first page: %+v", first.Items)
	}
	if first.Done {
		t.Fatal("first page must not be final")
	}
	if first.Items[0].URL != "jsonfeed+"+server.URL+"/items/1" {
		t.Fatalf("item urls must stay feed-addressable, got %q", first.Items[0].URL)
	}

	second, err := driver.DiscoverPage(context.Background(), sourceURL, first.Progress)
	if err != nil {
		t.Fatalf("DiscoverPage page 2: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].GTIN != "222" {
		t.Fatalf("unexpected second page: %+v", second.Items)
	}
	if !second.Done {
		t.Fatal("second page must be final")
	}
}

func TestCrawlItemFetchesDetail(t *testing.T) {
	server := feedServer(t)
	driver := New(WithHTTPClient(server.Client()))

	item, err := driver.CrawlItem(context.Background(), "jsonfeed+"+server.URL+"/items/1")
	if err != nil {
		t.Fatalf("CrawlItem: %v", err)
	}
	if item.Name != "Acme Cream" || item.Brand != "Acme" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if len(item.Breadcrumb) != 2 || len(item.Ingredients) != 2 {
		t.Fatalf("detail fields missing: %+v", item)
	}
}

func TestErrorStatusIsNotRetried(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "nope", http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	driver := New(WithHTTPClient(server.Client()))
	if _, err := driver.CrawlItem(context.Background(), "jsonfeed+"+server.URL+"/items/1"); err == nil {
		t.Fatal("expected error for status 403")
	}
	if hits != 1 {
		t.Fatalf("status errors are permanent, expected 1 hit, got %d", hits)
	}
}

func TestRejectsForeignURL(t *testing.T) {
	driver := New()
	if _, err := driver.CrawlItem(context.Background(), "https://shop.test/items/1"); err == nil {
		t.Fatal("expected error for non-feed url")
	}
}
