package jobstore

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Entity collections. The matcher and crawl handler only ever touch these
// through the typed methods below.
const (
	CollectionProducts    = "products"
	CollectionBrands      = "brands"
	CollectionIngredients = "ingredients"
	CollectionCategories  = "categories"
	CollectionMentions    = "mentions"
)

// Brand is a canonical brand row.
type Brand struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ingredient is a canonical ingredient row. Ingredient matching never
// creates rows; unmatched stays unmatched.
type Ingredient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Category is a hierarchy node, unique on (name, parent).
type Category struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent,omitempty"`
}

// Product is a catalog product row.
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	GTIN        string   `json:"gtin,omitempty"`
	BrandID     string   `json:"brand,omitempty"`
	CategoryID  string   `json:"category,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
	SearchTerms []string `json:"search_terms,omitempty"`
	Ingredients []string `json:"ingredients,omitempty"`
}

// Mention is one reported product mention within a processed video segment.
type Mention struct {
	ID           string    `json:"id,omitempty"`
	VideoURL     string    `json:"video_url"`
	ProductID    string    `json:"product,omitempty"`
	SegmentStart float64   `json:"segment_start"`
	SegmentEnd   float64   `json:"segment_end"`
	MatchType    string    `json:"match_type"`
	Barcode      string    `json:"barcode,omitempty"`
	Brand        string    `json:"brand,omitempty"`
	ProductName  string    `json:"product_name,omitempty"`
	Sentiment    string    `json:"sentiment,omitempty"`
	Score        float64   `json:"score,omitempty"`
	Quotes       []Quote   `json:"quotes,omitempty"`
	MediaID      string    `json:"media,omitempty"`
	ReportedAt   time.Time `json:"reported_at,omitempty"`
}

// Quote is a sentiment-bearing excerpt attached to a mention.
type Quote struct {
	Text      string  `json:"text"`
	Sentiment string  `json:"sentiment"`
	Score     float64 `json:"score"`
}

type listQuery struct {
	filter string
	search string
	parent *string
	limit  int
}

func (c *Client) list(ctx context.Context, collection string, q listQuery, out any) error {
	values := url.Values{}
	if q.filter != "" {
		values.Set("filter", q.filter)
	}
	if q.search != "" {
		values.Set("search", q.search)
	}
	if q.parent != nil {
		values.Set("parent", *q.parent)
	}
	if q.limit > 0 {
		values.Set("limit", strconv.Itoa(q.limit))
	}
	path := "/api/collections/" + url.PathEscape(collection) + "/records"
	if encoded := values.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) createRecord(ctx context.Context, collection string, body, out any) error {
	path := "/api/collections/" + url.PathEscape(collection) + "/records"
	return c.do(ctx, http.MethodPost, path, body, out)
}

// FindBrandsExact returns brands whose name matches exactly (store-side
// case-insensitive equality).
func (c *Client) FindBrandsExact(ctx context.Context, name string) ([]Brand, error) {
	var brands []Brand
	err := c.list(ctx, CollectionBrands, listQuery{filter: "name=" + name}, &brands)
	return brands, err
}

// SearchBrands returns fuzzy name candidates, bounded by limit.
func (c *Client) SearchBrands(ctx context.Context, name string, limit int) ([]Brand, error) {
	var brands []Brand
	err := c.list(ctx, CollectionBrands, listQuery{search: name, limit: limit}, &brands)
	return brands, err
}

// CreateBrand inserts a brand row; a unique violation surfaces as
// services.ErrConflict for the caller to adopt.
func (c *Client) CreateBrand(ctx context.Context, name string) (*Brand, error) {
	var brand Brand
	body := struct {
		Name string `json:"name"`
	}{Name: name}
	if err := c.createRecord(ctx, CollectionBrands, body, &brand); err != nil {
		return nil, err
	}
	return &brand, nil
}

// ListBrands returns the brand catalog, bounded by limit.
func (c *Client) ListBrands(ctx context.Context, limit int) ([]Brand, error) {
	var brands []Brand
	err := c.list(ctx, CollectionBrands, listQuery{limit: limit}, &brands)
	return brands, err
}

// FindIngredientsExact returns ingredients whose name matches exactly.
func (c *Client) FindIngredientsExact(ctx context.Context, name string) ([]Ingredient, error) {
	var ingredients []Ingredient
	err := c.list(ctx, CollectionIngredients, listQuery{filter: "name=" + name}, &ingredients)
	return ingredients, err
}

// SearchIngredients returns fuzzy name candidates, bounded by limit.
func (c *Client) SearchIngredients(ctx context.Context, name string, limit int) ([]Ingredient, error) {
	var ingredients []Ingredient
	err := c.list(ctx, CollectionIngredients, listQuery{search: name, limit: limit}, &ingredients)
	return ingredients, err
}

// FindCategoriesExact returns categories matching (name, parent) exactly.
// An empty parent scopes the lookup to root nodes.
func (c *Client) FindCategoriesExact(ctx context.Context, name, parentID string) ([]Category, error) {
	var categories []Category
	err := c.list(ctx, CollectionCategories, listQuery{filter: "name=" + name, parent: &parentID}, &categories)
	return categories, err
}

// SearchCategories returns fuzzy candidates scoped to one parent.
func (c *Client) SearchCategories(ctx context.Context, name, parentID string, limit int) ([]Category, error) {
	var categories []Category
	err := c.list(ctx, CollectionCategories, listQuery{search: name, parent: &parentID, limit: limit}, &categories)
	return categories, err
}

// CreateCategory inserts a category node under the given parent.
func (c *Client) CreateCategory(ctx context.Context, name, parentID string) (*Category, error) {
	var category Category
	body := struct {
		Name   string `json:"name"`
		Parent string `json:"parent,omitempty"`
	}{Name: name, Parent: parentID}
	if err := c.createRecord(ctx, CollectionCategories, body, &category); err != nil {
		return nil, err
	}
	return &category, nil
}

// FindProductByGTIN returns the product with the exact barcode value, or
// nil when none exists.
func (c *Client) FindProductByGTIN(ctx context.Context, gtin string) (*Product, error) {
	var products []Product
	if err := c.list(ctx, CollectionProducts, listQuery{filter: "gtin=" + gtin, limit: 1}, &products); err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

// SearchProducts returns fuzzy name candidates, bounded by limit.
func (c *Client) SearchProducts(ctx context.Context, name string, limit int) ([]Product, error) {
	var products []Product
	err := c.list(ctx, CollectionProducts, listQuery{search: name, limit: limit}, &products)
	return products, err
}

// CreateProduct inserts a product row.
func (c *Client) CreateProduct(ctx context.Context, product Product) (*Product, error) {
	var created Product
	if err := c.createRecord(ctx, CollectionProducts, product, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateProduct patches an existing product row.
func (c *Client) UpdateProduct(ctx context.Context, product Product) error {
	path := "/api/collections/" + CollectionProducts + "/records/" + url.PathEscape(product.ID)
	return c.do(ctx, http.MethodPatch, path, product, nil)
}

// CreateMention records one product mention extracted from a video.
func (c *Client) CreateMention(ctx context.Context, mention Mention) (*Mention, error) {
	var created Mention
	if err := c.createRecord(ctx, CollectionMentions, mention, &created); err != nil {
		return nil, err
	}
	return &created, nil
}
