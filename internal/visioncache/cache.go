package visioncache

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"shelfscan/internal/media/phash"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema
// changes; stale cache databases are rebuilt, not migrated.
const schemaVersion = 1

// ErrSchemaMismatch indicates the cache database was written by a
// different schema version.
var ErrSchemaMismatch = errors.New("vision cache schema mismatch")

// Entry is one cached recognition outcome for a representative hash.
type Entry struct {
	Hash          uint64
	Model         string
	ProductLikely bool
	Brand         string
	ProductName   string
	SearchTerms   []string
	CreatedAt     time.Time
}

// Cache is a SQLite-backed recognition cache. A nil *Cache is valid and
// behaves as an always-miss cache.
type Cache struct {
	db *sql.DB
}

// Open initializes or connects to the cache database at path.
func Open(path string) (*Cache, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("vision cache: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("vision cache: create dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vision cache: open: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("vision cache: apply pragma %q: %w", pragma, execErr)
		}
	}

	cache := &Cache{db: db}
	if err := cache.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) initSchema(ctx context.Context) error {
	var tableExists int
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("vision cache: check schema_version: %w", err)
	}
	if tableExists == 0 {
		if _, err := c.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("vision cache: create schema: %w", err)
		}
		return nil
	}

	var version int
	if err := c.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("vision cache: read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the cache file)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Store upserts one entry.
func (c *Cache) Store(ctx context.Context, entry Entry) error {
	if c == nil {
		return nil
	}
	terms, err := json.Marshal(entry.SearchTerms)
	if err != nil {
		return fmt.Errorf("vision cache: marshal terms: %w", err)
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO vision_results (hash, model, product_likely, brand, product_name, search_terms, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(hash, model) DO UPDATE SET
             product_likely = excluded.product_likely,
             brand = excluded.brand,
             product_name = excluded.product_name,
             search_terms = excluded.search_terms,
             created_at = excluded.created_at`,
		int64(entry.Hash),
		entry.Model,
		boolToInt(entry.ProductLikely),
		entry.Brand,
		entry.ProductName,
		string(terms),
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("vision cache: store: %w", err)
	}
	return nil
}

// Lookup returns the entry with the exact hash for the given model, or nil
// on a miss.
func (c *Cache) Lookup(ctx context.Context, hash uint64, model string) (*Entry, error) {
	if c == nil {
		return nil, nil
	}
	row := c.db.QueryRowContext(ctx,
		`SELECT hash, model, product_likely, brand, product_name, search_terms, created_at
         FROM vision_results WHERE hash = ? AND model = ?`,
		int64(hash), model)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vision cache: lookup: %w", err)
	}
	return entry, nil
}

// LookupNear returns the stored entry whose hash is closest to the given
// one within maxDistance, or nil when nothing is near enough. Distance is
// hamming over the 64-bit hashes; ties go to the smaller distance found
// first in storage order.
func (c *Cache) LookupNear(ctx context.Context, hash uint64, model string, maxDistance int) (*Entry, error) {
	if c == nil {
		return nil, nil
	}
	if exact, err := c.Lookup(ctx, hash, model); err != nil || exact != nil {
		return exact, err
	}
	if maxDistance <= 0 {
		return nil, nil
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT hash, model, product_likely, brand, product_name, search_terms, created_at
         FROM vision_results WHERE model = ? ORDER BY created_at, hash`,
		model)
	if err != nil {
		return nil, fmt.Errorf("vision cache: lookup near: %w", err)
	}
	defer rows.Close()

	var best *Entry
	bestDistance := maxDistance + 1
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("vision cache: lookup near: %w", err)
		}
		if d := phash.Distance(hash, entry.Hash); d < bestDistance {
			best = entry
			bestDistance = d
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vision cache: lookup near: %w", err)
	}
	return best, nil
}

// Count returns the number of cached entries.
func (c *Cache) Count(ctx context.Context) (int, error) {
	if c == nil {
		return 0, nil
	}
	var count int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM vision_results").Scan(&count); err != nil {
		return 0, fmt.Errorf("vision cache: count: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		rawHash    int64
		entry      Entry
		likely     int
		terms      string
		createdRaw string
	)
	if err := row.Scan(&rawHash, &entry.Model, &likely, &entry.Brand, &entry.ProductName, &terms, &createdRaw); err != nil {
		return nil, err
	}
	entry.Hash = uint64(rawHash)
	entry.ProductLikely = likely != 0
	if err := json.Unmarshal([]byte(terms), &entry.SearchTerms); err != nil {
		return nil, fmt.Errorf("decode search terms: %w", err)
	}
	if parsed, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		entry.CreatedAt = parsed
	}
	return &entry, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
