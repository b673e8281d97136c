// Paperscope - Academic Paper Aggregation and Recommendation
// Copyright 2026 Paperscope contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/paperscope/paperscope

package source

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	json "github.com/goccy/go-json"

	"github.com/paperscope/paperscope/internal/config"
	"github.com/paperscope/paperscope/internal/logging"
)

// defaultCategoryTTL is how long a scraped taxonomy stays fresh when the
// config does not say otherwise.
const defaultCategoryTTL = 30 * 24 * time.Hour

// CategoryCache persists scraped category taxonomies (venue code to
// display name) in Badger. Freshness is tracked explicitly via a stored
// fetch timestamp rather than Badger entry TTLs, so an expired entry can
// still serve as a stale fallback when the refetch fails.
type CategoryCache struct {
	db  *badger.DB
	ttl time.Duration
}

// cachedTaxonomy is the stored value for one source.
type cachedTaxonomy struct {
	FetchedAt time.Time         `json:"fetched_at"`
	Entries   map[string]string `json:"entries"`
}

// NewCategoryCache opens the Badger store. An empty path opens an
// in-memory store, used by tests.
func NewCategoryCache(cfg config.CacheConfig) (*CategoryCache, error) {
	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open category cache: %w", err)
	}

	ttl := cfg.CategoryMapTTL
	if ttl <= 0 {
		ttl = defaultCategoryTTL
	}
	return &CategoryCache{db: db, ttl: ttl}, nil
}

// Close releases the Badger store.
func (c *CategoryCache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close category cache: %w", err)
	}
	return nil
}

// Resolve returns the taxonomy for a source, refetching via scrape when
// the cached copy is older than the TTL. A failed refetch falls back to
// the stale copy with a warning; with no cached copy at all the scrape
// error is returned.
func (c *CategoryCache) Resolve(ctx context.Context, source string, scrape func(context.Context) (map[string]string, error)) (map[string]string, error) {
	cached, err := c.load(source)
	if err != nil {
		return nil, err
	}

	if cached != nil && time.Since(cached.FetchedAt) < c.ttl {
		return cached.Entries, nil
	}

	entries, err := scrape(ctx)
	if err != nil {
		if cached != nil {
			logging.Warn().Err(err).Str("source", source).
				Time("fetched_at", cached.FetchedAt).
				Msg("Category taxonomy refetch failed, serving stale copy")
			return cached.Entries, nil
		}
		return nil, fmt.Errorf("failed to scrape %s taxonomy: %w", source, err)
	}

	if err := c.store(source, entries); err != nil {
		// Persisting is best-effort; the fresh copy still serves this run.
		logging.Warn().Err(err).Str("source", source).Msg("Failed to persist category taxonomy")
	}
	return entries, nil
}

func (c *CategoryCache) load(source string) (*cachedTaxonomy, error) {
	var cached *cachedTaxonomy
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(categoryKey(source))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var t cachedTaxonomy
			if err := json.Unmarshal(val, &t); err != nil {
				return err
			}
			cached = &t
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s taxonomy: %w", source, err)
	}
	return cached, nil
}

func (c *CategoryCache) store(source string, entries map[string]string) error {
	val, err := json.Marshal(cachedTaxonomy{FetchedAt: time.Now().UTC(), Entries: entries})
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(categoryKey(source), val)
	})
}

func categoryKey(source string) []byte {
	return []byte("categories/" + source)
}
